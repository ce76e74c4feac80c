package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/certpipe/certpipe/internal/csvsource"
	"github.com/certpipe/certpipe/internal/domain"
	"github.com/certpipe/certpipe/internal/service"
)

// BatchSubmitter accepts a parsed batch for processing.
type BatchSubmitter interface {
	Submit(ctx context.Context, in service.SubmitInput) (*domain.Batch, error)
}

// BatchResender reissues a batch's resendable failures as a new batch.
type BatchResender interface {
	Resend(ctx context.Context, batchID string, failureIDs []string) (*domain.Batch, error)
}

// ProgressReader exposes derived batch progress and the post-run report.
type ProgressReader interface {
	GetProgress(ctx context.Context, batchID string) (service.Progress, error)
	Watch(ctx context.Context, batchID string) <-chan service.Progress
	Details(ctx context.Context, batchID string) (service.BatchDetails, error)
}

// BatchReader lists stored batches.
type BatchReader interface {
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Batch, error)
}

type BatchHandler struct {
	submitter BatchSubmitter
	resender  BatchResender
	progress  ProgressReader
	batches   BatchReader
}

func NewBatchHandler(
	submitter BatchSubmitter,
	resender BatchResender,
	progress ProgressReader,
	batches BatchReader,
) (*BatchHandler, error) {
	if submitter == nil {
		return nil, fmt.Errorf("batch submitter is required")
	}
	if resender == nil {
		return nil, fmt.Errorf("batch resender is required")
	}
	if progress == nil {
		return nil, fmt.Errorf("progress reader is required")
	}
	if batches == nil {
		return nil, fmt.Errorf("batch reader is required")
	}
	return &BatchHandler{
		submitter: submitter,
		resender:  resender,
		progress:  progress,
		batches:   batches,
	}, nil
}

func RegisterBatchRoutes(
	router fiber.Router,
	submitter BatchSubmitter,
	resender BatchResender,
	progress ProgressReader,
	batches BatchReader,
) error {
	h, err := NewBatchHandler(submitter, resender, progress, batches)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.SubmitBatch)
	v1.Get("/batches", h.ListBatches)
	v1.Get("/batches/:id", h.GetBatch)
	v1.Post("/batches/:id/resend", h.ResendBatch)
	v1.Get("/batches/:id/progress", h.GetProgress)
	v1.Get("/batches/:id/progress/stream", h.StreamProgress)
	v1.Get("/batches/:id/details", h.GetDetails)

	return nil
}

type batchResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	TotalRecords  int       `json:"totalRecords"`
	TotalChunks   int       `json:"totalChunks"`
	Progress      int       `json:"progress"`
	IsResend      bool      `json:"isResend"`
	OriginBatchID *string   `json:"originBatchId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type resendRequest struct {
	FailureIDs []string `json:"failureIds"`
}

// SubmitBatch takes a multipart form with a "csv" file part and batch
// metadata fields, validates the CSV up front and queues the batch. The
// response returns as soon as every chunk is enqueued.
func (h *BatchHandler) SubmitBatch(c *fiber.Ctx) error {
	ownerID, err := requireOwner(c)
	if err != nil {
		return err
	}

	fileHeader, err := c.FormFile("csv")
	if err != nil {
		return fmt.Errorf("%w: csv file is required", domain.ErrValidation)
	}
	file, err := fileHeader.Open()
	if err != nil {
		return fmt.Errorf("%w: csv file is not readable", domain.ErrValidation)
	}
	defer file.Close()

	records, err := csvsource.Parse(file)
	if err != nil {
		return err
	}

	batch, err := h.submitter.Submit(c.Context(), service.SubmitInput{
		Name:       strings.TrimSpace(c.FormValue("name")),
		OwnerID:    ownerID,
		TemplateID: strings.TrimSpace(c.FormValue("templateId")),
		Subject:    c.FormValue("subject"),
		Message:    c.FormValue("message"),
		EmailFrom:  strings.TrimSpace(c.FormValue("emailFrom")),
		CC:         domain.SplitAddressList(c.FormValue("cc")),
		BCC:        domain.SplitAddressList(c.FormValue("bcc")),
		Records:    records,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) ListBatches(c *fiber.Ctx) error {
	ownerID, err := requireOwner(c)
	if err != nil {
		return err
	}

	batches, err := h.batches.ListByOwner(c.Context(), ownerID)
	if err != nil {
		return err
	}

	responses := make([]batchResponse, 0, len(batches))
	for i := range batches {
		responses = append(responses, toBatchResponse(&batches[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	batch, err := h.batches.GetByID(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) ResendBatch(c *fiber.Ctx) error {
	var req resendRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	batch, err := h.resender.Resend(c.Context(), strings.TrimSpace(c.Params("id")), req.FailureIDs)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) GetProgress(c *fiber.Ctx) error {
	progress, err := h.progress.GetProgress(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(progress)
}

// StreamProgress emits progress snapshots as server-sent events until the
// batch reaches a terminal status or the client goes away.
func (h *BatchHandler) StreamProgress(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("id"))

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		for snapshot := range h.progress.Watch(ctx, batchID) {
			payload, err := json.Marshal(snapshot)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			// A failed flush means the client disconnected.
			if err := w.Flush(); err != nil {
				return
			}
		}
	})

	return nil
}

func (h *BatchHandler) GetDetails(c *fiber.Ctx) error {
	details, err := h.progress.Details(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(details)
}

func toBatchResponse(b *domain.Batch) batchResponse {
	if b == nil {
		return batchResponse{}
	}
	return batchResponse{
		ID:            b.ID,
		Name:          b.Name,
		TotalRecords:  b.TotalRecords,
		TotalChunks:   b.TotalChunks,
		Progress:      b.Progress,
		IsResend:      b.IsResend,
		OriginBatchID: b.OriginBatchID,
		CreatedAt:     b.CreatedAt,
	}
}

// requireOwner reads the acting account from the X-Owner-Id header. Request
// authentication happens upstream of this service; the gateway forwards the
// resolved account id.
func requireOwner(c *fiber.Ctx) (string, error) {
	ownerID := strings.TrimSpace(c.Get("X-Owner-Id"))
	if ownerID == "" {
		return "", fmt.Errorf("%w: X-Owner-Id header is required", domain.ErrValidation)
	}
	return ownerID, nil
}
