package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/certpipe/certpipe/internal/domain"
	"github.com/certpipe/certpipe/internal/service"
)

// ScheduleManager creates and controls deferred batch submissions.
type ScheduleManager interface {
	Create(ctx context.Context, in service.ScheduleInput) (*domain.ScheduledBatch, error)
	Get(ctx context.Context, id string) (*domain.ScheduledBatch, error)
	List(ctx context.Context, ownerID string) ([]domain.ScheduledBatch, error)
	Cancel(ctx context.Context, id string) error
}

type ScheduleHandler struct {
	schedules ScheduleManager
}

func NewScheduleHandler(schedules ScheduleManager) (*ScheduleHandler, error) {
	if schedules == nil {
		return nil, fmt.Errorf("schedule manager is required")
	}
	return &ScheduleHandler{schedules: schedules}, nil
}

func RegisterScheduleRoutes(router fiber.Router, schedules ScheduleManager) error {
	h, err := NewScheduleHandler(schedules)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/schedules", h.CreateSchedule)
	v1.Get("/schedules", h.ListSchedules)
	v1.Get("/schedules/:id", h.GetSchedule)
	v1.Post("/schedules/:id/cancel", h.CancelSchedule)

	return nil
}

type createScheduleRequest struct {
	Name       string `json:"name"`
	TemplateID string `json:"templateId"`
	CSVURL     string `json:"csvUrl"`
	Subject    string `json:"subject"`
	Message    string `json:"message"`
	CC         string `json:"cc"`
	BCC        string `json:"bcc"`
	RunAt      string `json:"runAt"`
}

type scheduleResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TemplateID  string    `json:"templateId"`
	CSVURL      string    `json:"csvUrl"`
	RecordCount int       `json:"recordCount"`
	RunAt       time.Time `json:"runAt"`
	Status      string    `json:"status"`
	Error       *string   `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (h *ScheduleHandler) CreateSchedule(c *fiber.Ctx) error {
	ownerID, err := requireOwner(c)
	if err != nil {
		return err
	}

	var req createScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	runAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.RunAt))
	if err != nil {
		return fmt.Errorf("%w: runAt must be RFC3339", domain.ErrValidation)
	}

	schedule, err := h.schedules.Create(c.Context(), service.ScheduleInput{
		Name:        strings.TrimSpace(req.Name),
		OwnerID:     ownerID,
		TemplateID:  strings.TrimSpace(req.TemplateID),
		CSVLocation: strings.TrimSpace(req.CSVURL),
		Subject:     req.Subject,
		Message:     req.Message,
		CC:          req.CC,
		BCC:         req.BCC,
		RunAt:       runAt,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toScheduleResponse(schedule))
}

func (h *ScheduleHandler) ListSchedules(c *fiber.Ctx) error {
	ownerID, err := requireOwner(c)
	if err != nil {
		return err
	}

	schedules, err := h.schedules.List(c.Context(), ownerID)
	if err != nil {
		return err
	}

	responses := make([]scheduleResponse, 0, len(schedules))
	for i := range schedules {
		responses = append(responses, toScheduleResponse(&schedules[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func (h *ScheduleHandler) GetSchedule(c *fiber.Ctx) error {
	schedule, err := h.schedules.Get(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toScheduleResponse(schedule))
}

func (h *ScheduleHandler) CancelSchedule(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.schedules.Cancel(c.Context(), id); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"scheduleId": id,
		"status":     domain.ScheduleStatusCancelled.String(),
	})
}

func toScheduleResponse(s *domain.ScheduledBatch) scheduleResponse {
	if s == nil {
		return scheduleResponse{}
	}
	return scheduleResponse{
		ID:          s.ID,
		Name:        s.Name,
		TemplateID:  s.TemplateID,
		CSVURL:      s.CSVLocation,
		RecordCount: s.RecordCount,
		RunAt:       s.RunAt,
		Status:      s.Status.String(),
		Error:       s.Error,
		CreatedAt:   s.CreatedAt,
	}
}
