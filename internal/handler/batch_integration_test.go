package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/certpipe/certpipe/internal/domain"
	"github.com/certpipe/certpipe/internal/service"
	"github.com/certpipe/certpipe/internal/transport"
)

type stubSubmitter struct {
	submitFn func(ctx context.Context, in service.SubmitInput) (*domain.Batch, error)
}

func (s *stubSubmitter) Submit(ctx context.Context, in service.SubmitInput) (*domain.Batch, error) {
	return s.submitFn(ctx, in)
}

type stubResender struct {
	resendFn func(ctx context.Context, batchID string, failureIDs []string) (*domain.Batch, error)
}

func (s *stubResender) Resend(ctx context.Context, batchID string, failureIDs []string) (*domain.Batch, error) {
	return s.resendFn(ctx, batchID, failureIDs)
}

type stubProgress struct {
	getProgressFn func(ctx context.Context, batchID string) (service.Progress, error)
	watchFn       func(ctx context.Context, batchID string) <-chan service.Progress
	detailsFn     func(ctx context.Context, batchID string) (service.BatchDetails, error)
}

func (s *stubProgress) GetProgress(ctx context.Context, batchID string) (service.Progress, error) {
	if s.getProgressFn == nil {
		return service.Progress{}, domain.ErrNotFound
	}
	return s.getProgressFn(ctx, batchID)
}

func (s *stubProgress) Watch(ctx context.Context, batchID string) <-chan service.Progress {
	if s.watchFn == nil {
		ch := make(chan service.Progress)
		close(ch)
		return ch
	}
	return s.watchFn(ctx, batchID)
}

func (s *stubProgress) Details(ctx context.Context, batchID string) (service.BatchDetails, error) {
	if s.detailsFn == nil {
		return service.BatchDetails{}, domain.ErrNotFound
	}
	return s.detailsFn(ctx, batchID)
}

type stubBatchReader struct {
	getByIDFn     func(ctx context.Context, id string) (*domain.Batch, error)
	listByOwnerFn func(ctx context.Context, ownerID string) ([]domain.Batch, error)
}

func (s *stubBatchReader) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	if s.getByIDFn == nil {
		return nil, domain.ErrNotFound
	}
	return s.getByIDFn(ctx, id)
}

func (s *stubBatchReader) ListByOwner(ctx context.Context, ownerID string) ([]domain.Batch, error) {
	if s.listByOwnerFn == nil {
		return nil, nil
	}
	return s.listByOwnerFn(ctx, ownerID)
}

func newTestApp(t *testing.T, register func(app *fiber.App) error) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	if err := register(app); err != nil {
		t.Fatalf("route registration error = %v", err)
	}
	return app
}

func newBatchTestApp(t *testing.T, submitter BatchSubmitter, resender BatchResender, progress ProgressReader, batches BatchReader) *fiber.App {
	t.Helper()

	if submitter == nil {
		submitter = &stubSubmitter{submitFn: func(ctx context.Context, in service.SubmitInput) (*domain.Batch, error) {
			return nil, domain.ErrNotFound
		}}
	}
	if resender == nil {
		resender = &stubResender{resendFn: func(ctx context.Context, batchID string, failureIDs []string) (*domain.Batch, error) {
			return nil, domain.ErrNotFound
		}}
	}
	if progress == nil {
		progress = &stubProgress{}
	}
	if batches == nil {
		batches = &stubBatchReader{}
	}

	return newTestApp(t, func(app *fiber.App) error {
		return RegisterBatchRoutes(app, submitter, resender, progress, batches)
	})
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func multipartCSVRequest(t *testing.T, csv string, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("csv", "recipients.csv")
	if err != nil {
		t.Fatalf("failed to create csv part: %v", err)
	}
	if _, err := part.Write([]byte(csv)); err != nil {
		t.Fatalf("failed to write csv part: %v", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field %q: %v", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", &buf)
	req.Header.Set(fiber.HeaderContentType, writer.FormDataContentType())
	req.Header.Set("X-Owner-Id", "owner-1")
	return req
}

func TestBatchIntegration_Submit(t *testing.T) {
	t.Parallel()

	submitter := &stubSubmitter{
		submitFn: func(ctx context.Context, in service.SubmitInput) (*domain.Batch, error) {
			if in.OwnerID != "owner-1" {
				t.Fatalf("owner = %q, want owner-1", in.OwnerID)
			}
			if in.TemplateID != "tmpl-1" {
				t.Fatalf("template = %q, want tmpl-1", in.TemplateID)
			}
			if len(in.Records) != 2 {
				t.Fatalf("records = %d, want 2", len(in.Records))
			}
			if len(in.CC) != 2 {
				t.Fatalf("cc = %v, want two addresses", in.CC)
			}
			return &domain.Batch{
				ID:           "batch-1",
				Name:         in.Name,
				OwnerID:      in.OwnerID,
				TotalRecords: len(in.Records),
				TotalChunks:  1,
				CreatedAt:    time.Now(),
			}, nil
		},
	}

	app := newBatchTestApp(t, submitter, nil, nil, nil)

	req := multipartCSVRequest(t, "Email,Name\na@example.com,Ada\nb@example.com,Ben\n", map[string]string{
		"name":       "spring cohort",
		"templateId": "tmpl-1",
		"subject":    "Your certificate",
		"cc":         "lead@example.com, dean@example.com",
	})

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	var accepted map[string]any
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if accepted["id"] != "batch-1" {
		t.Fatalf("id = %v, want batch-1", accepted["id"])
	}
	if accepted["totalRecords"] != float64(2) {
		t.Fatalf("totalRecords = %v, want 2", accepted["totalRecords"])
	}
}

func TestBatchIntegration_SubmitRejections(t *testing.T) {
	t.Parallel()

	app := newBatchTestApp(t, &stubSubmitter{
		submitFn: func(ctx context.Context, in service.SubmitInput) (*domain.Batch, error) {
			return nil, fmt.Errorf("%w: required 500, available 3", domain.ErrInsufficientCredits)
		},
	}, nil, nil, nil)

	// No owner header.
	req := multipartCSVRequest(t, "Email\na@example.com\n", nil)
	req.Header.Del("X-Owner-Id")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without owner header", resp.StatusCode)
	}

	// CSV with a header but no data rows.
	req = multipartCSVRequest(t, "Email,Name\n", map[string]string{"name": "empty", "templateId": "tmpl-1"})
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty csv", resp.StatusCode)
	}

	// Credit shortfall surfaces as 402 with the shortfall in the body.
	req = multipartCSVRequest(t, "Email\na@example.com\n", map[string]string{"name": "broke", "templateId": "tmpl-1"})
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != fiber.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402, body=%s", resp.StatusCode, string(body))
	}
	if !bytes.Contains(body, []byte("required 500")) {
		t.Fatalf("body %s should carry the shortfall", string(body))
	}
}

func TestBatchIntegration_Resend(t *testing.T) {
	t.Parallel()

	var gotIDs []string
	resender := &stubResender{
		resendFn: func(ctx context.Context, batchID string, failureIDs []string) (*domain.Batch, error) {
			if batchID != "batch-1" {
				t.Fatalf("batchID = %q, want batch-1", batchID)
			}
			gotIDs = failureIDs
			origin := "batch-1"
			return &domain.Batch{ID: "batch-2", IsResend: true, OriginBatchID: &origin}, nil
		},
	}

	app := newBatchTestApp(t, nil, resender, nil, nil)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/batches/batch-1/resend", `{"failureIds":["f1","f2"]}`, nil)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}
	if len(gotIDs) != 2 || gotIDs[0] != "f1" {
		t.Fatalf("failureIds = %v, want [f1 f2]", gotIDs)
	}

	var accepted map[string]any
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if accepted["isResend"] != true || accepted["originBatchId"] != "batch-1" {
		t.Fatalf("resend response = %v, want linked resend", accepted)
	}
}

func TestBatchIntegration_ResendNothingToResend(t *testing.T) {
	t.Parallel()

	resender := &stubResender{
		resendFn: func(ctx context.Context, batchID string, failureIDs []string) (*domain.Batch, error) {
			return nil, fmt.Errorf("%w: batch %s", domain.ErrNoResendableFailures, batchID)
		},
	}

	app := newBatchTestApp(t, nil, resender, nil, nil)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/batches/batch-1/resend", "", nil)
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestBatchIntegration_Progress(t *testing.T) {
	t.Parallel()

	progress := &stubProgress{
		getProgressFn: func(ctx context.Context, batchID string) (service.Progress, error) {
			return service.Progress{
				BatchID:         batchID,
				Status:          domain.BatchStatusProcessing,
				Percent:         40,
				TotalChunks:     5,
				CompletedChunks: 2,
			}, nil
		},
	}

	app := newBatchTestApp(t, nil, nil, progress, nil)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/batch-1/progress", "", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["percent"] != float64(40) {
		t.Fatalf("percent = %v, want 40", parsed["percent"])
	}
	if parsed["status"] != domain.BatchStatusProcessing.String() {
		t.Fatalf("status = %v, want processing", parsed["status"])
	}
}

func TestBatchIntegration_Details(t *testing.T) {
	t.Parallel()

	progress := &stubProgress{
		detailsFn: func(ctx context.Context, batchID string) (service.BatchDetails, error) {
			return service.BatchDetails{
				Batch:    &domain.Batch{ID: batchID, Name: "spring cohort"},
				Progress: service.Progress{BatchID: batchID, Status: domain.BatchStatusCompletedWithErrors},
			}, nil
		},
	}

	app := newBatchTestApp(t, nil, nil, progress, nil)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/batch-1/details", "", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	if !bytes.Contains(body, []byte("spring cohort")) {
		t.Fatalf("body %s should include the batch", string(body))
	}
}

func TestBatchIntegration_GetBatchNotFound(t *testing.T) {
	t.Parallel()

	app := newBatchTestApp(t, nil, nil, nil, &stubBatchReader{})

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/batches/missing", "", nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
