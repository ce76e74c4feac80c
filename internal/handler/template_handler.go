package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/certpipe/certpipe/internal/domain"
)

// TemplateStore persists certificate layouts.
type TemplateStore interface {
	Create(ctx context.Context, t *domain.Template) error
	GetByID(ctx context.Context, id string) (*domain.Template, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Template, error)
}

type TemplateHandler struct {
	templates TemplateStore
}

func NewTemplateHandler(templates TemplateStore) (*TemplateHandler, error) {
	if templates == nil {
		return nil, fmt.Errorf("template store is required")
	}
	return &TemplateHandler{templates: templates}, nil
}

func RegisterTemplateRoutes(router fiber.Router, templates TemplateStore) error {
	h, err := NewTemplateHandler(templates)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/templates", h.CreateTemplate)
	v1.Get("/templates", h.ListTemplates)
	v1.Get("/templates/:id", h.GetTemplate)

	return nil
}

type createTemplateRequest struct {
	Name         string                   `json:"name"`
	ImageURL     string                   `json:"imageUrl"`
	Width        int                      `json:"width"`
	Height       int                      `json:"height"`
	Placeholders []domain.TextPlaceholder `json:"placeholders"`
	Signatures   []domain.SignatureBox    `json:"signatures"`
	QR           *domain.QRBox            `json:"qr"`
}

type templateResponse struct {
	ID           string                   `json:"id"`
	Name         string                   `json:"name"`
	ImageURL     string                   `json:"imageUrl"`
	Width        int                      `json:"width"`
	Height       int                      `json:"height"`
	Placeholders []domain.TextPlaceholder `json:"placeholders"`
	Signatures   []domain.SignatureBox    `json:"signatures,omitempty"`
	QR           *domain.QRBox            `json:"qr,omitempty"`
	CreatedAt    time.Time                `json:"createdAt"`
}

func (h *TemplateHandler) CreateTemplate(c *fiber.Ctx) error {
	ownerID, err := requireOwner(c)
	if err != nil {
		return err
	}

	var req createTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	template := &domain.Template{
		OwnerID:      ownerID,
		Name:         strings.TrimSpace(req.Name),
		ImageURL:     strings.TrimSpace(req.ImageURL),
		Width:        req.Width,
		Height:       req.Height,
		Placeholders: req.Placeholders,
		Signatures:   req.Signatures,
		QR:           req.QR,
	}
	if err := template.Validate(); err != nil {
		return err
	}

	if err := h.templates.Create(c.Context(), template); err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toTemplateResponse(template))
}

func (h *TemplateHandler) ListTemplates(c *fiber.Ctx) error {
	ownerID, err := requireOwner(c)
	if err != nil {
		return err
	}

	templates, err := h.templates.ListByOwner(c.Context(), ownerID)
	if err != nil {
		return err
	}

	responses := make([]templateResponse, 0, len(templates))
	for i := range templates {
		responses = append(responses, toTemplateResponse(&templates[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func (h *TemplateHandler) GetTemplate(c *fiber.Ctx) error {
	template, err := h.templates.GetByID(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toTemplateResponse(template))
}

func toTemplateResponse(t *domain.Template) templateResponse {
	if t == nil {
		return templateResponse{}
	}
	return templateResponse{
		ID:           t.ID,
		Name:         t.Name,
		ImageURL:     t.ImageURL,
		Width:        t.Width,
		Height:       t.Height,
		Placeholders: t.Placeholders,
		Signatures:   t.Signatures,
		QR:           t.QR,
		CreatedAt:    t.CreatedAt,
	}
}
