package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/certpipe/certpipe/internal/domain"
)

// SuppressionWriter records addresses that must not be mailed again.
type SuppressionWriter interface {
	Upsert(ctx context.Context, entry *domain.SuppressionEntry) error
}

type SuppressionHandler struct {
	suppressions SuppressionWriter
}

func NewSuppressionHandler(suppressions SuppressionWriter) (*SuppressionHandler, error) {
	if suppressions == nil {
		return nil, fmt.Errorf("suppression writer is required")
	}
	return &SuppressionHandler{suppressions: suppressions}, nil
}

func RegisterSuppressionRoutes(router fiber.Router, suppressions SuppressionWriter) error {
	h, err := NewSuppressionHandler(suppressions)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	// GET serves the footer link; POST serves RFC 8058 one-click clients.
	v1.Get("/unsubscribe", h.Unsubscribe)
	v1.Post("/unsubscribe", h.Unsubscribe)

	return nil
}

func (h *SuppressionHandler) Unsubscribe(c *fiber.Ctx) error {
	email := domain.NormalizeEmail(c.Query("email"))
	if email == "" || !domain.IsValidEmail(email) {
		return fmt.Errorf("%w: a valid email query parameter is required", domain.ErrValidation)
	}

	entry := &domain.SuppressionEntry{
		Email:  email,
		Reason: domain.SuppressionUnsubscribe,
		Source: "one_click",
	}
	if err := h.suppressions.Upsert(c.Context(), entry); err != nil {
		return err
	}

	if strings.EqualFold(c.Method(), fiber.MethodPost) {
		// One-click clients only look at the status code.
		return c.SendStatus(fiber.StatusOK)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"email":        email,
		"unsubscribed": true,
	})
}
