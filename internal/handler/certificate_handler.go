package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/certpipe/certpipe/internal/domain"
)

// CertificateReader looks up issued certificates by public identifier.
type CertificateReader interface {
	GetByPublicID(ctx context.Context, publicID string) (*domain.Certificate, error)
}

type CertificateHandler struct {
	certificates CertificateReader
}

func NewCertificateHandler(certificates CertificateReader) (*CertificateHandler, error) {
	if certificates == nil {
		return nil, fmt.Errorf("certificate reader is required")
	}
	return &CertificateHandler{certificates: certificates}, nil
}

func RegisterCertificateRoutes(router fiber.Router, certificates CertificateReader) error {
	h, err := NewCertificateHandler(certificates)
	if err != nil {
		return err
	}

	router.Group("/v1").Get("/validate/:publicId", h.ValidateCertificate)
	return nil
}

type certificateResponse struct {
	PublicID  string    `json:"publicId"`
	Valid     bool      `json:"valid"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	IssuedAt  time.Time `json:"issuedAt"`
}

// ValidateCertificate is the public verification endpoint the QR code and
// email links point at. A certificate whose image was never uploaded is
// still reported valid; only the link is withheld.
func (h *CertificateHandler) ValidateCertificate(c *fiber.Ctx) error {
	publicID := strings.TrimSpace(c.Params("publicId"))

	certificate, err := h.certificates.GetByPublicID(c.Context(), publicID)
	if err != nil {
		return err
	}

	resp := certificateResponse{
		PublicID: certificate.PublicID,
		Valid:    true,
		ImageURL: certificate.ImageURL,
		IssuedAt: certificate.CreatedAt,
	}
	if name, ok := certificate.Data.Field("name"); ok {
		resp.Recipient = name
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}
