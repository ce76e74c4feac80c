package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/certpipe/certpipe/internal/domain"
	"github.com/certpipe/certpipe/internal/ratelimit"
	"github.com/certpipe/certpipe/internal/service"
)

// AccountReader resolves per-account send limits.
type AccountReader interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
}

type LimitsHandler struct {
	inspector ratelimit.Inspector
	accounts  AccountReader
	defaults  service.EmailLimits
}

func NewLimitsHandler(
	inspector ratelimit.Inspector,
	accounts AccountReader,
	defaults service.EmailLimits,
) (*LimitsHandler, error) {
	if inspector == nil {
		return nil, fmt.Errorf("rate limit inspector is required")
	}
	if accounts == nil {
		return nil, fmt.Errorf("account reader is required")
	}
	return &LimitsHandler{
		inspector: inspector,
		accounts:  accounts,
		defaults:  defaults,
	}, nil
}

func RegisterLimitsRoutes(
	router fiber.Router,
	inspector ratelimit.Inspector,
	accounts AccountReader,
	defaults service.EmailLimits,
) error {
	h, err := NewLimitsHandler(inspector, accounts, defaults)
	if err != nil {
		return err
	}

	router.Group("/v1").Get("/limits", h.GetLimits)
	return nil
}

type windowStatus struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

type scopeStatus struct {
	PerSecond windowStatus `json:"perSecond"`
	PerDay    windowStatus `json:"perDay"`
}

type limitsResponse struct {
	User     scopeStatus `json:"user"`
	Provider scopeStatus `json:"provider"`
}

// GetLimits reports current send counts against the caller's limits and the
// shared provider ceiling.
func (h *LimitsHandler) GetLimits(c *fiber.Ctx) error {
	ownerID, err := requireOwner(c)
	if err != nil {
		return err
	}

	userPerSecond := h.defaults.UserPerSecond
	userPerDay := h.defaults.UserPerDay
	account, err := h.accounts.GetByID(c.Context(), ownerID)
	switch {
	case err == nil:
		userPerSecond = account.EmailsPerSecond
		userPerDay = account.EmailsPerDay
	case errors.Is(err, domain.ErrNotFound):
		// Unknown accounts see the system defaults.
	default:
		return err
	}

	userUsage, err := h.inspector.Current(c.Context(), ratelimit.UserScope(ownerID))
	if err != nil {
		return err
	}
	providerUsage, err := h.inspector.Current(c.Context(), ratelimit.ProviderScope)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(limitsResponse{
		User: scopeStatus{
			PerSecond: windowStatus{Used: userUsage.PerSecond, Limit: userPerSecond},
			PerDay:    windowStatus{Used: userUsage.PerDay, Limit: userPerDay},
		},
		Provider: scopeStatus{
			PerSecond: windowStatus{Used: providerUsage.PerSecond, Limit: h.defaults.ProviderPerSecond},
			PerDay:    windowStatus{Used: providerUsage.PerDay, Limit: h.defaults.ProviderPerDay},
		},
	})
}
