// Package classify maps raw send/generation error strings to a fixed failure
// taxonomy and decides resend eligibility. Classification is pure: the same
// input always yields the same result, so it can be applied equally to live
// errors, persisted failure rows, and resend candidate filtering.
package classify

import (
	"strings"

	"github.com/certpipe/certpipe/internal/domain"
)

// Category is a failure class with a fixed resend policy.
type Category string

const (
	CategoryCompliance Category = "compliance"
	CategoryValidation Category = "validation"
	CategoryNetwork    Category = "network"
	CategorySystem     Category = "system"
	CategoryUnknown    Category = "unknown"
)

func (c Category) String() string { return string(c) }

// Classification is the result of categorizing one error string.
type Classification struct {
	Category    Category
	CanResend   bool
	DisplayName string
	Description string
}

// Keyword tables are checked in priority order; the first matching category
// wins. All matches are case-insensitive substring tests.
var (
	complianceKeywords = []string{
		"bounce", "suppression", "suppressed", "unsubscribe", "complaint", "blacklist",
	}
	validationKeywords = []string{
		"invalid email", "malformed", "invalid address", "invalid recipient",
		"does not exist", "mailbox not found",
	}
	networkKeywords = []string{
		"timeout", "timed out", "network", "connection refused", "connection reset",
		"connection", "econnrefused", "econnreset",
	}
	systemKeywords = []string{
		"rate limit", "throttle", "quota", "service unavailable",
		"internal error", "server error", "temporary failure",
	}
)

// Classify categorizes a raw error message.
func Classify(message string) Classification {
	lowered := strings.ToLower(message)

	if matchesAny(lowered, complianceKeywords) {
		return Classification{
			Category:    CategoryCompliance,
			CanResend:   false,
			DisplayName: "Provider Compliance",
			Description: "Email bounced or address is on the suppression list",
		}
	}
	if matchesAny(lowered, validationKeywords) {
		return Classification{
			Category:    CategoryValidation,
			CanResend:   false,
			DisplayName: "Validation Error",
			Description: "Invalid or malformed email address",
		}
	}
	if matchesAny(lowered, networkKeywords) {
		return Classification{
			Category:    CategoryNetwork,
			CanResend:   true,
			DisplayName: "Network Error",
			Description: "Temporary network or connection issue",
		}
	}
	if matchesAny(lowered, systemKeywords) {
		return Classification{
			Category:    CategorySystem,
			CanResend:   true,
			DisplayName: "System Error",
			Description: "Temporary system or rate limit issue",
		}
	}

	// Unrecognized failures default to resendable: a transient cause is more
	// likely than a policy block, and a human-initiated retry is cheap.
	return Classification{
		Category:    CategoryUnknown,
		CanResend:   true,
		DisplayName: "Unknown Error",
		Description: "Unrecognized error type",
	}
}

func matchesAny(lowered string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// Resendable filters failed records to the resend-eligible subset,
// preserving the original relative order.
func Resendable(failed []domain.FailedRecord) []domain.FailedRecord {
	out := make([]domain.FailedRecord, 0, len(failed))
	for _, f := range failed {
		if Classify(f.Error).CanResend {
			out = append(out, f)
		}
	}
	return out
}

// GroupByCategory buckets failed records by their classification.
func GroupByCategory(failed []domain.FailedRecord) map[Category][]domain.FailedRecord {
	groups := map[Category][]domain.FailedRecord{
		CategoryCompliance: {},
		CategoryValidation: {},
		CategoryNetwork:    {},
		CategorySystem:     {},
		CategoryUnknown:    {},
	}
	for _, f := range failed {
		category := Classify(f.Error).Category
		groups[category] = append(groups[category], f)
	}
	return groups
}

// Stats summarizes a failure list for batch detail views.
type Stats struct {
	Total      int `json:"total"`
	Resendable int `json:"resendable"`
	Excluded   int `json:"excluded"`

	Compliance int `json:"compliance"`
	Validation int `json:"validation"`
	Network    int `json:"network"`
	System     int `json:"system"`
	Unknown    int `json:"unknown"`
}

// Summarize computes failure statistics over a failed record list.
func Summarize(failed []domain.FailedRecord) Stats {
	stats := Stats{Total: len(failed)}
	for _, f := range failed {
		c := Classify(f.Error)
		if c.CanResend {
			stats.Resendable++
		} else {
			stats.Excluded++
		}
		switch c.Category {
		case CategoryCompliance:
			stats.Compliance++
		case CategoryValidation:
			stats.Validation++
		case CategoryNetwork:
			stats.Network++
		case CategorySystem:
			stats.System++
		default:
			stats.Unknown++
		}
	}
	return stats
}
