package domain

import (
	"strings"
	"time"
)

// SuppressionReason enumerates why an address is excluded from sending.
type SuppressionReason string

const (
	SuppressionBounce      SuppressionReason = "bounce"
	SuppressionComplaint   SuppressionReason = "complaint"
	SuppressionUnsubscribe SuppressionReason = "unsubscribe"
)

func (r SuppressionReason) IsValid() bool {
	switch r {
	case SuppressionBounce, SuppressionComplaint, SuppressionUnsubscribe:
		return true
	}
	return false
}

// SuppressionEntry is a permanently excluded address. A suppression hit
// during sending is a deliberate skip, not a failure.
type SuppressionEntry struct {
	Email     string            `gorm:"type:varchar(255);primaryKey"`
	Reason    SuppressionReason `gorm:"type:varchar(20);not null"`
	Source    string            `gorm:"type:varchar(50);not null"`
	CreatedAt time.Time
}

// NormalizeEmail lower-cases and trims an address for suppression lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
