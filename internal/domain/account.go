package domain

import "time"

// Account is the pipeline's view of an owning user: credit balance and
// per-user send limits. Everything else about users lives outside the core.
type Account struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	Email           string `gorm:"type:varchar(255);not null;uniqueIndex"`
	Credits         int    `gorm:"not null;default:0"`
	EmailsPerSecond int    `gorm:"not null;default:5"`
	EmailsPerDay    int    `gorm:"not null;default:10000"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreditTransactionType marks ledger entry direction.
type CreditTransactionType string

const (
	CreditDeduct CreditTransactionType = "DEDUCT"
	CreditGrant  CreditTransactionType = "GRANT"
)

// CreditTransaction is one ledger row. Deductions are written in the same
// database transaction as the batch they pay for.
type CreditTransaction struct {
	ID        string                `gorm:"type:uuid;primaryKey"`
	AccountID string                `gorm:"type:uuid;not null;index"`
	Amount    int                   `gorm:"not null"`
	Type      CreditTransactionType `gorm:"type:varchar(10);not null"`
	Reason    string                `gorm:"type:varchar(100);not null"`
	CreatedAt time.Time
}

// SendConfig holds per-user sender defaults applied when composing emails.
type SendConfig struct {
	AccountID    string `gorm:"type:uuid;primaryKey"`
	FromAddress  string `gorm:"type:varchar(255)"`
	Subject      string `gorm:"type:varchar(500)"`
	Message      string `gorm:"type:text"`
	Heading      string `gorm:"type:varchar(500)"`
	LogoURL      string `gorm:"type:text"`
	SupportEmail string `gorm:"type:varchar(255)"`
	SenderName   string `gorm:"type:varchar(255)"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
