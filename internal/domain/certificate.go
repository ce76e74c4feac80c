package domain

import "time"

// Certificate is one rendered artifact. ImageURL stays empty between record
// creation and storage upload; callers must never expose a certificate with
// an empty URL externally.
type Certificate struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	BatchID    string `gorm:"type:uuid;not null;index"`
	TemplateID string `gorm:"type:uuid;not null"`
	OwnerID    string `gorm:"type:uuid;not null"`
	PublicID   string `gorm:"type:varchar(64);not null;uniqueIndex"`
	Data       Record `gorm:"serializer:json"`
	ImageURL   string `gorm:"type:text;not null;default:''"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FailedRecord captures a record that failed generation or exhausted the
// email retry budget. The raw error string is kept intact so the classifier
// can be applied at query time. Never mutated after creation.
type FailedRecord struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	BatchID   string `gorm:"type:uuid;not null;index"`
	Data      Record `gorm:"serializer:json"`
	Error     string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// InvalidRecipient is a record whose email field failed syntactic
// validation. Excluded from all send attempts.
type InvalidRecipient struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	BatchID   string `gorm:"type:uuid;not null;index"`
	Email     string `gorm:"type:varchar(255);not null"`
	Reason    string `gorm:"type:varchar(255);not null"`
	CreatedAt time.Time
}
