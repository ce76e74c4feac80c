package domain

import (
	"fmt"
	"strings"
	"time"
)

// ScheduleStatus is the lifecycle state of a scheduled batch.
type ScheduleStatus string

const (
	ScheduleStatusPending    ScheduleStatus = "pending"
	ScheduleStatusProcessing ScheduleStatus = "processing"
	ScheduleStatusCompleted  ScheduleStatus = "completed"
	ScheduleStatusFailed     ScheduleStatus = "failed"
	ScheduleStatusCancelled  ScheduleStatus = "cancelled"
)

func (s ScheduleStatus) String() string { return string(s) }

func (s ScheduleStatus) IsValid() bool {
	switch s {
	case ScheduleStatusPending, ScheduleStatusProcessing, ScheduleStatusCompleted,
		ScheduleStatusFailed, ScheduleStatusCancelled:
		return true
	}
	return false
}

// ScheduledBatch is a deferred submission. Advanced only by the scheduler
// loop; cancellable by its owner only while pending. Credits are reserved at
// creation time, so the scheduler submits without a second deduction.
type ScheduledBatch struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	Name        string         `gorm:"type:varchar(255);not null"`
	OwnerID     string         `gorm:"type:uuid;not null;index"`
	TemplateID  string         `gorm:"type:uuid;not null"`
	CSVLocation string         `gorm:"type:text;not null"`
	Subject     string         `gorm:"type:varchar(500)"`
	Message     string         `gorm:"type:text"`
	CC          string         `gorm:"type:text"`
	BCC         string         `gorm:"type:text"`
	RecordCount int            `gorm:"not null;default:0"`
	RunAt       time.Time      `gorm:"not null;index"`
	Status      ScheduleStatus `gorm:"type:varchar(20);not null"`
	Error       *string        `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *ScheduledBatch) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: schedule name is required", ErrValidation)
	}
	if strings.TrimSpace(s.OwnerID) == "" {
		return fmt.Errorf("%w: schedule owner is required", ErrValidation)
	}
	if strings.TrimSpace(s.TemplateID) == "" {
		return fmt.Errorf("%w: template id is required", ErrValidation)
	}
	if strings.TrimSpace(s.CSVLocation) == "" {
		return fmt.Errorf("%w: csv location is required", ErrValidation)
	}
	if s.RunAt.IsZero() {
		return fmt.Errorf("%w: run time is required", ErrValidation)
	}
	return nil
}

// SplitAddressList parses a comma-separated CC/BCC list, dropping blanks.
func SplitAddressList(list string) []string {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
