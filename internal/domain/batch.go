package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// BatchStatus is the user-facing processing state of a batch.
type BatchStatus string

const (
	BatchStatusPending             BatchStatus = "pending"
	BatchStatusProcessing          BatchStatus = "processing"
	BatchStatusCompleted           BatchStatus = "completed"
	BatchStatusCompletedWithErrors BatchStatus = "completed_with_errors"
	BatchStatusFailed              BatchStatus = "failed"
)

func (s BatchStatus) String() string { return string(s) }

// IsTerminal reports whether no further progress updates can arrive.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusCompletedWithErrors, BatchStatusFailed:
		return true
	}
	return false
}

// Batch groups the certificates generated from one CSV submission.
// Progress is derived from completed chunks over total chunks and is
// monotonically non-decreasing; workers only ever increment the completed
// count, never write a raw percentage.
type Batch struct {
	ID              string  `gorm:"type:uuid;primaryKey"`
	Name            string  `gorm:"type:varchar(255);not null"`
	OwnerID         string  `gorm:"type:uuid;not null;index"`
	TotalRecords    int     `gorm:"not null;default:0"`
	TotalChunks     int     `gorm:"not null;default:0"`
	CompletedChunks int     `gorm:"not null;default:0"`
	Progress        int     `gorm:"not null;default:0"`
	OriginBatchID   *string `gorm:"type:uuid"`
	IsResend        bool    `gorm:"not null;default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (b *Batch) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: batch name is required", ErrValidation)
	}
	if strings.TrimSpace(b.OwnerID) == "" {
		return fmt.Errorf("%w: batch owner is required", ErrValidation)
	}
	if b.TotalChunks < 0 || b.CompletedChunks < 0 {
		return fmt.Errorf("%w: chunk counts cannot be negative", ErrValidation)
	}
	return nil
}

// ProgressPercent computes the rounded completion percentage for a chunk
// count. A batch with zero chunks is considered fully processed.
func ProgressPercent(completedChunks, totalChunks int) int {
	if totalChunks <= 0 {
		return 100
	}
	if completedChunks >= totalChunks {
		return 100
	}
	if completedChunks <= 0 {
		return 0
	}
	return int(math.Round(float64(completedChunks) / float64(totalChunks) * 100))
}

// ChunkCount returns how many fixed-size chunks a record count splits into.
func ChunkCount(totalRecords, chunkSize int) int {
	if totalRecords <= 0 || chunkSize <= 0 {
		return 0
	}
	return (totalRecords + chunkSize - 1) / chunkSize
}
