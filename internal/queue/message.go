package queue

import (
	"fmt"
	"strings"

	"github.com/certpipe/certpipe/internal/domain"
)

// Message is the common surface of broker payloads.
type Message interface {
	Validate() error
	MessageID() string
	Correlation() string
}

// ChunkMessage is the broker payload for one generation chunk. It carries
// the records inline so the generation worker never re-reads the CSV.
type ChunkMessage struct {
	BatchID       string          `json:"batchId"`
	OwnerID       string          `json:"ownerId"`
	TemplateID    string          `json:"templateId"`
	Subject       string          `json:"subject,omitempty"`
	Body          string          `json:"body,omitempty"`
	EmailFrom     string          `json:"emailFrom,omitempty"`
	CC            []string        `json:"cc,omitempty"`
	BCC           []string        `json:"bcc,omitempty"`
	ChunkIndex    int             `json:"chunkIndex"`
	TotalChunks   int             `json:"totalChunks"`
	Records       []domain.Record `json:"records"`
	Attempt       int             `json:"attempt"`
	// RecordsDone marks a redelivery whose records were already processed;
	// only the chunk completion counter still needs to be written.
	RecordsDone   bool   `json:"recordsDone,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m ChunkMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if strings.TrimSpace(m.OwnerID) == "" {
		return fmt.Errorf("ownerId is required")
	}
	if strings.TrimSpace(m.TemplateID) == "" {
		return fmt.Errorf("templateId is required")
	}
	if m.ChunkIndex < 0 || m.ChunkIndex >= m.TotalChunks {
		return fmt.Errorf("chunkIndex %d out of range for %d chunks", m.ChunkIndex, m.TotalChunks)
	}
	if len(m.Records) == 0 {
		return fmt.Errorf("chunk has no records")
	}
	return nil
}

func (m ChunkMessage) MessageID() string {
	return fmt.Sprintf("%s:%d", m.BatchID, m.ChunkIndex)
}

func (m ChunkMessage) Correlation() string { return m.CorrelationID }

// EmailMessage is the broker payload for one send. The certificate is
// already rendered and uploaded; only composition and delivery remain.
type EmailMessage struct {
	BatchID       string        `json:"batchId"`
	OwnerID       string        `json:"ownerId"`
	CertificateID string        `json:"certificateId"`
	PublicID      string        `json:"publicId"`
	Recipient     string        `json:"recipient"`
	Record        domain.Record `json:"record"`
	Subject       string        `json:"subject,omitempty"`
	Body          string        `json:"body,omitempty"`
	EmailFrom     string        `json:"emailFrom,omitempty"`
	CC            []string      `json:"cc,omitempty"`
	BCC           []string      `json:"bcc,omitempty"`
	ImageURL      string        `json:"imageUrl"`
	Attempt       int           `json:"attempt"`
	CorrelationID string        `json:"correlationId,omitempty"`
}

func (m EmailMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if strings.TrimSpace(m.OwnerID) == "" {
		return fmt.Errorf("ownerId is required")
	}
	if strings.TrimSpace(m.CertificateID) == "" {
		return fmt.Errorf("certificateId is required")
	}
	if strings.TrimSpace(m.Recipient) == "" {
		return fmt.Errorf("recipient is required")
	}
	if strings.TrimSpace(m.ImageURL) == "" {
		return fmt.Errorf("imageUrl is required")
	}
	return nil
}

func (m EmailMessage) MessageID() string { return m.CertificateID }

func (m EmailMessage) Correlation() string { return m.CorrelationID }
