package domain

import (
	"fmt"
	"strings"
	"time"
)

// TextAlign positions placeholder text relative to its anchor point.
type TextAlign string

const (
	AlignLeft   TextAlign = "left"
	AlignCenter TextAlign = "center"
	AlignRight  TextAlign = "right"
)

// TextPlaceholder is one variable text slot on a template. Name matches a
// CSV column; X and Y anchor the text on the base image in pixels.
type TextPlaceholder struct {
	Name       string    `json:"name"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	FontFamily string    `json:"fontFamily,omitempty"`
	FontSize   float64   `json:"fontSize,omitempty"`
	Bold       bool      `json:"bold,omitempty"`
	Color      string    `json:"color,omitempty"`
	Align      TextAlign `json:"align,omitempty"`
}

// SignatureBox places a signature image on the template. The image is
// scaled to fit the box and centered on its anchor.
type SignatureBox struct {
	ImageURL string  `json:"imageUrl"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

// QRBox places the verification QR code on the template.
type QRBox struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Width float64 `json:"width"`
}

// Template is a reusable certificate layout: a base image plus positioned
// placeholders, signatures and an optional QR box.
type Template struct {
	ID           string            `gorm:"type:uuid;primaryKey"`
	OwnerID      string            `gorm:"type:uuid;not null;index"`
	Name         string            `gorm:"type:varchar(255);not null"`
	ImageURL     string            `gorm:"type:text;not null"`
	Width        int               `gorm:"not null"`
	Height       int               `gorm:"not null"`
	Placeholders []TextPlaceholder `gorm:"serializer:json"`
	Signatures   []SignatureBox    `gorm:"serializer:json"`
	QR           *QRBox            `gorm:"serializer:json"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (t *Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: template name is required", ErrValidation)
	}
	if strings.TrimSpace(t.ImageURL) == "" {
		return fmt.Errorf("%w: template image url is required", ErrValidation)
	}
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("%w: template dimensions must be positive", ErrValidation)
	}
	for _, p := range t.Placeholders {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: placeholder name is required", ErrValidation)
		}
	}
	return nil
}
