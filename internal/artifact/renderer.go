// Package artifact renders certificate images from templates and records.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	"github.com/certpipe/certpipe/internal/domain"
)

const (
	defaultFontSize = 32.0
	defaultColor    = "#000000"
)

// Renderer produces a PNG artifact for one record.
type Renderer interface {
	Render(ctx context.Context, tmpl *domain.Template, record domain.Record, verifyURL string) ([]byte, error)
}

// ImageRenderer draws records onto template base images. Base images and
// signatures are cached per URL so a chunk only fetches each asset once.
type ImageRenderer struct {
	assets AssetFetcher
	logger *zap.Logger

	mu         sync.Mutex
	assetCache map[string]image.Image

	faceMu sync.Mutex
	faces  map[faceKey]font.Face
}

type faceKey struct {
	bold bool
	size float64
}

func NewImageRenderer(assets AssetFetcher, logger *zap.Logger) (*ImageRenderer, error) {
	if assets == nil {
		return nil, fmt.Errorf("asset fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ImageRenderer{
		assets:     assets,
		logger:     logger,
		assetCache: make(map[string]image.Image),
		faces:      make(map[faceKey]font.Face),
	}, nil
}

func (r *ImageRenderer) Render(ctx context.Context, tmpl *domain.Template, record domain.Record, verifyURL string) ([]byte, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("%w: template is required", domain.ErrValidation)
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}

	base, err := r.asset(ctx, tmpl.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load template image: %w", err)
	}

	bounds := base.Bounds()
	if bounds.Dx() != tmpl.Width || bounds.Dy() != tmpl.Height {
		base = imaging.Resize(base, tmpl.Width, tmpl.Height, imaging.Lanczos)
	}

	dc := gg.NewContextForImage(base)

	for _, p := range tmpl.Placeholders {
		value, _ := record.Field(p.Name)
		if value == "" {
			continue
		}
		if err := r.drawText(dc, p, value); err != nil {
			return nil, fmt.Errorf("failed to draw placeholder %q: %w", p.Name, err)
		}
	}

	for _, sig := range tmpl.Signatures {
		if err := r.drawSignature(ctx, dc, sig); err != nil {
			return nil, fmt.Errorf("failed to draw signature: %w", err)
		}
	}

	if tmpl.QR != nil && verifyURL != "" {
		if err := r.drawQR(dc, *tmpl.QR, verifyURL); err != nil {
			return nil, fmt.Errorf("failed to draw qr code: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode artifact: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *ImageRenderer) drawText(dc *gg.Context, p domain.TextPlaceholder, value string) error {
	size := p.FontSize
	if size <= 0 {
		size = defaultFontSize
	}

	face, err := r.face(p.Bold, size)
	if err != nil {
		return err
	}
	dc.SetFontFace(face)

	color := p.Color
	if color == "" {
		color = defaultColor
	}
	dc.SetHexColor(color)

	dc.DrawStringAnchored(value, p.X, p.Y, anchorX(p.Align), 0.5)
	return nil
}

func (r *ImageRenderer) drawSignature(ctx context.Context, dc *gg.Context, sig domain.SignatureBox) error {
	if sig.Width <= 0 || sig.Height <= 0 {
		return fmt.Errorf("signature box has no area")
	}

	img, err := r.asset(ctx, sig.ImageURL)
	if err != nil {
		return err
	}

	fitted := imaging.Fit(img, int(sig.Width), int(sig.Height), imaging.Lanczos)
	dc.DrawImageAnchored(fitted, int(sig.X), int(sig.Y), 0.5, 0.5)
	return nil
}

func (r *ImageRenderer) drawQR(dc *gg.Context, box domain.QRBox, verifyURL string) error {
	size := int(box.Width)
	if size <= 0 {
		return fmt.Errorf("qr box has no area")
	}

	encoded, err := qrcode.Encode(verifyURL, qrcode.Medium, size)
	if err != nil {
		return fmt.Errorf("failed to encode qr: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to decode qr image: %w", err)
	}

	dc.DrawImageAnchored(img, int(box.X), int(box.Y), 0.5, 0.5)
	return nil
}

func (r *ImageRenderer) asset(ctx context.Context, url string) (image.Image, error) {
	r.mu.Lock()
	cached, ok := r.assetCache[url]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	data, err := r.assets.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode asset %q: %w", url, err)
	}

	r.mu.Lock()
	r.assetCache[url] = img
	r.mu.Unlock()

	return img, nil
}

func (r *ImageRenderer) face(bold bool, size float64) (font.Face, error) {
	key := faceKey{bold: bold, size: size}

	r.faceMu.Lock()
	defer r.faceMu.Unlock()

	if face, ok := r.faces[key]; ok {
		return face, nil
	}

	ttf := goregular.TTF
	if bold {
		ttf = gobold.TTF
	}

	parsed, err := opentype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}

	r.faces[key] = face
	return face, nil
}

func anchorX(align domain.TextAlign) float64 {
	switch align {
	case domain.AlignLeft:
		return 0
	case domain.AlignRight:
		return 1
	default:
		return 0.5
	}
}
