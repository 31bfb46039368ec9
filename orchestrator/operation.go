package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/imagepress/imagepress"
)

// Transformer issues the per-image remote calls of a batch. *remote.Client
// implements it.
type Transformer interface {
	Compress(ctx context.Context, imageID string, format imagepress.Format, quality float64) (string, error)
	Watermark(ctx context.Context, imageID string, cfg imagepress.WatermarkConfig) (string, error)
	BasicOperation(ctx context.Context, imageID string, ops imagepress.OpsSpec) (string, error)
}

// Operation describes one batch transform. The implementations are
// Compress, Watermark and Basic.
type Operation interface {
	// Kind is the tracker state a successful batch moves to.
	Kind() imagepress.OperationKind

	// Variant is the record field a success writes.
	Variant() imagepress.VariantKind

	// Label names the operation in notices, e.g. "Compression".
	Label() string

	// Validate checks local preconditions. It runs before any call.
	Validate() error

	// EmptyMessage is the warning shown when a batch has no images.
	EmptyMessage() string

	apply(ctx context.Context, t Transformer, rec imagepress.ImageRecord) (string, error)
}

// Compress re-encodes every image to Format at Quality, a fraction in (0,1].
type Compress struct {
	Format  imagepress.Format
	Quality float64
}

func (c Compress) Kind() imagepress.OperationKind { return imagepress.CompressKind(c.Format) }
func (c Compress) Variant() imagepress.VariantKind {
	return imagepress.VariantForFormat(c.Format)
}
func (Compress) Label() string        { return "Compression" }
func (Compress) EmptyMessage() string { return "No images to compress" }

func (c Compress) Validate() error {
	if _, err := imagepress.ParseFormat(string(c.Format)); err != nil {
		return imagepress.Invalid(err.Error())
	}
	if c.Quality <= 0 || c.Quality > 1 {
		return imagepress.Invalid(fmt.Sprintf("compression quality must be in (0,1], got %v", c.Quality))
	}
	return nil
}

func (c Compress) apply(ctx context.Context, t Transformer, rec imagepress.ImageRecord) (string, error) {
	return t.Compress(ctx, rec.ImageID, c.Format, c.Quality)
}

// Watermark renders Config onto every image.
type Watermark struct {
	Config imagepress.WatermarkConfig
}

func (Watermark) Kind() imagepress.OperationKind  { return imagepress.OpWatermark }
func (Watermark) Variant() imagepress.VariantKind { return imagepress.VariantWatermarked }
func (Watermark) Label() string                   { return "Watermarking" }
func (Watermark) EmptyMessage() string            { return "No images to watermark" }

func (w Watermark) Validate() error {
	if strings.TrimSpace(w.Config.Text) == "" {
		return imagepress.Invalid("Please enter watermark text")
	}
	return nil
}

// apply fills in the image's own sizes when the config does not carry any,
// so the backend can map the percentage position onto each image.
func (w Watermark) apply(ctx context.Context, t Transformer, rec imagepress.ImageRecord) (string, error) {
	cfg := w.Config
	if cfg.NaturalSize == nil && rec.NaturalSize != nil {
		cfg.NaturalSize = rec.NaturalSize
	}
	if cfg.PreviewSize == nil && rec.PreviewSize != nil {
		cfg.PreviewSize = rec.PreviewSize
	}
	return t.Watermark(ctx, rec.ImageID, cfg)
}

// Basic applies a set of geometric operations to every image.
type Basic struct {
	Ops imagepress.OpsSpec
}

func (Basic) Kind() imagepress.OperationKind  { return imagepress.OpBasicOperation }
func (Basic) Variant() imagepress.VariantKind { return imagepress.VariantModified }
func (Basic) Label() string                   { return "Basic operation" }
func (Basic) EmptyMessage() string            { return "No images available for operation" }
func (b Basic) Validate() error               { return b.Ops.Validate() }

func (b Basic) apply(ctx context.Context, t Transformer, rec imagepress.ImageRecord) (string, error) {
	return t.BasicOperation(ctx, rec.ImageID, b.Ops)
}
