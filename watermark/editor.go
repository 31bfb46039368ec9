package watermark

import (
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/imagepress/imagepress"
)

// ParseColor validates a hex colour ("#fff" or "#ffffff", the leading '#'
// optional) and returns it in canonical "#rrggbb" form.
func ParseColor(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", imagepress.Invalid("watermark color is required")
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return "", imagepress.Invalid(fmt.Sprintf("invalid watermark color %q", s))
	}
	return c.Hex(), nil
}

// Editor is the state of one watermark editing session: the text styling
// plus the placement tracked by a Mapper.
type Editor struct {
	mapper *Mapper
	cfg    imagepress.WatermarkConfig
}

// NewEditor starts an editing session from base. The mapper's placement is
// initialised from base.Position.
func NewEditor(m *Mapper, base imagepress.WatermarkConfig) *Editor {
	m.SetPosition(base.Position)
	return &Editor{mapper: m, cfg: base}
}

// Mapper returns the placement tracker.
func (e *Editor) Mapper() *Mapper { return e.mapper }

// Text returns the current watermark text.
func (e *Editor) Text() string { return e.cfg.Text }

// SetText replaces the watermark text.
func (e *Editor) SetText(s string) { e.cfg.Text = s }

// SetColor validates and stores a colour.
func (e *Editor) SetColor(s string) error {
	c, err := ParseColor(s)
	if err != nil {
		return err
	}
	e.cfg.Color = c
	return nil
}

// AdjustRotation adds delta degrees, clamped to [-180,180].
func (e *Editor) AdjustRotation(delta float64) {
	e.cfg.Rotation += delta
	e.cfg = e.cfg.Clamped()
}

// AdjustOpacity adds delta, clamped to [0,1].
func (e *Editor) AdjustOpacity(delta float64) {
	e.cfg.Opacity += delta
	e.cfg = e.cfg.Clamped()
}

// SetFontSize sets the font size in points; 0 lets the backend choose.
func (e *Editor) SetFontSize(pt int) {
	e.cfg.FontSize = pt
	e.cfg = e.cfg.Clamped()
}

// Draft returns the configuration as currently edited, without validation.
func (e *Editor) Draft() imagepress.WatermarkConfig {
	cfg := e.cfg
	cfg.Position = e.mapper.Position()
	return cfg.Clamped()
}

// Config returns the validated, clamped configuration to send, carrying the
// current placement together with natural and preview sizes.
func (e *Editor) Config() (imagepress.WatermarkConfig, error) {
	cfg := e.Draft()
	if err := cfg.Validate(); err != nil {
		return imagepress.WatermarkConfig{}, err
	}
	color := cfg.Color
	if color == "" {
		color = imagepress.DefaultWatermarkConfig().Color
	}
	c, err := ParseColor(color)
	if err != nil {
		return imagepress.WatermarkConfig{}, err
	}
	cfg.Color = c

	if n := e.mapper.NaturalSize(); !n.IsZero() {
		cfg.NaturalSize = &n
	}
	if p := e.mapper.PreviewSize(); !p.IsZero() {
		cfg.PreviewSize = &p
	}
	return cfg, nil
}

// Preview is a decoded image scaled to fit a display area.
type Preview struct {
	Natural imagepress.Size
	Size    imagepress.Size
	Image   image.Image
}

// Probe decodes the image at path and fits it within maxW x maxH, keeping
// its aspect ratio. The natural size is the decoded size.
func Probe(path string, maxW, maxH int) (*Preview, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	return fit(img, maxW, maxH), nil
}

// ProbeReader is Probe for an already opened image stream.
func ProbeReader(r io.Reader, maxW, maxH int) (*Preview, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return fit(img, maxW, maxH), nil
}

func fit(img image.Image, maxW, maxH int) *Preview {
	b := img.Bounds()
	natural := imagepress.Size{Width: b.Dx(), Height: b.Dy()}
	scaled := img
	if maxW > 0 && maxH > 0 && (natural.Width > maxW || natural.Height > maxH) {
		scaled = imaging.Fit(img, maxW, maxH, imaging.Lanczos)
	}
	sb := scaled.Bounds()
	return &Preview{
		Natural: natural,
		Size:    imagepress.Size{Width: sb.Dx(), Height: sb.Dy()},
		Image:   scaled,
	}
}
