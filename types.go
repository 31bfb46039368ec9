package imagepress

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Size is a pixel extent. It is used both for the true dimensions of an image
// (natural size) and for the dimensions it is rendered at (preview size).
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether the size carries no usable extent.
func (s Size) IsZero() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Position is a watermark placement expressed as a percentage of the image
// bounding box on each axis.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Clamped returns the position with both axes limited to [0,100].
func (p Position) Clamped() Position {
	return Position{X: ClampPercent(p.X), Y: ClampPercent(p.Y)}
}

// ClampPercent limits v to the closed interval [0,100].
func ClampPercent(v float64) float64 {
	return clamp(v, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v != v { // NaN
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Format is a compression output format understood by the backend.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// ParseFormat accepts "jpeg", "jpg" and "webp" in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", fmt.Errorf("unsupported compression format %q", s)
}

// VariantKind identifies one rendition of an uploaded image. The string values
// match the backend's "type" query parameter.
type VariantKind string

const (
	VariantOriginal    VariantKind = "original"
	VariantWebP        VariantKind = "webp"
	VariantJPEG        VariantKind = "jpeg"
	VariantWatermarked VariantKind = "watermarked"
	VariantModified    VariantKind = "modified"
)

// AllVariants lists every variant kind in display order.
var AllVariants = []VariantKind{VariantOriginal, VariantWebP, VariantJPEG, VariantWatermarked, VariantModified}

// ParseVariantKind accepts a variant name in any case. "" and "auto" return
// the empty kind, meaning the tracker's selection.
func ParseVariantKind(s string) (VariantKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "auto" {
		return "", nil
	}
	for _, k := range AllVariants {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown variant %q", s)
}

// VariantForFormat returns the compressed variant produced by a format.
func VariantForFormat(f Format) VariantKind {
	if f == FormatJPEG {
		return VariantJPEG
	}
	return VariantWebP
}

// ImageRecord is the client-side view of one uploaded image and the opaque
// references to each of its renditions.
//
// Records are values. Every update produces a new record via the With*
// helpers; callers never modify a record held by the store.
type ImageRecord struct {
	// ImageID is assigned by the backend and is the merge key for all
	// per-image state.
	ImageID string `json:"image_id"`

	// FileName is the name the file was uploaded under.
	FileName string `json:"file_name"`

	// OriginalRef is the reference to the uploaded original. Always set.
	OriginalRef string `json:"original_ref"`

	WebPRef        string `json:"webp_ref,omitempty"`
	JPEGRef        string `json:"jpeg_ref,omitempty"`
	WatermarkedRef string `json:"watermarked_ref,omitempty"`
	ModifiedRef    string `json:"modified_ref,omitempty"`

	// NaturalSize and PreviewSize are recorded by the watermark editor.
	NaturalSize *Size `json:"natural_size,omitempty"`
	PreviewSize *Size `json:"preview_size,omitempty"`

	// Generation is assigned by the store on every write and is used to
	// detect outcomes computed against a record that has since changed.
	Generation uint64 `json:"-"`
}

// Ref returns the reference stored for kind, or "" when the variant has not
// been produced.
func (r ImageRecord) Ref(kind VariantKind) string {
	switch kind {
	case VariantOriginal:
		return r.OriginalRef
	case VariantWebP:
		return r.WebPRef
	case VariantJPEG:
		return r.JPEGRef
	case VariantWatermarked:
		return r.WatermarkedRef
	case VariantModified:
		return r.ModifiedRef
	}
	return ""
}

// WithRef returns a copy of r with the reference for kind replaced.
func (r ImageRecord) WithRef(kind VariantKind, ref string) ImageRecord {
	switch kind {
	case VariantOriginal:
		r.OriginalRef = ref
	case VariantWebP:
		r.WebPRef = ref
	case VariantJPEG:
		r.JPEGRef = ref
	case VariantWatermarked:
		r.WatermarkedRef = ref
	case VariantModified:
		r.ModifiedRef = ref
	}
	return r
}

// WithSizes returns a copy of r carrying the given natural and preview sizes.
func (r ImageRecord) WithSizes(natural, preview Size) ImageRecord {
	n, p := natural, preview
	r.NaturalSize = &n
	r.PreviewSize = &p
	return r
}

// Stem returns the file name without its extension.
func (r ImageRecord) Stem() string {
	return strings.TrimSuffix(r.FileName, filepath.Ext(r.FileName))
}

// Ext returns the extension of the uploaded file without the leading dot.
func (r ImageRecord) Ext() string {
	return strings.TrimPrefix(filepath.Ext(r.FileName), ".")
}

// DownloadName returns the file name used when saving the given variant:
// <stem>_<kind>.<ext>. Originals keep their upload extension, compressed
// variants use the format name and backend-rendered variants are PNG.
func (r ImageRecord) DownloadName(kind VariantKind) string {
	var ext string
	switch kind {
	case VariantOriginal:
		ext = r.Ext()
	case VariantWebP, VariantJPEG:
		ext = string(kind)
	default:
		ext = "png"
	}
	if ext == "" {
		return r.Stem() + "_" + string(kind)
	}
	return r.Stem() + "_" + string(kind) + "." + ext
}

// WatermarkConfig describes a text watermark request.
type WatermarkConfig struct {
	Text     string   `json:"text"`
	Position Position `json:"position"`
	Color    string   `json:"color"`

	// Rotation in degrees, [-180,180].
	Rotation float64 `json:"rotation"`

	// Opacity in [0,1].
	Opacity float64 `json:"opacity"`

	// FontSize in points; 0 lets the backend choose.
	FontSize int `json:"font_size,omitempty"`

	NaturalSize *Size `json:"natural_size,omitempty"`
	PreviewSize *Size `json:"preview_size,omitempty"`
}

// DefaultWatermarkConfig returns the editor's starting configuration.
func DefaultWatermarkConfig() WatermarkConfig {
	return WatermarkConfig{
		Position: Position{X: 50, Y: 50},
		Color:    "#ffffff",
		Rotation: 0,
		Opacity:  0.8,
	}
}

// Clamped returns a copy with position, rotation and opacity limited to
// their valid ranges.
func (c WatermarkConfig) Clamped() WatermarkConfig {
	c.Position = c.Position.Clamped()
	c.Rotation = clamp(c.Rotation, -180, 180)
	c.Opacity = clamp(c.Opacity, 0, 1)
	if c.FontSize < 0 {
		c.FontSize = 0
	}
	return c
}

// Validate checks the local preconditions of a watermark request.
func (c WatermarkConfig) Validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return Invalid("watermark text is required")
	}
	return nil
}

// ResizeOp scales the image to an exact size.
type ResizeOp struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RotateOp rotates counter-clockwise by Angle degrees.
type RotateOp struct {
	Angle int `json:"angle"`
}

// CropOp keeps the box [Left,Right) x [Top,Bottom).
type CropOp struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// FlipOp mirrors the image. Direction is "horizontal" or "vertical".
type FlipOp struct {
	Direction string `json:"direction"`
}

// OpsSpec is a set of basic geometric operations applied by the backend in
// field order. Nil fields are omitted from the request.
type OpsSpec struct {
	Resize    *ResizeOp `json:"resize,omitempty"`
	Rotate    *RotateOp `json:"rotate,omitempty"`
	Crop      *CropOp   `json:"crop,omitempty"`
	Flip      *FlipOp   `json:"flip,omitempty"`
	Grayscale *struct{} `json:"grayscale,omitempty"`
}

// Empty reports whether no operation is set.
func (o OpsSpec) Empty() bool {
	return o.Resize == nil && o.Rotate == nil && o.Crop == nil && o.Flip == nil && o.Grayscale == nil
}

// Validate checks the operation parameters before they are sent.
func (o OpsSpec) Validate() error {
	if o.Empty() {
		return Invalid("at least one basic operation is required")
	}
	if r := o.Resize; r != nil && (r.Width <= 0 || r.Height <= 0) {
		return Invalid(fmt.Sprintf("resize needs positive width and height, got %dx%d", r.Width, r.Height))
	}
	if r := o.Rotate; r != nil && r.Angle == 0 {
		return Invalid("rotate needs a non-zero angle")
	}
	if c := o.Crop; c != nil && (c.Left < 0 || c.Top < 0 || c.Right <= c.Left || c.Bottom <= c.Top) {
		return Invalid(fmt.Sprintf("crop box (%d,%d,%d,%d) is empty or negative", c.Left, c.Top, c.Right, c.Bottom))
	}
	if f := o.Flip; f != nil && f.Direction != "horizontal" && f.Direction != "vertical" {
		return Invalid(fmt.Sprintf("flip direction must be horizontal or vertical, got %q", f.Direction))
	}
	return nil
}

// Names lists the operations that are set, in application order.
func (o OpsSpec) Names() []string {
	var names []string
	if o.Resize != nil {
		names = append(names, "resize")
	}
	if o.Rotate != nil {
		names = append(names, "rotate")
	}
	if o.Crop != nil {
		names = append(names, "crop")
	}
	if o.Flip != nil {
		names = append(names, "flip")
	}
	if o.Grayscale != nil {
		names = append(names, "grayscale")
	}
	return names
}
