// Tests for the shared domain types: clamping, variant references, download
// naming and local validation.
package imagepress

import (
	"errors"
	"math"
	"testing"
)

func TestPositionClamped(t *testing.T) {
	tests := []struct {
		in   Position
		want Position
	}{
		{Position{50, 50}, Position{50, 50}},
		{Position{-3, 120}, Position{0, 100}},
		{Position{100.0001, -0.1}, Position{100, 0}},
		{Position{math.NaN(), 42}, Position{0, 42}},
	}
	for _, tt := range tests {
		if got := tt.in.Clamped(); got != tt.want {
			t.Errorf("Clamped(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWatermarkConfigClamped(t *testing.T) {
	cfg := WatermarkConfig{
		Text:     "DRAFT",
		Position: Position{X: 140, Y: -10},
		Rotation: 270,
		Opacity:  1.5,
		FontSize: -4,
	}
	got := cfg.Clamped()
	if got.Position != (Position{100, 0}) {
		t.Errorf("position = %v", got.Position)
	}
	if got.Rotation != 180 {
		t.Errorf("rotation = %v, want 180", got.Rotation)
	}
	if got.Opacity != 1 {
		t.Errorf("opacity = %v, want 1", got.Opacity)
	}
	if got.FontSize != 0 {
		t.Errorf("font size = %v, want 0", got.FontSize)
	}
	if cfg.Position.X != 140 {
		t.Errorf("Clamped modified its receiver")
	}
}

func TestWatermarkConfigValidate(t *testing.T) {
	if err := (WatermarkConfig{Text: "  "}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank text: got %v, want validation error", err)
	}
	if err := (WatermarkConfig{Text: "DRAFT"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestImageRecordRefs(t *testing.T) {
	rec := ImageRecord{ImageID: "a", FileName: "img1.jpg", OriginalRef: "uploads/a.jpg"}
	for _, kind := range AllVariants[1:] {
		if rec.Ref(kind) != "" {
			t.Errorf("fresh record has %s ref", kind)
		}
	}

	updated := rec.WithRef(VariantWebP, "compressed/a.webp")
	if updated.WebPRef != "compressed/a.webp" {
		t.Fatalf("WithRef did not set webp ref")
	}
	if rec.WebPRef != "" {
		t.Fatalf("WithRef modified the original record")
	}
	if updated.Ref(VariantOriginal) != rec.OriginalRef {
		t.Fatalf("original ref lost")
	}
}

func TestDownloadName(t *testing.T) {
	rec := ImageRecord{FileName: "holiday.photo.JPG"}
	tests := []struct {
		kind VariantKind
		want string
	}{
		{VariantOriginal, "holiday.photo_original.JPG"},
		{VariantWebP, "holiday.photo_webp.webp"},
		{VariantJPEG, "holiday.photo_jpeg.jpeg"},
		{VariantWatermarked, "holiday.photo_watermarked.png"},
		{VariantModified, "holiday.photo_modified.png"},
	}
	for _, tt := range tests {
		if got := rec.DownloadName(tt.kind); got != tt.want {
			t.Errorf("DownloadName(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}

	if got := (ImageRecord{FileName: "noext"}).DownloadName(VariantOriginal); got != "noext_original" {
		t.Errorf("no extension: got %q", got)
	}
}

func TestOpsSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    OpsSpec
		wantErr bool
	}{
		{"empty", OpsSpec{}, true},
		{"resize", OpsSpec{Resize: &ResizeOp{Width: 100, Height: 50}}, false},
		{"resize zero", OpsSpec{Resize: &ResizeOp{Width: 0, Height: 50}}, true},
		{"rotate zero", OpsSpec{Rotate: &RotateOp{}}, true},
		{"crop inverted", OpsSpec{Crop: &CropOp{Left: 10, Top: 10, Right: 5, Bottom: 20}}, true},
		{"crop", OpsSpec{Crop: &CropOp{Left: 1, Top: 1, Right: 5, Bottom: 20}}, false},
		{"flip diagonal", OpsSpec{Flip: &FlipOp{Direction: "diagonal"}}, true},
		{"grayscale", OpsSpec{Grayscale: &struct{}{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Fatalf("error %v does not wrap ErrValidation", err)
			}
		})
	}
}

func TestOpsSpecNames(t *testing.T) {
	spec := OpsSpec{Grayscale: &struct{}{}, Resize: &ResizeOp{1, 1}}
	got := spec.Names()
	if len(got) != 2 || got[0] != "resize" || got[1] != "grayscale" {
		t.Fatalf("Names() = %v", got)
	}
}

func TestParseOperationKind(t *testing.T) {
	tests := map[string]OperationKind{
		"none":               OpNone,
		"compressWithWebp":   OpCompressWithWebP,
		"compress-with-webp": OpCompressWithWebP,
		"compress_with_jpeg": OpCompressWithJPEG,
		"watermark":          OpWatermark,
		"basic-operation":    OpBasicOperation,
	}
	for in, want := range tests {
		got, err := ParseOperationKind(in)
		if err != nil {
			t.Errorf("ParseOperationKind(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseOperationKind(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseOperationKind("sharpen"); err == nil {
		t.Errorf("expected error for unknown kind")
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"webp": FormatWebP, "JPG": FormatJPEG, " jpeg ": FormatJPEG} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("png"); err == nil {
		t.Errorf("expected error for png")
	}
}

func TestParseVariantKind(t *testing.T) {
	for in, want := range map[string]VariantKind{"": "", "auto": "", "WebP": VariantWebP, " original ": VariantOriginal, "watermarked": VariantWatermarked} {
		got, err := ParseVariantKind(in)
		if err != nil || got != want {
			t.Errorf("ParseVariantKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseVariantKind("thumbnail"); err == nil {
		t.Errorf("expected error for unknown variant")
	}
}

func TestNewBatchIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewBatchID()
		if len(id) != 26 {
			t.Fatalf("batch id %q has length %d", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate batch id %q", id)
		}
		seen[id] = true
	}
}
