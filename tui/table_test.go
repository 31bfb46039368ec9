package tui

import (
	"errors"
	"strings"
	"testing"

	"github.com/imagepress/imagepress"
	"github.com/imagepress/imagepress/download"
)

func TestImageRowsResolveCurrentVariant(t *testing.T) {
	records := []imagepress.ImageRecord{
		{ImageID: "id1", FileName: "a.jpg", OriginalRef: "uploads/id1", WebPRef: "webp/id1"},
		{ImageID: "id2", FileName: "b.jpg", OriginalRef: "uploads/id2"},
	}

	tests := []struct {
		state imagepress.OperationKind
		want  []string
	}{
		{imagepress.OpNone, []string{"original", "original"}},
		{imagepress.OpCompressWithWebP, []string{"webp", "original"}},
		{imagepress.OpWatermark, []string{"original", "original"}},
	}
	for _, tt := range tests {
		rows := ImageRows(records, tt.state)
		for i, row := range rows {
			if row[2] != tt.want[i] {
				t.Errorf("%s row %d shows %q, want %q", tt.state, i, row[2], tt.want[i])
			}
		}
	}

	rows := ImageRows(records, imagepress.OpNone)
	if rows[0][3] != "original,webp" || rows[1][3] != "original" {
		t.Errorf("variants = %q / %q", rows[0][3], rows[1][3])
	}
}

func TestRenderImagesTable(t *testing.T) {
	styles := PlainStyles()
	if out := RenderImagesTable(nil, imagepress.OpNone, -1, styles); !strings.Contains(out, "No images uploaded yet") {
		t.Errorf("empty table = %q", out)
	}

	records := []imagepress.ImageRecord{
		{ImageID: "id1", FileName: "a.jpg", OriginalRef: "uploads/id1"},
		{ImageID: "id2", FileName: "a_very_long_file_name_that_will_not_fit.jpg", OriginalRef: "uploads/id2"},
	}
	out := RenderImagesTable(records, imagepress.OpNone, 1, styles)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "FILE") || !strings.Contains(lines[0], "SHOWING") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[3], SymbolArrow) {
		t.Errorf("selected row not marked: %q", lines[3])
	}
	if !strings.Contains(lines[3], "a_very_long_file_name_..") {
		t.Errorf("long name not truncated: %q", lines[3])
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"much too long", 8, "much t.."},
		{"ünïcödé-name", 6, "ünïc.."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestRenderExportTable(t *testing.T) {
	report := download.Report{Items: []download.Item{
		{Name: "a_webp.webp", Kind: imagepress.VariantWebP, SizeBytes: 2048, Location: "/out/a_webp.webp"},
		{Name: "b_original.png", Kind: imagepress.VariantOriginal, Err: errors.New("fetch failed")},
	}, Failed: 1}

	out := RenderExportTable(report, PlainStyles())
	for _, want := range []string{"a_webp.webp", "2.0 KB", "/out/a_webp.webp", "fetch failed", SymbolError} {
		if !strings.Contains(out, want) {
			t.Errorf("export table missing %q:\n%s", want, out)
		}
	}
}

func TestRenderAnchorsTable(t *testing.T) {
	out := RenderAnchorsTable(PlainStyles())
	for _, want := range []string{"top-left", "bottom-right", "center", "95%"} {
		if !strings.Contains(out, want) {
			t.Errorf("anchors table missing %q:\n%s", want, out)
		}
	}
}
