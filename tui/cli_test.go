package tui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/imagepress/imagepress/notify"
)

func batchEvents() []notify.Event {
	return []notify.Event{
		{Type: notify.EventBatchStart, BatchID: "b1", Op: "Compression", Total: 3},
		{Type: notify.EventBatchProgress, BatchID: "b1", Op: "Compression", Done: 1, Total: 3, Percent: 1.0 / 3},
		{Type: notify.EventBatchProgress, BatchID: "b1", Op: "Compression", Done: 2, Failed: 1, Total: 3, Percent: 2.0 / 3, FileName: "img2.jpg"},
		{Type: notify.EventNotice, Level: notify.LevelError, Scope: notify.ScopeImage, Message: "Compression failed for img2.jpg with error: cannot identify image file"},
		{Type: notify.EventBatchProgress, BatchID: "b1", Op: "Compression", Done: 3, Failed: 1, Total: 3, Percent: 1},
		{Type: notify.EventBatchComplete, BatchID: "b1", Op: "Compression", Done: 3, Failed: 1, Total: 3, Percent: 1, Elapsed: 1500 * time.Millisecond},
		{Type: notify.EventNotice, Level: notify.LevelError, Scope: notify.ScopeBatch, Message: "Compression failed for 1 of 3 images"},
	}
}

func TestCLIProgressPrintsBatch(t *testing.T) {
	var buf bytes.Buffer
	p := NewCLIProgress(false, true)
	p.SetWriter(&buf)
	for _, e := range batchEvents() {
		p.HandleEvent(e)
	}
	out := buf.String()

	for _, want := range []string{
		"Compression: 3 image(s)...",
		" 67% 2/3 (1 failed)",
		"Compression failed for img2.jpg with error: cannot identify image file",
		"Compression finished in 1.5s",
		"Compression failed for 1 of 3 images",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	// Every notice starts on a fresh line.
	if strings.Contains(out, "failed)"+SymbolError) {
		t.Errorf("notice printed on the progress line:\n%q", out)
	}
}

func TestCLIProgressQuietPrintsOnlyErrors(t *testing.T) {
	var buf bytes.Buffer
	p := NewCLIProgress(true, true)
	p.SetWriter(&buf)
	for _, e := range batchEvents() {
		p.HandleEvent(e)
	}
	p.HandleEvent(notify.Event{Type: notify.EventNotice, Level: notify.LevelSuccess, Message: "2 image(s) uploaded successfully"})

	out := buf.String()
	if strings.Contains(out, "finished") || strings.Contains(out, "uploaded successfully") || strings.Contains(out, "%") {
		t.Errorf("quiet mode printed progress:\n%s", out)
	}
	if strings.Count(out, "\n") != 2 {
		t.Errorf("want the two error notices, got:\n%s", out)
	}
}

func TestCLIProgressSummary(t *testing.T) {
	var buf bytes.Buffer
	p := NewCLIProgress(false, true)
	p.SetWriter(&buf)
	p.PrintSummary(ProcessResult{Uploaded: 3, Succeeded: 2, Failed: 1, Exported: 3, Location: "./out", TotalTime: 2 * time.Second})
	out := buf.String()
	for _, want := range []string{"Uploaded:    3", "Failed:      1", "Output:      ./out", "2.0s"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	quiet := NewCLIProgress(true, true)
	quiet.SetWriter(&buf)
	quiet.PrintSummary(ProcessResult{Error: errors.New("backend unreachable")})
	if !strings.Contains(buf.String(), "Processing failed: backend unreachable") {
		t.Errorf("error summary = %q", buf.String())
	}
}

func TestRenderTextBar(t *testing.T) {
	tests := map[float64]string{
		0:   "[>         ]",
		0.5: "[=====>    ]",
		1:   "[==========]",
		2:   "[==========]",
	}
	for in, want := range tests {
		if got := renderTextBar(in, 10); got != want {
			t.Errorf("renderTextBar(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestBatchProgressIgnoresOlderBatches(t *testing.T) {
	bp := NewBatchProgress()
	for _, e := range batchEvents()[:3] {
		bp.Apply(e)
	}
	bp.Apply(notify.Event{Type: notify.EventBatchStart, BatchID: "b2", Op: "Watermarking", Total: 2})
	bp.Apply(notify.Event{Type: notify.EventBatchComplete, BatchID: "b1", Op: "Compression", Done: 3, Failed: 1, Total: 3, Percent: 1})

	s := bp.State()
	if s.BatchID != "b2" || !s.Running || s.Done != 0 || s.Total != 2 {
		t.Fatalf("state = %+v", s)
	}

	bp.Apply(notify.Event{Type: notify.EventBatchComplete, BatchID: "b2", Op: "Watermarking", Done: 2, Total: 2, Percent: 1})
	if s := bp.State(); s.Running || s.Percent != 1 || s.Done != 2 {
		t.Fatalf("state = %+v", s)
	}
	if out := bp.View(PlainStyles()); !strings.Contains(out, "Watermarking") || !strings.Contains(out, "2/2") {
		t.Errorf("view = %q", out)
	}
}
