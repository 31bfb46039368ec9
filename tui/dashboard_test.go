package tui

import (
	"context"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/disintegration/imaging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/imagepress/imagepress"
	"github.com/imagepress/imagepress/download"
	"github.com/imagepress/imagepress/notify"
	"github.com/imagepress/imagepress/orchestrator"
	"github.com/imagepress/imagepress/remote"
	"github.com/imagepress/imagepress/remote/remotetest"
	"github.com/imagepress/imagepress/session"
)

func newTestDashboard(t *testing.T, files ...string) (*DashboardModel, *remotetest.Server, string) {
	t.Helper()
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	srv := remotetest.New()
	srv.SetLogger(quiet)
	baseURL := srv.Start()
	t.Cleanup(srv.Close)

	client, err := remote.New(remote.Config{BaseURL: baseURL})
	if err != nil {
		t.Fatal(err)
	}
	client.SuppressLogs()

	ocfg := orchestrator.DefaultConfig()
	ocfg.Registerer = prometheus.NewRegistry()
	sess, err := session.New(client, ocfg)
	if err != nil {
		t.Fatal(err)
	}
	sess.SetLogger(quiet)
	t.Cleanup(sess.Close)

	dir := t.TempDir()
	var paths []string
	for _, name := range files {
		p := filepath.Join(dir, name)
		if err := imaging.Save(imaging.New(16, 8, color.NRGBA{G: 180, A: 255}), p); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	out := t.TempDir()
	exporter := download.NewExporter(client, download.DirSink{Dir: out}, sess.Notices())
	exporter.SetLogger(quiet)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := DefaultDashboardConfig()
	cfg.Files = paths
	cfg.ExportTarget = out
	m := NewDashboardModel(ctx, sess, exporter, cfg)
	m.styles = PlainStyles()
	t.Cleanup(m.Close)
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return m, srv, out
}

// run executes cmd and feeds its message back, then drains queued
// notifications.
func run(t *testing.T, m *DashboardModel, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatal("no command returned")
	}
	m.Update(cmd())
	drain(m)
}

func drain(m *DashboardModel) {
	for {
		select {
		case e := <-m.events:
			m.Update(eventMsg{event: e})
		default:
			return
		}
	}
}

func press(m *DashboardModel, key string) tea.Cmd {
	_, cmd := m.Update(keys(key))
	return cmd
}

func noticeMessages(m *DashboardModel) []string {
	var out []string
	for _, e := range m.notices {
		out = append(out, e.Message)
	}
	return out
}

func TestDashboardCompressFlow(t *testing.T) {
	m, srv, _ := newTestDashboard(t, "img1.jpg", "img2.jpg")

	run(t, m, m.upload(m.cfg.Files))
	if len(m.records) != 2 || m.running != 0 {
		t.Fatalf("records = %d, running = %d", len(m.records), m.running)
	}

	srv.Fail(remotetest.OpCompress, "img2.jpg", "cannot identify image file")
	run(t, m, press(m, "c"))

	if m.state != imagepress.OpCompressWithWebP {
		t.Errorf("state = %s", m.state)
	}
	msgs := noticeMessages(m)
	joined := strings.Join(msgs, "\n")
	for _, want := range []string{
		"2 image(s) uploaded successfully",
		"Compression failed for img2.jpg with error: cannot identify image file",
		"Compression failed for 1 of 2 images",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("notices missing %q:\n%s", want, joined)
		}
	}

	rows := ImageRows(m.records, m.state)
	if rows[0][2] != "webp" || rows[1][2] != "original" {
		t.Errorf("rows = %v", rows)
	}
	if s := m.progress.State(); s.Running || s.Failed != 1 || s.Total != 2 {
		t.Errorf("progress = %+v", s)
	}

	view := m.View()
	for _, want := range []string{"Images (2)", "Notifications", "Compression"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestDashboardFormatAndQualityKeys(t *testing.T) {
	m, _, _ := newTestDashboard(t)
	press(m, "f")
	press(m, "-")
	if m.cfg.Format != imagepress.FormatJPEG || m.cfg.Quality < 0.69 || m.cfg.Quality > 0.71 {
		t.Fatalf("format/quality = %s/%v", m.cfg.Format, m.cfg.Quality)
	}
	for range 10 {
		press(m, "+")
	}
	if m.cfg.Quality != 1 {
		t.Errorf("quality = %v", m.cfg.Quality)
	}
}

func TestDashboardWatermarkWithoutImages(t *testing.T) {
	m, srv, _ := newTestDashboard(t)
	run(t, m, press(m, "w"))
	if m.editor != nil {
		t.Fatal("editor opened without images")
	}
	if srv.Calls(remotetest.OpWatermark) != 0 {
		t.Fatal("watermark requested")
	}
	if msgs := noticeMessages(m); len(msgs) != 1 || msgs[0] != "No images to watermark" {
		t.Errorf("notices = %v", msgs)
	}
}

func TestDashboardWatermarkEditor(t *testing.T) {
	m, srv, _ := newTestDashboard(t, "photo.png")
	run(t, m, m.upload(m.cfg.Files))

	cmd := press(m, "w")
	if m.editor == nil {
		t.Fatal("editor not opened")
	}
	// The first command of the batch loads the preview.
	batch, ok := cmd().(tea.BatchMsg)
	if !ok {
		t.Fatalf("cmd returned %T", cmd())
	}
	m.Update(batch[0]())
	if got := m.editor.Editor().Mapper().NaturalSize(); got != (imagepress.Size{Width: 16, Height: 8}) {
		t.Fatalf("natural size = %+v", got)
	}

	m.Update(keys("DRAFT"))
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m.Update(keys("5"))
	_, done := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	_, cmd = m.Update(done())
	if m.editor != nil {
		t.Fatal("editor still open")
	}
	run(t, m, cmd)

	reqs := srv.WatermarkRequests()
	if len(reqs) != 1 {
		t.Fatalf("watermark requests = %d", len(reqs))
	}
	if m.state != imagepress.OpWatermark || m.cfg.Watermark.Text != "DRAFT" {
		t.Errorf("state = %s, text = %q", m.state, m.cfg.Watermark.Text)
	}
}

func TestDashboardExportAndDelete(t *testing.T) {
	m, srv, out := newTestDashboard(t, "a.png", "b.png")
	run(t, m, m.upload(m.cfg.Files))

	run(t, m, press(m, "e"))
	for _, name := range []string{"a_original.png", "b_original.png"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("export missing: %v", err)
		}
	}
	if msgs := noticeMessages(m); !containsMessage(msgs, "Download completed for all 2 images") {
		t.Errorf("notices = %v", msgs)
	}

	press(m, "j")
	run(t, m, press(m, "x"))
	if len(m.records) != 1 || m.records[0].FileName != "a.png" {
		t.Fatalf("records = %+v", m.records)
	}
	if srv.Len() != 1 {
		t.Errorf("backend holds %d images", srv.Len())
	}
	if m.selected != 0 {
		t.Errorf("selected = %d", m.selected)
	}
}

func TestDashboardExportVariantKey(t *testing.T) {
	m, _, out := newTestDashboard(t, "a.png")
	run(t, m, m.upload(m.cfg.Files))
	run(t, m, press(m, "c"))
	if m.state != imagepress.OpCompressWithWebP {
		t.Fatalf("state = %s", m.state)
	}

	press(m, "v")
	if m.cfg.Variant != imagepress.VariantOriginal {
		t.Fatalf("variant = %q", m.cfg.Variant)
	}
	if !strings.Contains(m.View(), "Export as:  original") {
		t.Errorf("settings panel does not show the chosen variant")
	}
	run(t, m, press(m, "e"))
	if _, err := os.Stat(filepath.Join(out, "a_original.png")); err != nil {
		t.Errorf("chosen variant not exported: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "a_webp.webp")); err == nil {
		t.Error("current-state variant exported despite the override")
	}

	for range len(imagepress.AllVariants) {
		press(m, "v")
	}
	if m.cfg.Variant != "" {
		t.Errorf("variant = %q after a full cycle, want auto", m.cfg.Variant)
	}
}

func TestDashboardQuit(t *testing.T) {
	m, _, _ := newTestDashboard(t)
	cmd := press(m, "q")
	if _, ok := cmd().(tea.QuitMsg); !ok || m.View() != "" {
		t.Fatal("q did not quit")
	}
}

func TestDashboardNoticeHistoryIsCapped(t *testing.T) {
	m, _, _ := newTestDashboard(t)
	m.cfg.MaxNotices = 3
	for i := range 5 {
		m.applyEvent(notify.Event{Type: notify.EventNotice, Level: notify.LevelInfo, Message: string(rune('a' + i))})
	}
	if got := strings.Join(noticeMessages(m), ""); got != "cde" {
		t.Errorf("notices = %q", got)
	}
}

func containsMessage(msgs []string, want string) bool {
	for _, m := range msgs {
		if m == want {
			return true
		}
	}
	return false
}
