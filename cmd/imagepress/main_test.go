package main

import (
	"errors"
	"flag"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/imagepress/imagepress"
	"github.com/imagepress/imagepress/remote/remotetest"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func TestParseProcessFlags(t *testing.T) {
	cfg := DefaultConfig()
	err := parseProcessFlags(&cfg, newFlagSet("process"), []string{
		"--files", "a.jpg, b.png", "--op", "basic", "--grayscale", "--resize", "100x50", "c.gif",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.jpg", "b.png", "c.gif"}
	if len(cfg.Files) != len(want) {
		t.Fatalf("files = %v", cfg.Files)
	}
	for i := range want {
		if cfg.Files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, cfg.Files[i], want[i])
		}
	}
	if cfg.Op != "basic" || !cfg.Grayscale || cfg.Resize != "100x50" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Variant != "" {
		t.Errorf("variant = %q, want auto by default", cfg.Variant)
	}
}

func TestParseProcessFlagsErrors(t *testing.T) {
	tests := map[string][]string{
		"no files":    {"--op", "compress"},
		"unknown op":  {"--op", "sharpen", "a.jpg"},
		"bad variant": {"--variant", "thumbnail", "a.jpg"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			err := parseProcessFlags(&cfg, newFlagSet("process"), args)
			if !errors.Is(err, errUsage) {
				t.Errorf("err = %v, want usage error", err)
			}
		})
	}
}

func TestConfigFileFlagsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imagepress.yaml")
	data := "format: jpeg\nquality: 0.5\nop: watermark\ntext: hello\ntimeout: 30s\nfiles:\n  - from-file.jpg\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	err := parseProcessFlags(&cfg, newFlagSet("process"), []string{"--config", path, "--quality", "0.9", "arg.jpg"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Format != "jpeg" || cfg.Op != "watermark" || cfg.Text != "hello" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Quality != 0.9 {
		t.Errorf("quality = %v, want the flag value 0.9", cfg.Quality)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("timeout = %v", cfg.Timeout)
	}
	if len(cfg.Files) != 2 || cfg.Files[0] != "from-file.jpg" || cfg.Files[1] != "arg.jpg" {
		t.Errorf("files = %v", cfg.Files)
	}
}

func TestConfigFileUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("qualty: 0.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	if err := parseProcessFlags(&cfg, newFlagSet("process"), []string{"--config", path, "a.jpg"}); err == nil {
		t.Fatal("expected an error for an unknown key")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"IMAGEPRESS_BACKEND":   "http://backend:5000/api",
		"IMAGEPRESS_LOG_LEVEL": "debug",
	}
	cfg := DefaultConfig()
	applyEnv(&cfg, func(k string) string { return env[k] })
	if cfg.Backend != "http://backend:5000/api" || cfg.LogLevel != "debug" || cfg.S3Bucket != "" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestBuildWatermark(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Text = "(c) me"
	cfg.Anchor = "Top Right"
	cfg.Position = "10,10"
	cfg.Opacity = 1.5
	cfg.Color = "FFF"

	wm, err := buildWatermark(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if wm.Position != (imagepress.Position{X: 95, Y: 5}) {
		t.Errorf("anchor should win over --position, got %+v", wm.Position)
	}
	if wm.Opacity != 1 {
		t.Errorf("opacity = %v, want clamped to 1", wm.Opacity)
	}
	if wm.Color != "#ffffff" {
		t.Errorf("color = %q", wm.Color)
	}

	cfg.Anchor = ""
	cfg.Position = "120,30"
	wm, err = buildWatermark(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if wm.Position != (imagepress.Position{X: 100, Y: 30}) {
		t.Errorf("position = %+v", wm.Position)
	}

	cfg.Anchor = "middle"
	if _, err := buildWatermark(cfg); err == nil {
		t.Error("unknown anchor accepted")
	}
}

func TestBuildOps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resize = "640X480"
	cfg.Rotate = 90
	cfg.Crop = "0, 0, 10, 10"
	cfg.Flip = "horizontal"
	cfg.Grayscale = true

	ops, err := buildOps(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if *ops.Resize != (imagepress.ResizeOp{Width: 640, Height: 480}) || ops.Rotate.Angle != 90 {
		t.Errorf("ops = %+v", ops)
	}
	if *ops.Crop != (imagepress.CropOp{Right: 10, Bottom: 10}) || ops.Flip.Direction != "horizontal" || ops.Grayscale == nil {
		t.Errorf("ops = %+v", ops)
	}

	for _, bad := range []Config{{Resize: "640"}, {Resize: "axb"}, {Crop: "1,2,3"}} {
		if _, err := buildOps(bad); err == nil {
			t.Errorf("buildOps(%+v) succeeded", bad)
		}
	}
	if ops, err := buildOps(Config{}); err != nil || !ops.Empty() {
		t.Errorf("empty config gave %+v, %v", ops, err)
	}
}

func TestRunProcess(t *testing.T) {
	srv := remotetest.New()
	srv.SetLogger(quietLogger())
	url := srv.Start()
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	var files []string
	for _, name := range []string{"one.png", "two.png"} {
		p := filepath.Join(dir, name)
		if err := imaging.Save(imaging.New(8, 8, color.NRGBA{B: 255, A: 255}), p); err != nil {
			t.Fatal(err)
		}
		files = append(files, p)
	}

	cfg := DefaultConfig()
	cfg.Backend = url
	cfg.Files = files
	cfg.OutDir = t.TempDir()
	cfg.LogLevel = "error"
	cfg.Quiet = true
	cfg.NoColor = true
	cfg.Cleanup = true
	cfg.Timeout = 10 * time.Second

	if err := runProcess(cfg); err != nil {
		t.Fatalf("runProcess: %v", err)
	}
	if srv.Calls(remotetest.OpCompress) != 2 {
		t.Errorf("compress calls = %d", srv.Calls(remotetest.OpCompress))
	}
	entries, err := os.ReadDir(cfg.OutDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("exported %d files, want 2", len(entries))
	}
	if srv.Len() != 0 {
		t.Errorf("cleanup left %d images on the backend", srv.Len())
	}
}

func TestRunProcessReportsFailures(t *testing.T) {
	srv := remotetest.New()
	srv.SetLogger(quietLogger())
	url := srv.Start()
	t.Cleanup(srv.Close)

	p := filepath.Join(t.TempDir(), "bad.png")
	if err := imaging.Save(imaging.New(4, 4, color.White), p); err != nil {
		t.Fatal(err)
	}
	srv.Fail(remotetest.OpCompress, "bad.png", "cannot identify image file")

	cfg := DefaultConfig()
	cfg.Backend = url
	cfg.Files = []string{p}
	cfg.OutDir = t.TempDir()
	cfg.LogLevel = "error"
	cfg.Quiet = true
	cfg.Timeout = 10 * time.Second

	if err := runProcess(cfg); !errors.Is(err, errFailures) {
		t.Fatalf("err = %v, want errFailures", err)
	}
}

func TestRunProcessExportsChosenVariant(t *testing.T) {
	srv := remotetest.New()
	srv.SetLogger(quietLogger())
	url := srv.Start()
	t.Cleanup(srv.Close)

	p := filepath.Join(t.TempDir(), "one.png")
	if err := imaging.Save(imaging.New(8, 8, color.NRGBA{R: 255, A: 255}), p); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := parseProcessFlags(&cfg, newFlagSet("process"), []string{"--variant", "original", p}); err != nil {
		t.Fatal(err)
	}
	cfg.Backend = url
	cfg.OutDir = t.TempDir()
	cfg.LogLevel = "error"
	cfg.Quiet = true
	cfg.Timeout = 10 * time.Second

	if err := runProcess(cfg); err != nil {
		t.Fatalf("runProcess: %v", err)
	}
	if srv.Calls(remotetest.OpCompress) != 1 {
		t.Errorf("compress calls = %d", srv.Calls(remotetest.OpCompress))
	}
	if _, err := os.Stat(filepath.Join(cfg.OutDir, "one_original.png")); err != nil {
		t.Errorf("original not exported despite webp state: %v", err)
	}
}

func TestRunProcessCountsSkippedFiles(t *testing.T) {
	srv := remotetest.New()
	srv.SetLogger(quietLogger())
	url := srv.Start()
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	if err := imaging.Save(imaging.New(4, 4, color.White), good); err != nil {
		t.Fatal(err)
	}
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Backend = url
	cfg.Files = []string{good, notes}
	cfg.OutDir = t.TempDir()
	cfg.LogLevel = "error"
	cfg.Quiet = true
	cfg.Timeout = 10 * time.Second

	if err := runProcess(cfg); !errors.Is(err, errFailures) {
		t.Fatalf("err = %v, want errFailures for the skipped file", err)
	}
	if srv.Calls(remotetest.OpUpload) != 1 {
		t.Errorf("upload calls = %d", srv.Calls(remotetest.OpUpload))
	}
}
