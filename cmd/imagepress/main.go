// Package main implements the imagepress command line client.
//
// It uploads local images to an image-processing backend, applies one batch
// transform to every uploaded image (compression, a text watermark or basic
// geometric operations) and downloads the current variant of each image to a
// directory or an S3 bucket. The tui command offers the same operations
// interactively.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/imagepress/imagepress"
	"github.com/imagepress/imagepress/download"
	"github.com/imagepress/imagepress/notify"
	"github.com/imagepress/imagepress/orchestrator"
	"github.com/imagepress/imagepress/remote"
	"github.com/imagepress/imagepress/remote/remotetest"
	"github.com/imagepress/imagepress/s3"
	"github.com/imagepress/imagepress/session"
	"github.com/imagepress/imagepress/tui"
	"github.com/imagepress/imagepress/watermark"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Config holds application configuration. Values come from DefaultConfig,
// then the environment, then the YAML file named by --config, then flags.
type Config struct {
	// Backend
	Backend     string        `yaml:"backend"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxInFlight int           `yaml:"max_in_flight"`

	// Logging and metrics
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
	ConfigFile  string `yaml:"-"`

	// Input
	Files []string `yaml:"files"`

	// Operation
	Op      string  `yaml:"op"` // compress, watermark, basic or none
	Format  string  `yaml:"format"`
	Quality float64 `yaml:"quality"`

	// Watermark
	Text     string  `yaml:"text"`
	Anchor   string  `yaml:"anchor"`
	Position string  `yaml:"position"` // "x,y" in percent
	Color    string  `yaml:"color"`
	Opacity  float64 `yaml:"opacity"`
	Rotation float64 `yaml:"rotation"`
	FontSize int     `yaml:"font_size"`

	// Basic operations
	Grayscale bool   `yaml:"grayscale"`
	Rotate    int    `yaml:"rotate"`
	Resize    string `yaml:"resize"` // "WxH"
	Crop      string `yaml:"crop"`   // "left,top,right,bottom"
	Flip      string `yaml:"flip"`

	// Export
	Variant    string `yaml:"variant"` // auto or a variant kind
	OutDir     string `yaml:"out"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	S3Prefix   string `yaml:"s3_prefix"`
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Anon     bool   `yaml:"s3_anonymous"`

	// Cleanup deletes the uploaded images from the backend after export.
	Cleanup bool `yaml:"cleanup"`

	// Output
	Quiet   bool `yaml:"quiet"`
	NoColor bool `yaml:"no_color"`

	// fake-backend
	ListenAddr string `yaml:"listen"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	wm := imagepress.DefaultWatermarkConfig()
	return Config{
		Backend:    remote.DefaultConfig().BaseURL,
		Timeout:    5 * time.Minute,
		LogLevel:   "info",
		Op:         "compress",
		Format:     string(imagepress.FormatWebP),
		Quality:    0.8,
		Color:      wm.Color,
		Opacity:    wm.Opacity,
		OutDir:     "./out",
		S3Region:   s3.DefaultConfig().Region,
		ListenAddr: "127.0.0.1:5000",
	}
}

var (
	// Global logger
	log = logrus.New()

	processCmd  = flag.NewFlagSet("process", flag.ExitOnError)
	tuiCmd      = flag.NewFlagSet("tui", flag.ExitOnError)
	gcCmd       = flag.NewFlagSet("gc", flag.ExitOnError)
	fakeCmd     = flag.NewFlagSet("fake-backend", flag.ExitOnError)
	anchorsCmd  = flag.NewFlagSet("anchors", flag.ExitOnError)
	versionCmd  = flag.NewFlagSet("version", flag.ExitOnError)
	errUsage    = errors.New("usage error")
	errFailures = errors.New("some images failed")
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// A missing .env file is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env")
	}
	config := DefaultConfig()
	applyEnv(&config, os.Getenv)

	var err error
	switch os.Args[1] {
	case "process":
		if err = parseProcessFlags(&config, processCmd, os.Args[2:]); err == nil {
			err = runProcess(config)
		}
	case "tui":
		if err = parseTUIFlags(&config, tuiCmd, os.Args[2:]); err == nil {
			err = runTUI(config)
		}
	case "gc":
		if err = parseGCFlags(&config, gcCmd, os.Args[2:]); err == nil {
			err = runGC(config)
		}
	case "fake-backend":
		if err = parseFakeBackendFlags(&config, fakeCmd, os.Args[2:]); err == nil {
			err = runFakeBackend(config)
		}
	case "anchors":
		anchorsCmd.Parse(os.Args[2:])
		fmt.Print(tui.RenderAnchorsTable(tui.DefaultStyles()))
	case "version":
		versionCmd.Parse(os.Args[2:])
		fmt.Printf("imagepress %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	case errors.Is(err, errFailures):
		os.Exit(1)
	default:
		log.WithError(err).Fatalf("%s failed", os.Args[1])
	}
}

func printUsage() {
	fmt.Println("imagepress - batch image upload and transform client")
	fmt.Println()
	fmt.Println("Usage: imagepress <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  process        Upload files, run one batch operation, export the results")
	fmt.Println("  tui            Interactive terminal UI with a watermark editor")
	fmt.Println("  gc             Delete uploaded images from the backend")
	fmt.Println("  anchors        List the named watermark anchors")
	fmt.Println("  fake-backend   Serve an in-memory backend for local testing")
	fmt.Println("  version        Print the version")
	fmt.Println()
	fmt.Println("Run 'imagepress <command> --help' for more information on a command.")
}

// applyEnv overrides defaults from IMAGEPRESS_* variables.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("IMAGEPRESS_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := getenv("IMAGEPRESS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("IMAGEPRESS_S3_BUCKET"); v != "" {
		cfg.S3Bucket = v
	}
}

// loadConfigFile merges the YAML file at path into cfg.
func loadConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// addGlobalFlags registers the flags shared by every backend command.
func addGlobalFlags(cfg *Config, fs *flag.FlagSet) {
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Backend API base URL")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.ConfigFile, "config", "", "YAML config file (flags override it)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address")
	fs.IntVar(&cfg.MaxInFlight, "max-in-flight", cfg.MaxInFlight, "Maximum concurrent per-image calls (0 = unlimited)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Timeout for each batch")
}

// parseWithConfig parses args, loads --config when given and parses again
// so that explicit flags win over the file.
func parseWithConfig(cfg *Config, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.ConfigFile == "" {
		return nil
	}
	path := cfg.ConfigFile
	if err := loadConfigFile(cfg, path); err != nil {
		return err
	}
	cfg.ConfigFile = path
	return fs.Parse(args)
}

func addOperationFlags(cfg *Config, fs *flag.FlagSet) {
	fs.StringVar(&cfg.Format, "format", cfg.Format, "Compression format (webp, jpeg)")
	fs.Float64Var(&cfg.Quality, "quality", cfg.Quality, "Compression quality in (0,1]")

	fs.StringVar(&cfg.Text, "text", cfg.Text, "Watermark text")
	fs.StringVar(&cfg.Anchor, "anchor", cfg.Anchor, "Watermark anchor (see 'imagepress anchors')")
	fs.StringVar(&cfg.Position, "position", cfg.Position, "Watermark position as x,y percentages")
	fs.StringVar(&cfg.Color, "color", cfg.Color, "Watermark colour (#rrggbb)")
	fs.Float64Var(&cfg.Opacity, "opacity", cfg.Opacity, "Watermark opacity in [0,1]")
	fs.Float64Var(&cfg.Rotation, "rotation", cfg.Rotation, "Watermark rotation in degrees")
	fs.IntVar(&cfg.FontSize, "font-size", cfg.FontSize, "Watermark font size in points (0 = backend default)")

	fs.BoolVar(&cfg.Grayscale, "grayscale", cfg.Grayscale, "Basic op: convert to grayscale")
	fs.IntVar(&cfg.Rotate, "rotate", cfg.Rotate, "Basic op: rotate by degrees")
	fs.StringVar(&cfg.Resize, "resize", cfg.Resize, "Basic op: resize to WxH")
	fs.StringVar(&cfg.Crop, "crop", cfg.Crop, "Basic op: crop to left,top,right,bottom")
	fs.StringVar(&cfg.Flip, "flip", cfg.Flip, "Basic op: flip horizontal or vertical")
}

func addExportFlags(cfg *Config, fs *flag.FlagSet) {
	fs.StringVar(&cfg.Variant, "variant", cfg.Variant, "Variant to export: auto (current state), original, webp, jpeg, watermarked or modified")
	fs.StringVar(&cfg.OutDir, "out", cfg.OutDir, "Export directory")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "Export to this S3 bucket instead of --out")
	fs.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3Prefix, "s3-prefix", cfg.S3Prefix, "Key prefix for S3 exports")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "Custom S3 endpoint (S3-compatible stores)")
	fs.BoolVar(&cfg.S3Anon, "s3-anonymous", cfg.S3Anon, "Send unsigned S3 requests instead of using the AWS credential chain")
}

// parseProcessFlags parses flags for the process command. Files may be
// given with --files, as positional arguments, or both.
func parseProcessFlags(cfg *Config, fs *flag.FlagSet, args []string) error {
	addGlobalFlags(cfg, fs)
	addOperationFlags(cfg, fs)
	addExportFlags(cfg, fs)
	files := fs.String("files", "", "Comma-separated image files")
	fs.StringVar(&cfg.Op, "op", cfg.Op, "Operation: compress, watermark, basic or none")
	fs.BoolVar(&cfg.Cleanup, "cleanup", cfg.Cleanup, "Delete uploaded images from the backend after export")
	fs.BoolVar(&cfg.Quiet, "quiet", cfg.Quiet, "Only print errors")
	fs.BoolVar(&cfg.NoColor, "no-color", cfg.NoColor, "Disable coloured output")
	if err := parseWithConfig(cfg, fs, args); err != nil {
		return err
	}

	cfg.Files = append(cfg.Files, splitList(*files)...)
	cfg.Files = append(cfg.Files, fs.Args()...)
	if len(cfg.Files) == 0 {
		return fmt.Errorf("%w: at least one file is required (--files or arguments)", errUsage)
	}
	switch cfg.Op {
	case "compress", "watermark", "basic", "none":
	default:
		return fmt.Errorf("%w: unknown --op %q", errUsage, cfg.Op)
	}
	if _, err := imagepress.ParseVariantKind(cfg.Variant); err != nil {
		return fmt.Errorf("%w: --variant: %v", errUsage, err)
	}
	return nil
}

// parseTUIFlags parses flags for the tui command.
func parseTUIFlags(cfg *Config, fs *flag.FlagSet, args []string) error {
	addGlobalFlags(cfg, fs)
	addOperationFlags(cfg, fs)
	addExportFlags(cfg, fs)
	files := fs.String("files", "", "Comma-separated image files to upload on start")
	if err := parseWithConfig(cfg, fs, args); err != nil {
		return err
	}
	cfg.Files = append(cfg.Files, splitList(*files)...)
	cfg.Files = append(cfg.Files, fs.Args()...)
	if _, err := imagepress.ParseVariantKind(cfg.Variant); err != nil {
		return fmt.Errorf("%w: --variant: %v", errUsage, err)
	}
	return nil
}

// parseFakeBackendFlags parses flags for the fake-backend command.
func parseFakeBackendFlags(cfg *Config, fs *flag.FlagSet, args []string) error {
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Address to listen on")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	return fs.Parse(args)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// setupLogger configures the global logger.
func setupLogger(level string) error {
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)

	return nil
}

// buildCompress resolves the compression settings.
func buildCompress(cfg Config) (imagepress.Format, float64, error) {
	f, err := imagepress.ParseFormat(cfg.Format)
	if err != nil {
		return "", 0, err
	}
	return f, cfg.Quality, nil
}

// buildWatermark assembles the watermark request. An anchor takes
// precedence over --position.
func buildWatermark(cfg Config) (imagepress.WatermarkConfig, error) {
	wm := imagepress.DefaultWatermarkConfig()
	wm.Text = cfg.Text
	wm.Opacity = cfg.Opacity
	wm.Rotation = cfg.Rotation
	wm.FontSize = cfg.FontSize
	if cfg.Color != "" {
		c, err := watermark.ParseColor(cfg.Color)
		if err != nil {
			return wm, err
		}
		wm.Color = c
	}

	switch {
	case cfg.Anchor != "":
		a, err := watermark.ParseAnchor(cfg.Anchor)
		if err != nil {
			return wm, err
		}
		wm.Position, _ = a.Position()
	case cfg.Position != "":
		nums, err := parseInts(cfg.Position, 2)
		if err != nil {
			return wm, fmt.Errorf("invalid --position: %w", err)
		}
		wm.Position = imagepress.Position{X: float64(nums[0]), Y: float64(nums[1])}
	}
	return wm.Clamped(), nil
}

// buildOps assembles the basic operations from their flags.
func buildOps(cfg Config) (imagepress.OpsSpec, error) {
	var ops imagepress.OpsSpec
	if cfg.Resize != "" {
		w, h, ok := strings.Cut(strings.ToLower(cfg.Resize), "x")
		width, errW := strconv.Atoi(w)
		height, errH := strconv.Atoi(h)
		if !ok || errW != nil || errH != nil {
			return ops, fmt.Errorf("invalid --resize %q, want WxH", cfg.Resize)
		}
		ops.Resize = &imagepress.ResizeOp{Width: width, Height: height}
	}
	if cfg.Rotate != 0 {
		ops.Rotate = &imagepress.RotateOp{Angle: cfg.Rotate}
	}
	if cfg.Crop != "" {
		n, err := parseInts(cfg.Crop, 4)
		if err != nil {
			return ops, fmt.Errorf("invalid --crop: %w", err)
		}
		ops.Crop = &imagepress.CropOp{Left: n[0], Top: n[1], Right: n[2], Bottom: n[3]}
	}
	if cfg.Flip != "" {
		ops.Flip = &imagepress.FlipOp{Direction: cfg.Flip}
	}
	if cfg.Grayscale {
		ops.Grayscale = &struct{}{}
	}
	return ops, nil
}

func parseInts(s string, n int) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma-separated numbers, got %q", n, s)
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", p)
		}
		out[i] = v
	}
	return out, nil
}

// Dependencies holds what every backend command needs.
type Dependencies struct {
	Client   *remote.Client
	Session  *session.Session
	Registry *prometheus.Registry

	metricsSrv *http.Server
}

// Close stops the metrics server and ends the session.
func (d *Dependencies) Close() {
	d.Session.Close()
	if d.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d.metricsSrv.Shutdown(ctx)
	}
}

func initializeDependencies(cfg Config, logger *logrus.Logger) (*Dependencies, error) {
	client, err := remote.New(remote.Config{BaseURL: cfg.Backend})
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}
	client.SetLogger(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ocfg := orchestrator.DefaultConfig()
	ocfg.MaxInFlight = cfg.MaxInFlight
	ocfg.Registerer = registry
	sess, err := session.New(client, ocfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	sess.SetLogger(logger)

	deps := &Dependencies{Client: client, Session: sess, Registry: registry}
	if cfg.MetricsAddr != "" {
		deps.metricsSrv = serveMetrics(cfg.MetricsAddr, registry, logger)
	}
	return deps, nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()
	logger.WithField("addr", addr).Info("serving metrics")
	return srv
}

// newSink returns the export destination and a description of it.
func newSink(ctx context.Context, cfg Config, logger *logrus.Logger) (download.Sink, string, error) {
	if cfg.S3Bucket == "" {
		return download.DirSink{Dir: cfg.OutDir}, cfg.OutDir, nil
	}
	s3cfg := s3.DefaultConfig()
	s3cfg.Bucket = cfg.S3Bucket
	s3cfg.Region = cfg.S3Region
	s3cfg.Prefix = cfg.S3Prefix
	s3cfg.Endpoint = cfg.S3Endpoint
	s3cfg.Anonymous = cfg.S3Anon
	client, err := s3.New(ctx, s3cfg)
	if err != nil {
		return nil, "", err
	}
	client.SetLogger(logger)
	target := "s3://" + cfg.S3Bucket
	if cfg.S3Prefix != "" {
		target += "/" + strings.Trim(cfg.S3Prefix, "/")
	}
	return client, target, nil
}

// runOperation runs the configured batch on every uploaded image.
func runOperation(ctx context.Context, cfg Config, sess *session.Session) (orchestrator.Report, error) {
	switch cfg.Op {
	case "compress":
		format, quality, err := buildCompress(cfg)
		if err != nil {
			return orchestrator.Report{}, err
		}
		return sess.Compress(ctx, format, quality)
	case "watermark":
		wm, err := buildWatermark(cfg)
		if err != nil {
			return orchestrator.Report{}, err
		}
		return sess.Watermark(ctx, wm)
	case "basic":
		ops, err := buildOps(cfg)
		if err != nil {
			return orchestrator.Report{}, err
		}
		return sess.BasicOperation(ctx, ops)
	default:
		return orchestrator.Report{}, nil
	}
}

// runProcess uploads, transforms and exports in one pass.
func runProcess(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}
	log.SetOutput(os.Stderr)
	startTime := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := initializeDependencies(cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()
	sess := deps.Session

	cli := tui.NewCLIProgress(cfg.Quiet, cfg.NoColor)
	sess.Notices().Subscribe(cli.HandleEvent)
	sess.Notices().Subscribe(notify.LogSink(log.WithField("command", "process")))
	cli.PrintHeader(cfg.Backend, len(cfg.Files))

	result := tui.ProcessResult{}
	fail := func(err error) error {
		result.Error = err
		result.TotalTime = time.Since(startTime)
		cli.PrintSummary(result)
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	upload, err := sess.Upload(opCtx, cfg.Files...)
	if err != nil {
		return fail(err)
	}
	result.Uploaded = len(upload.Uploaded)
	if result.Uploaded == 0 {
		return fail(fmt.Errorf("no file could be uploaded"))
	}

	report, err := runOperation(opCtx, cfg, sess)
	if err != nil {
		return fail(err)
	}
	result.Succeeded, result.Failed = report.Succeeded, report.Failed
	if cfg.Op == "none" {
		result.Succeeded = result.Uploaded
	}

	sink, target, err := newSink(ctx, cfg, log)
	if err != nil {
		return fail(err)
	}
	exporter := download.NewExporter(deps.Client, sink, sess.Notices())
	exporter.SetLogger(log)
	exporter.SetMaxInFlight(cfg.MaxInFlight)
	variant, _ := imagepress.ParseVariantKind(cfg.Variant)
	exported, err := exporter.ExportVariant(opCtx, sess.Store().Records(), sess.Tracker().State(), variant)
	if err != nil {
		return fail(err)
	}
	result.Exported = len(exported.Items) - exported.Failed
	result.Location = target

	if cfg.Cleanup {
		ids := sess.Store().Snapshot().IDs()
		gc, err := collectGarbage(opCtx, deps.Client, ids, false, log)
		if err != nil {
			log.WithError(err).Warn("cleanup failed")
		} else {
			log.WithFields(logrus.Fields{"deleted": gc.DeletedCount, "failed": gc.FailedCount}).Info("cleanup finished")
		}
	}

	if !cfg.Quiet {
		styles := tui.DefaultStyles()
		if cfg.NoColor {
			styles = tui.PlainStyles()
		}
		fmt.Println()
		fmt.Print(tui.RenderExportTable(exported, styles))
	}
	if log.IsLevelEnabled(logrus.DebugLevel) {
		fmt.Fprintln(os.Stderr, sess.Orchestrator().Metrics().Summary())
	}

	result.TotalTime = time.Since(startTime)
	cli.PrintSummary(result)

	if len(upload.Failed) > 0 || result.Failed > 0 || exported.Failed > 0 {
		return errFailures
	}
	return nil
}

// runTUI runs the interactive dashboard.
func runTUI(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}
	// The alt screen owns the terminal.
	log.SetOutput(io.Discard)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	deps, err := initializeDependencies(cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()
	deps.Client.SuppressLogs()

	dash := tui.DefaultDashboardConfig()
	if f, err := imagepress.ParseFormat(cfg.Format); err == nil {
		dash.Format = f
	}
	dash.Quality = cfg.Quality
	dash.Variant, _ = imagepress.ParseVariantKind(cfg.Variant)
	dash.Files = cfg.Files
	dash.Timeout = cfg.Timeout
	if ops, err := buildOps(cfg); err == nil && !ops.Empty() {
		dash.Ops = ops
	}
	if wm, err := buildWatermark(cfg); err == nil {
		dash.Watermark = wm
	}

	sink, target, err := newSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	dash.ExportTarget = target
	exporter := download.NewExporter(deps.Client, sink, deps.Session.Notices())
	exporter.SetLogger(log)
	exporter.SetMaxInFlight(cfg.MaxInFlight)

	return tui.RunDashboard(ctx, deps.Session, exporter, dash)
}

// runFakeBackend serves the in-memory backend until interrupted.
func runFakeBackend(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fake := remotetest.New()
	fake.SetLogger(log)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: fake.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.WithField("addr", cfg.ListenAddr).Info("fake backend listening; API at /api")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down fake backend")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
