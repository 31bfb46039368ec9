// Package session owns the state of one editing session: the image store,
// the operation tracker, the notification center and the orchestrator that
// runs batches against the backend. The TUI and the process command both
// drive a Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/imagepress/imagepress"
	"github.com/imagepress/imagepress/notify"
	"github.com/imagepress/imagepress/orchestrator"
	"github.com/imagepress/imagepress/remote"
	"github.com/imagepress/imagepress/store"
	"github.com/imagepress/imagepress/tracker"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = orchestrator.ErrClosed

// ErrUnsupportedFile marks an upload path skipped for its extension.
var ErrUnsupportedFile = fmt.Errorf("%w: unsupported file type", imagepress.ErrValidation)

// Backend is the remote API used by a session. *remote.Client implements it.
type Backend interface {
	orchestrator.Transformer
	UploadFile(ctx context.Context, filePath string) (remote.UploadResult, error)
	DeleteImage(ctx context.Context, imageID string) error
	FetchVariant(ctx context.Context, imageID string, kind imagepress.VariantKind) ([]byte, error)
}

// UploadReport summarises one upload batch.
type UploadReport struct {
	BatchID  string
	Uploaded []imagepress.ImageRecord
	Failed   map[string]error // by file path
}

// Session ties the components together.
type Session struct {
	backend Backend
	store   *store.Store
	tracker *tracker.Tracker
	notices *notify.Center
	orch    *orchestrator.Orchestrator
	logger  logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	// generation is bumped by Close. Work started under an older generation
	// is discarded when it settles.
	generation atomic.Uint64
}

// New creates a session. The orchestrator is built from cfg.
func New(backend Backend, cfg orchestrator.Config) (*Session, error) {
	st := store.New()
	tr := tracker.New()
	center := notify.NewCenter()

	orch, err := orchestrator.New(backend, st, tr, center, cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		backend: backend,
		store:   st,
		tracker: tr,
		notices: center,
		orch:    orch,
		logger:  logrus.StandardLogger().WithField("component", "session"),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.generation.Store(1)
	start := s.generation.Load()
	orch.SetActive(func() bool { return s.generation.Load() == start })
	return s, nil
}

// SetLogger replaces the logger of the session and its components.
func (s *Session) SetLogger(logger logrus.FieldLogger) {
	s.logger = logger.WithField("component", "session")
	s.store.SetLogger(logger)
	s.orch.SetLogger(logger)
}

func (s *Session) Store() *store.Store                      { return s.store }
func (s *Session) Tracker() *tracker.Tracker                { return s.tracker }
func (s *Session) Notices() *notify.Center                  { return s.notices }
func (s *Session) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// bind returns a context cancelled when either ctx or the session ends.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if s.closed() {
		return nil, nil, ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}, nil
}

func (s *Session) closed() bool {
	return s.ctx.Err() != nil
}

// Upload sends every file concurrently. Files with an unsupported extension
// are skipped, recorded in the report's Failed map and announced one by one;
// when none remain the call fails validation without sending anything. Per-file failures are announced and reported but never abort
// sibling uploads. Successful uploads are added to the store in input order
// and reset the tracker to none.
func (s *Session) Upload(ctx context.Context, paths ...string) (UploadReport, error) {
	report := UploadReport{BatchID: imagepress.NewBatchID(), Failed: map[string]error{}}

	var valid []string
	for _, p := range paths {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
		if remote.AllowedExtensions[ext] {
			valid = append(valid, p)
			continue
		}
		report.Failed[p] = ErrUnsupportedFile
		s.notices.Emit(notify.Event{
			Type:     notify.EventNotice,
			Level:    notify.LevelWarning,
			Scope:    notify.ScopeImage,
			BatchID:  report.BatchID,
			Op:       "Upload",
			FileName: filepath.Base(p),
			Message:  fmt.Sprintf("Skipped %s: unsupported file type", filepath.Base(p)),
			Err:      ErrUnsupportedFile,
		})
		s.logger.WithField("file", p).Warn("skipping file with unsupported extension")
	}
	if len(valid) == 0 {
		s.notices.Warn("No valid image files selected")
		return report, imagepress.Invalid("No valid image files selected")
	}

	ctx, done, err := s.bind(ctx)
	if err != nil {
		return report, err
	}
	defer done()
	gen := s.generation.Load()

	results := make([]remote.Result[remote.UploadResult], len(valid))
	var g errgroup.Group
	for i, p := range valid {
		g.Go(func() error {
			res, err := s.backend.UploadFile(ctx, p)
			if err != nil {
				results[i] = remote.Fail[remote.UploadResult](err)
			} else {
				results[i] = remote.Ok(res)
			}
			return nil
		})
	}
	_ = g.Wait()

	if s.generation.Load() != gen {
		return report, ErrClosed
	}

	var records []imagepress.ImageRecord
	for i, res := range results {
		if !res.OK() {
			report.Failed[valid[i]] = res.Err()
			s.notices.ImageFailed(report.BatchID, "Upload", "", filepath.Base(valid[i]), errors.New(remote.Reason(res.Err())))
			continue
		}
		records = append(records, res.Value().Record())
	}
	if len(records) == 0 {
		return report, nil
	}

	report.Uploaded = s.store.Add(records...)
	s.tracker.UploadBatchArrived()
	s.notices.Notice(notify.LevelSuccess, fmt.Sprintf("%d image(s) uploaded successfully", len(records)))
	s.logger.WithFields(logrus.Fields{
		"batch_id": report.BatchID,
		"uploaded": len(records),
		"failed":   len(report.Failed),
	}).Info("upload batch settled")
	return report, nil
}

// Compress re-encodes every image in the store.
func (s *Session) Compress(ctx context.Context, format imagepress.Format, quality float64) (orchestrator.Report, error) {
	return s.run(ctx, orchestrator.Compress{Format: format, Quality: quality})
}

// Watermark renders cfg onto every image in the store.
func (s *Session) Watermark(ctx context.Context, cfg imagepress.WatermarkConfig) (orchestrator.Report, error) {
	return s.run(ctx, orchestrator.Watermark{Config: cfg})
}

// BasicOperation applies ops to every image in the store.
func (s *Session) BasicOperation(ctx context.Context, ops imagepress.OpsSpec) (orchestrator.Report, error) {
	return s.run(ctx, orchestrator.Basic{Ops: ops})
}

func (s *Session) run(ctx context.Context, op orchestrator.Operation) (orchestrator.Report, error) {
	ctx, done, err := s.bind(ctx)
	if err != nil {
		return orchestrator.Report{}, err
	}
	defer done()
	return s.orch.Run(ctx, s.store.Records(), op)
}

// Delete removes an image from the backend and, when that succeeds, from
// the store.
func (s *Session) Delete(ctx context.Context, imageID string) error {
	if _, ok := s.store.Get(imageID); !ok {
		return fmt.Errorf("image %s: %w", imageID, store.ErrNotFound)
	}
	ctx, done, err := s.bind(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := s.backend.DeleteImage(ctx, imageID); err != nil {
		if !s.closed() {
			s.notices.Emit(notify.Event{
				Type:    notify.EventNotice,
				Level:   notify.LevelError,
				Scope:   notify.ScopeImage,
				ImageID: imageID,
				Message: "Failed to delete image",
				Err:     err,
			})
		}
		return err
	}
	if s.closed() {
		return ErrClosed
	}
	s.store.Remove(imageID)
	s.notices.Notice(notify.LevelSuccess, "Image deleted successfully")
	return nil
}

// Current resolves the variant of imageID selected by the tracker.
func (s *Session) Current(imageID string) (imagepress.VariantKind, string, error) {
	rec, ok := s.store.Get(imageID)
	if !ok {
		return "", "", fmt.Errorf("image %s: %w", imageID, store.ErrNotFound)
	}
	kind, ref := s.tracker.Current(rec)
	return kind, ref, nil
}

// Preview fetches the bytes of the current variant of imageID.
func (s *Session) Preview(ctx context.Context, imageID string) ([]byte, imagepress.VariantKind, error) {
	kind, _, err := s.Current(imageID)
	if err != nil {
		return nil, "", err
	}
	ctx, done, err := s.bind(ctx)
	if err != nil {
		return nil, "", err
	}
	defer done()
	data, err := s.backend.FetchVariant(ctx, imageID, kind)
	return data, kind, err
}

// Close ends the session. In-flight calls are cancelled and anything that
// settles afterwards is discarded. Close is idempotent.
func (s *Session) Close() {
	if s.closed() {
		return
	}
	s.generation.Add(1)
	s.cancel()
	s.logger.Debug("session closed")
}
