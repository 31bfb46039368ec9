// Package orchestrator runs batch transforms: one remote call per image,
// all issued concurrently, joined with settle-all semantics and merged into
// the store by image identity.
//
// A batch moves through four phases:
//
//  1. Validate. Local preconditions are checked and the images are leased
//     from the batch guard. Nothing is sent when either step fails.
//  2. Fan out. Each image gets its own task. Tasks never return an error to
//     the group, so one failure never cancels its siblings.
//  3. Join. The group waits for every task. Outcomes sit in per-index slots.
//  4. Merge. Successes are applied to the store in one snapshot, guarded by
//     the generation each call was issued against. Notices and the tracker
//     transition follow.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/imagepress/imagepress"
	"github.com/imagepress/imagepress/notify"
	"github.com/imagepress/imagepress/perf"
	"github.com/imagepress/imagepress/remote"
	"github.com/imagepress/imagepress/safeguards"
)

// ErrClosed is returned when the owner shut down before the batch settled.
// Nothing from such a batch is merged or announced.
var ErrClosed = errors.New("batch abandoned: session closed")

// Store is the part of the image store a batch writes to.
type Store interface {
	ApplyIfCurrent(updates []imagepress.ImageRecord) (applied, stale, missing []string)
}

// StateTracker receives the settled batch.
type StateTracker interface {
	BatchSettled(kind imagepress.OperationKind, succeeded int) bool
}

// Config controls batch execution.
type Config struct {
	// MaxInFlight bounds concurrent per-image calls. 0 fires all at once.
	MaxInFlight int

	// SlowBatchThreshold logs a warning for batches that take longer.
	SlowBatchThreshold time.Duration

	// Registerer receives the Prometheus collectors. Nil disables
	// registration; the collectors still count.
	Registerer prometheus.Registerer
}

// DefaultConfig returns the default batch settings.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:        0,
		SlowBatchThreshold: 30 * time.Second,
	}
}

// Report summarises one settled batch.
type Report struct {
	BatchID string
	Kind    imagepress.OperationKind

	// Outcomes holds one entry per image, in input order.
	Outcomes []Outcome

	Succeeded int
	Failed    int

	// Stale counts successes that were not applied because the record was
	// removed or replaced while the call was in flight.
	Stale int

	Duration time.Duration
}

// FailedImages returns the outcomes that failed.
func (r Report) FailedImages() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// Orchestrator runs batches against a Transformer.
type Orchestrator struct {
	client  Transformer
	store   Store
	tracker StateTracker
	notices *notify.Center

	guard   *safeguards.BatchGuard
	slots   *safeguards.SlotGuard
	metrics *perf.Collectors
	session *perf.SessionMetrics
	tracer  trace.Tracer

	cfg    Config
	logger logrus.FieldLogger
	active func() bool
}

// New creates an orchestrator. tracker and notices may be nil.
func New(client Transformer, store Store, tracker StateTracker, notices *notify.Center, cfg Config) (*Orchestrator, error) {
	if client == nil {
		return nil, errors.New("orchestrator: transformer is required")
	}
	if store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	metrics, err := perf.NewCollectors(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	logger := logrus.StandardLogger().WithField("component", "orchestrator")
	return &Orchestrator{
		client:  client,
		store:   store,
		tracker: tracker,
		notices: notices,
		guard:   safeguards.NewBatchGuard(logger),
		slots:   safeguards.NewSlotGuard(cfg.MaxInFlight, logger),
		metrics: metrics,
		session: perf.NewSessionMetrics(),
		tracer:  otel.Tracer("github.com/imagepress/imagepress/orchestrator"),
		cfg:     cfg,
		logger:  logger,
		active:  func() bool { return true },
	}, nil
}

// SetLogger replaces the logger.
func (o *Orchestrator) SetLogger(logger logrus.FieldLogger) {
	o.logger = logger.WithField("component", "orchestrator")
}

// SetTracer replaces the tracer taken from the global provider.
func (o *Orchestrator) SetTracer(t trace.Tracer) {
	o.tracer = t
}

// SetActive installs the check made after the join. When it reports false
// the batch is dropped with ErrClosed.
func (o *Orchestrator) SetActive(fn func() bool) {
	o.active = fn
}

// Guard exposes the lease table, for inspection.
func (o *Orchestrator) Guard() *safeguards.BatchGuard { return o.guard }

// Metrics returns the per-session batch summary.
func (o *Orchestrator) Metrics() *perf.SessionMetrics { return o.session }

// Run executes op once for each record and waits for every call to settle.
//
// A validation failure is announced as a warning and returned as an error
// wrapping imagepress.ErrValidation; an overlapping batch returns an error
// wrapping safeguards.ErrBatchInProgress. In both cases no call is made.
// Per-image failures are not errors: they are reported in the Report and
// announced one notice per image.
func (o *Orchestrator) Run(ctx context.Context, records []imagepress.ImageRecord, op Operation) (Report, error) {
	batchID := imagepress.NewBatchID()
	report := Report{BatchID: batchID, Kind: op.Kind()}
	logger := o.logger.WithFields(logrus.Fields{
		"batch_id": batchID,
		"op":       op.Kind(),
	})

	records = dedupe(records)
	if len(records) == 0 {
		return report, o.reject(imagepress.Invalid(op.EmptyMessage()))
	}
	if err := op.Validate(); err != nil {
		return report, o.reject(err)
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ImageID
	}
	if err := o.guard.Acquire(batchID, string(op.Kind()), ids); err != nil {
		o.notices.Warn(fmt.Sprintf("%s skipped: %v", op.Label(), err))
		return report, err
	}
	defer o.guard.Release(batchID)

	ctx, span := o.tracer.Start(ctx, "batch."+string(op.Kind()), trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("batch.size", len(records)),
	))
	defer span.End()

	timer := perf.Start(op.Label()+" batch", logger)
	logger.WithField("images", len(records)).Info("starting batch")
	o.notices.Emit(notify.Event{
		Type:    notify.EventBatchStart,
		BatchID: batchID,
		Op:      op.Label(),
		Total:   len(records),
	})

	report.Outcomes = o.fanOut(ctx, batchID, records, op, logger)
	report.Duration = timer.StopWithThreshold(o.cfg.SlowBatchThreshold)

	for _, out := range report.Outcomes {
		if out.OK() {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	if !o.active() {
		span.SetStatus(codes.Error, ErrClosed.Error())
		logger.Warn("dropping batch settled after close")
		return report, ErrClosed
	}

	if upd := updates(records, report.Outcomes); len(upd) > 0 {
		_, stale, missing := o.store.ApplyIfCurrent(upd)
		report.Stale = len(stale) + len(missing)
		for range report.Stale {
			o.metrics.ObserveImage(string(op.Kind()), "stale", 0)
		}
	}

	for _, out := range report.Outcomes {
		if !out.OK() {
			o.notices.ImageFailed(batchID, op.Label(), out.ImageID, out.FileName, reasonError{out.Result.Err()})
		}
	}
	o.notices.BatchResult(batchID, op.Label(), report.Succeeded, report.Failed)
	o.notices.Emit(notify.Event{
		Type:    notify.EventBatchComplete,
		BatchID: batchID,
		Op:      op.Label(),
		Done:    len(records),
		Failed:  report.Failed,
		Total:   len(records),
		Percent: 1,
		Elapsed: report.Duration,
	})

	if o.tracker != nil {
		o.tracker.BatchSettled(op.Kind(), report.Succeeded-report.Stale)
	}

	o.metrics.ObserveBatch(string(op.Kind()), report.Succeeded, report.Failed, report.Duration)
	o.session.RecordBatch(string(op.Kind()), report.Succeeded, report.Failed, report.Stale, report.Duration)

	span.SetAttributes(
		attribute.Int("batch.succeeded", report.Succeeded),
		attribute.Int("batch.failed", report.Failed),
		attribute.Int("batch.stale", report.Stale),
	)
	if report.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d images failed", report.Failed, len(records)))
	}

	logger.WithFields(logrus.Fields{
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"stale":     report.Stale,
	}).Info("batch settled")
	return report, nil
}

// fanOut issues one call per record and returns after all of them settled.
func (o *Orchestrator) fanOut(ctx context.Context, batchID string, records []imagepress.ImageRecord, op Operation, logger logrus.FieldLogger) []Outcome {
	outcomes := make([]Outcome, len(records))
	start := time.Now()
	var done, failed atomic.Int32
	kind := string(op.Kind())

	var g errgroup.Group
	for i, rec := range records {
		g.Go(func() error {
			out := Outcome{
				Index:      i,
				ImageID:    rec.ImageID,
				FileName:   rec.FileName,
				Generation: rec.Generation,
				Variant:    op.Variant(),
			}
			out.Result, out.Duration = o.call(ctx, rec, op, logger)
			outcomes[i] = out

			result := "ok"
			if !out.OK() {
				result = "failed"
				failed.Add(1)
			}
			o.metrics.ObserveImage(kind, result, out.Duration)
			o.session.RecordImage(kind, out.Duration)

			n := int(done.Add(1))
			if !o.active() {
				return nil
			}
			o.notices.Emit(notify.Event{
				Type:     notify.EventBatchProgress,
				BatchID:  batchID,
				Op:       op.Label(),
				ImageID:  rec.ImageID,
				FileName: rec.FileName,
				Done:     n,
				Failed:   int(failed.Load()),
				Total:    len(records),
				Percent:  float64(n) / float64(len(records)),
				Elapsed:  time.Since(start),
			})
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// call runs one per-image request inside a slot, converting a panic into a
// failed result.
func (o *Orchestrator) call(ctx context.Context, rec imagepress.ImageRecord, op Operation, logger logrus.FieldLogger) (remote.Result[string], time.Duration) {
	ctx, span := o.tracer.Start(ctx, "image."+string(op.Kind()), trace.WithAttributes(
		attribute.String("image.id", rec.ImageID),
		attribute.String("image.file_name", rec.FileName),
	))
	defer span.End()

	var ref string
	start := time.Now()
	err := o.slots.WithOperation(ctx, string(op.Kind()), func() error {
		o.metrics.CallStarted()
		defer o.metrics.CallFinished()
		return safeguards.RecoverableOperation(logger, string(op.Kind()), func() error {
			var err error
			ref, err = op.apply(ctx, o.client, rec)
			return err
		})
	})
	elapsed := time.Since(start)

	if err == nil && ref == "" {
		err = fmt.Errorf("%s returned no reference: %w", op.Kind(), remote.ErrMalformed)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, remote.Reason(err))
		logger.WithFields(logrus.Fields{
			"image_id":  rec.ImageID,
			"file_name": rec.FileName,
		}).WithError(err).Warn("image call failed")
		return remote.Fail[string](err), elapsed
	}
	return remote.Ok(ref), elapsed
}

func (o *Orchestrator) reject(err error) error {
	if errors.Is(err, imagepress.ErrValidation) {
		o.notices.Warn(err.Error())
	}
	return err
}

// dedupe keeps the first record for each ImageID.
func dedupe(records []imagepress.ImageRecord) []imagepress.ImageRecord {
	seen := make(map[string]bool, len(records))
	out := make([]imagepress.ImageRecord, 0, len(records))
	for _, rec := range records {
		if seen[rec.ImageID] {
			continue
		}
		seen[rec.ImageID] = true
		out = append(out, rec)
	}
	return out
}

// reasonError formats as the short backend reason while still unwrapping
// to the full error.
type reasonError struct{ err error }

func (e reasonError) Error() string { return remote.Reason(e.err) }
func (e reasonError) Unwrap() error { return e.err }
