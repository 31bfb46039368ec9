// Package perf provides performance measurement for batch operations: log
// timers, an in-process per-operation summary and Prometheus collectors.
package perf

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Timer tracks operation timing for performance analysis.
type Timer struct {
	name      string
	startTime time.Time
	logger    logrus.FieldLogger
}

// Start begins timing an operation.
func Start(name string, logger logrus.FieldLogger) *Timer {
	return &Timer{
		name:      name,
		startTime: time.Now(),
		logger:    logger,
	}
}

// Elapsed returns the time since Start without logging.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.startTime)
}

// Stop ends timing and logs the duration.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.startTime)
	if t.logger != nil {
		t.logger.WithFields(logrus.Fields{
			"operation":   t.name,
			"duration_ms": duration.Milliseconds(),
		}).Info("operation completed")
	}
	return duration
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	duration := time.Since(t.startTime)
	fields := logrus.Fields{
		"operation":   t.name,
		"duration_ms": duration.Milliseconds(),
	}
	if t.logger != nil {
		if threshold > 0 && duration > threshold {
			t.logger.WithFields(fields).Warn("operation exceeded threshold")
		} else {
			t.logger.WithFields(fields).Debug("operation completed")
		}
	}
	return duration
}

// OpStats accumulates the batches of one operation kind.
type OpStats struct {
	Batches   int
	Images    int
	Succeeded int
	Failed    int
	Stale     int

	Total   time.Duration
	Slowest time.Duration
}

// SessionMetrics tracks batch timings for one session.
type SessionMetrics struct {
	mu  sync.Mutex
	ops map[string]*OpStats
}

// NewSessionMetrics creates an empty tracker.
func NewSessionMetrics() *SessionMetrics {
	return &SessionMetrics{ops: map[string]*OpStats{}}
}

func (m *SessionMetrics) stats(op string) *OpStats {
	s, ok := m.ops[op]
	if !ok {
		s = &OpStats{}
		m.ops[op] = s
	}
	return s
}

// RecordBatch adds one settled batch.
func (m *SessionMetrics) RecordBatch(op string, succeeded, failed, stale int, d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats(op)
	s.Batches++
	s.Images += succeeded + failed
	s.Succeeded += succeeded
	s.Failed += failed
	s.Stale += stale
	s.Total += d
}

// RecordImage notes the duration of one per-image call.
func (m *SessionMetrics) RecordImage(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.stats(op); d > s.Slowest {
		s.Slowest = d
	}
}

// Stats returns a copy of the stats for op.
func (m *SessionMetrics) Stats(op string) OpStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.ops[op]; ok {
		return *s
	}
	return OpStats{}
}

// Summary returns a formatted summary of the metrics.
func (m *SessionMetrics) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ops := make([]string, 0, len(m.ops))
	for op := range m.ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	var b strings.Builder
	b.WriteString("\n=== Batch Performance ===\n")
	if len(ops) == 0 {
		b.WriteString("  no batches run\n")
		return b.String()
	}
	for _, op := range ops {
		s := m.ops[op]
		var avg time.Duration
		if s.Batches > 0 {
			avg = s.Total / time.Duration(s.Batches)
		}
		fmt.Fprintf(&b, "%s:\n", op)
		fmt.Fprintf(&b, "  Batches:            %d (avg %v)\n", s.Batches, avg.Round(time.Millisecond))
		fmt.Fprintf(&b, "  Images:             %d ok, %d failed, %d stale\n", s.Succeeded, s.Failed, s.Stale)
		fmt.Fprintf(&b, "  Slowest image call: %v\n", s.Slowest.Round(time.Millisecond))
	}
	return b.String()
}

// contextKey is used to store metrics in context.
type contextKey struct{}

// WithMetrics adds metrics to context.
func WithMetrics(ctx context.Context, m *SessionMetrics) context.Context {
	return context.WithValue(ctx, contextKey{}, m)
}

// MetricsFromContext retrieves metrics from context.
func MetricsFromContext(ctx context.Context) *SessionMetrics {
	m, _ := ctx.Value(contextKey{}).(*SessionMetrics)
	return m
}
