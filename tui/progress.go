package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/imagepress/imagepress/notify"
)

// BatchState tracks the most recent batch as reported by notify events.
type BatchState struct {
	BatchID   string
	Op        string
	Done      int
	Failed    int
	Total     int
	Percent   float64 // 0.0 to 1.0
	Running   bool
	StartedAt time.Time
	Elapsed   time.Duration
	LastFile  string
}

// BatchProgress renders a progress bar for the current batch.
type BatchProgress struct {
	bar   progress.Model
	state BatchState
	width int
}

// NewBatchProgress creates an idle progress panel.
func NewBatchProgress() *BatchProgress {
	return &BatchProgress{
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(40),
		),
	}
}

// SetWidth sets the bar width in cells.
func (b *BatchProgress) SetWidth(w int) {
	b.width = w
	b.bar.Width = max(w-24, 10)
}

// State returns the tracked batch.
func (b *BatchProgress) State() BatchState { return b.state }

// Apply folds one event into the tracked state. Events of an older batch
// are ignored once a newer one has started.
func (b *BatchProgress) Apply(e notify.Event) {
	switch e.Type {
	case notify.EventBatchStart:
		b.state = BatchState{
			BatchID:   e.BatchID,
			Op:        e.Op,
			Total:     e.Total,
			Running:   true,
			StartedAt: e.Timestamp,
		}
	case notify.EventBatchProgress:
		if e.BatchID != b.state.BatchID {
			return
		}
		b.state.Done = e.Done
		b.state.Failed = e.Failed
		b.state.Percent = e.Percent
		b.state.Elapsed = e.Elapsed
		b.state.LastFile = e.FileName
	case notify.EventBatchComplete:
		if e.BatchID != b.state.BatchID {
			return
		}
		b.state.Done = e.Done
		b.state.Failed = e.Failed
		b.state.Percent = 1
		b.state.Elapsed = e.Elapsed
		b.state.Running = false
	}
}

// View renders the bar and counters.
func (b *BatchProgress) View(styles *Styles) string {
	s := b.state
	if s.BatchID == "" {
		return styles.Muted.Render("  No batch has run yet")
	}

	var sb strings.Builder
	status := "done"
	switch {
	case s.Running:
		status = "running"
	case s.Failed > 0 && s.Failed < s.Total:
		status = "partial"
	case s.Failed > 0:
		status = "failed"
	}
	fmt.Fprintf(&sb, "%s %s  %s\n", styles.StatusIcon(status), styles.Subtitle.Render(s.Op), styles.Muted.Render(s.BatchID))
	fmt.Fprintf(&sb, "  %s %d/%d", b.bar.ViewAs(s.Percent), s.Done, s.Total)
	if s.Failed > 0 {
		sb.WriteString(styles.Error.Render(fmt.Sprintf("  %d failed", s.Failed)))
	}
	if s.Elapsed > 0 {
		sb.WriteString(styles.Muted.Render("  " + FormatDuration(s.Elapsed)))
	}
	if s.Running && s.LastFile != "" {
		sb.WriteString("\n  " + styles.Muted.Render("last: "+s.LastFile))
	}
	return sb.String()
}
