// Package notify fans out user-facing notifications and batch progress.
//
// Producers (the orchestrator, the session, the download exporter) emit
// Events on a Center; any number of sinks subscribe to it. Sinks in this
// repository render to the terminal UI, to a plain CLI writer and to logrus.
package notify

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Callback receives events.
type Callback func(Event)

// EventType identifies the kind of event.
type EventType string

const (
	EventNotice        EventType = "notice"
	EventBatchStart    EventType = "batch_start"
	EventBatchProgress EventType = "batch_progress"
	EventBatchComplete EventType = "batch_complete"
)

// Level is the severity of a notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Scope says whether a notice concerns one image or a whole batch.
type Scope string

const (
	ScopeImage Scope = "image"
	ScopeBatch Scope = "batch"
)

// Event is one notification or progress update.
type Event struct {
	Type      EventType
	Level     Level
	Scope     Scope
	Timestamp time.Time

	BatchID  string
	Op       string
	ImageID  string
	FileName string

	// Progress
	Done    int
	Failed  int
	Total   int
	Percent float64 // 0.0 to 1.0
	Elapsed time.Duration

	Message string
	Err     error
}

// Center delivers events to subscribers.
type Center struct {
	mu        sync.RWMutex
	callbacks map[int]Callback
	nextID    int
}

// NewCenter creates an empty center.
func NewCenter() *Center {
	return &Center{callbacks: map[int]Callback{}}
}

// Subscribe adds a callback and returns a function that removes it.
func (c *Center) Subscribe(cb Callback) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.callbacks[id] = cb
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.callbacks, id)
	}
}

// Emit stamps e and delivers it to every subscriber in registration order.
func (c *Center) Emit(e Event) {
	if c == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	c.mu.RLock()
	ids := make([]int, 0, len(c.callbacks))
	for id := range c.callbacks {
		ids = append(ids, id)
	}
	callbacks := make([]Callback, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		callbacks = append(callbacks, c.callbacks[id])
	}
	c.mu.RUnlock()

	for _, cb := range callbacks {
		cb(e)
	}
}

// Notice emits a free-standing notice.
func (c *Center) Notice(level Level, message string) {
	c.Emit(Event{Type: EventNotice, Level: level, Scope: ScopeBatch, Message: message})
}

// Warn emits a warning notice, used for local validation failures.
func (c *Center) Warn(message string) {
	c.Notice(LevelWarning, message)
}

// ImageFailed emits the per-image failure notice for one image of a batch.
func (c *Center) ImageFailed(batchID, op, imageID, fileName string, err error) {
	c.Emit(Event{
		Type:     EventNotice,
		Level:    LevelError,
		Scope:    ScopeImage,
		BatchID:  batchID,
		Op:       op,
		ImageID:  imageID,
		FileName: fileName,
		Message:  fmt.Sprintf("%s failed for %s with error: %v", op, fileName, err),
		Err:      err,
	})
}

// BatchResult emits the single aggregate notice for a settled batch.
func (c *Center) BatchResult(batchID, op string, succeeded, failed int) {
	e := Event{
		Type:    EventNotice,
		Scope:   ScopeBatch,
		BatchID: batchID,
		Op:      op,
		Done:    succeeded + failed,
		Failed:  failed,
		Total:   succeeded + failed,
	}
	if failed == 0 {
		e.Level = LevelSuccess
		e.Message = fmt.Sprintf("%s completed for all %d images", op, succeeded)
	} else {
		e.Level = LevelError
		e.Message = fmt.Sprintf("%s failed for %d of %d images", op, failed, succeeded+failed)
	}
	c.Emit(e)
}

// LogSink returns a callback that writes notices to logger. Progress events
// are logged at debug level.
func LogSink(logger logrus.FieldLogger) Callback {
	return func(e Event) {
		fields := logrus.Fields{"event": e.Type}
		if e.BatchID != "" {
			fields["batch_id"] = e.BatchID
		}
		if e.Op != "" {
			fields["op"] = e.Op
		}
		if e.ImageID != "" {
			fields["image_id"] = e.ImageID
		}
		if e.FileName != "" {
			fields["file_name"] = e.FileName
		}
		entry := logger.WithFields(fields)
		if e.Err != nil {
			entry = entry.WithError(e.Err)
		}

		if e.Type != EventNotice {
			entry.WithFields(logrus.Fields{"done": e.Done, "total": e.Total}).Debug(string(e.Type))
			return
		}
		switch e.Level {
		case LevelError:
			entry.Error(e.Message)
		case LevelWarning:
			entry.Warn(e.Message)
		default:
			entry.Info(e.Message)
		}
	}
}

// Recorder collects events, for tests and for replaying history into a view.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Record is the Recorder's Callback.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Notices returns recorded notices matching scope and level. An empty level
// matches every level.
func (r *Recorder) Notices(scope Scope, level Level) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type != EventNotice || e.Scope != scope {
			continue
		}
		if level != "" && e.Level != level {
			continue
		}
		out = append(out, e)
	}
	return out
}
