// Package store holds the collection of tracked images.
//
// The collection is kept in persistent data structures from
// github.com/benbjohnson/immutable: every write produces a new version of the
// map and id list, and readers keep whatever version they were handed. A
// Snapshot is therefore a consistent point-in-time view that never changes
// underneath its holder, which is what the batch orchestrator merges against.
//
// # Identity
//
// Records are addressed exclusively by ImageID. Insertion order is kept for
// presentation, but no operation takes an index.
//
// # Generations
//
// Every write stamps the record with a fresh, store-wide monotonic
// generation. ApplyIfCurrent only accepts an update whose Generation equals the
// stored one, so an outcome computed against a record that was since replaced,
// removed or re-uploaded is rejected as stale.
package store

import (
	"errors"
	"sync"

	"github.com/benbjohnson/immutable"
	"github.com/sirupsen/logrus"

	"github.com/imagepress/imagepress"
)

var (
	// ErrNotFound is returned when no record carries the requested ImageID.
	ErrNotFound = errors.New("image not found")

	// ErrStale is returned when an update was computed against an older
	// generation of the record.
	ErrStale = errors.New("stale update")
)

// Snapshot is an immutable view of the collection.
type Snapshot struct {
	order   *immutable.List[string]
	records *immutable.Map[string, imagepress.ImageRecord]
}

func emptySnapshot() Snapshot {
	return Snapshot{
		order:   immutable.NewList[string](),
		records: immutable.NewMap[string, imagepress.ImageRecord](immutable.NewHasher("")),
	}
}

// Len returns the number of records.
func (s Snapshot) Len() int {
	if s.order == nil {
		return 0
	}
	return s.order.Len()
}

// Get returns the record for id.
func (s Snapshot) Get(id string) (imagepress.ImageRecord, bool) {
	if s.records == nil {
		return imagepress.ImageRecord{}, false
	}
	return s.records.Get(id)
}

// Records returns the records in insertion order.
func (s Snapshot) Records() []imagepress.ImageRecord {
	out := make([]imagepress.ImageRecord, 0, s.Len())
	if s.order == nil {
		return out
	}
	itr := s.order.Iterator()
	for !itr.Done() {
		_, id := itr.Next()
		if rec, ok := s.records.Get(id); ok {
			out = append(out, rec)
		}
	}
	return out
}

// IDs returns the image IDs in insertion order.
func (s Snapshot) IDs() []string {
	out := make([]string, 0, s.Len())
	if s.order == nil {
		return out
	}
	itr := s.order.Iterator()
	for !itr.Done() {
		_, id := itr.Next()
		out = append(out, id)
	}
	return out
}

// Store is the single owner of ImageRecord values.
type Store struct {
	mu      sync.Mutex
	current Snapshot
	gen     uint64
	logger  logrus.FieldLogger

	subMu sync.RWMutex
	subs  []func(Snapshot)
}

// New creates an empty store.
func New() *Store {
	return &Store{
		current: emptySnapshot(),
		logger:  logrus.StandardLogger().WithField("component", "store"),
	}
}

// SetLogger replaces the logger used for write tracing.
func (s *Store) SetLogger(logger logrus.FieldLogger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger.WithField("component", "store")
}

// Subscribe registers fn to be called with the new snapshot after every
// successful write. Callbacks run synchronously on the writer's goroutine.
func (s *Store) Subscribe(fn func(Snapshot)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, fn)
}

// Snapshot returns the current view.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Records returns the current records in insertion order.
func (s *Store) Records() []imagepress.ImageRecord {
	return s.Snapshot().Records()
}

// Get returns the current record for id.
func (s *Store) Get(id string) (imagepress.ImageRecord, bool) {
	return s.Snapshot().Get(id)
}

// Len returns the number of tracked images.
func (s *Store) Len() int {
	return s.Snapshot().Len()
}

// Add seeds records. A record whose ImageID is already present replaces the
// existing one in place and receives a new generation. The stamped records
// are returned.
func (s *Store) Add(recs ...imagepress.ImageRecord) []imagepress.ImageRecord {
	if len(recs) == 0 {
		return nil
	}

	s.mu.Lock()
	next := s.current
	stamped := make([]imagepress.ImageRecord, 0, len(recs))
	for _, rec := range recs {
		if _, exists := next.records.Get(rec.ImageID); !exists {
			next.order = next.order.Append(rec.ImageID)
		}
		s.gen++
		rec.Generation = s.gen
		next.records = next.records.Set(rec.ImageID, rec)
		stamped = append(stamped, rec)
	}
	s.current = next
	logger := s.logger
	s.mu.Unlock()

	logger.WithField("count", len(stamped)).Debug("records added")
	s.notify(next)
	return stamped
}

// Replace stores rec in place of the record with the same ImageID,
// regardless of generation.
func (s *Store) Replace(rec imagepress.ImageRecord) (imagepress.ImageRecord, error) {
	s.mu.Lock()
	if _, ok := s.current.records.Get(rec.ImageID); !ok {
		s.mu.Unlock()
		return imagepress.ImageRecord{}, ErrNotFound
	}
	s.gen++
	rec.Generation = s.gen
	next := s.current
	next.records = next.records.Set(rec.ImageID, rec)
	s.current = next
	s.mu.Unlock()

	s.notify(next)
	return rec, nil
}

// ApplyIfCurrent stores each update whose Generation matches the generation
// currently stored for its ImageID. All accepted updates become visible in a
// single new snapshot. Rejected updates are reported in stale; updates for
// removed images are reported in missing.
func (s *Store) ApplyIfCurrent(updates []imagepress.ImageRecord) (applied, stale, missing []string) {
	if len(updates) == 0 {
		return nil, nil, nil
	}

	s.mu.Lock()
	next := s.current
	for _, upd := range updates {
		cur, ok := next.records.Get(upd.ImageID)
		switch {
		case !ok:
			missing = append(missing, upd.ImageID)
			continue
		case cur.Generation != upd.Generation:
			stale = append(stale, upd.ImageID)
			continue
		}
		s.gen++
		upd.Generation = s.gen
		next.records = next.records.Set(upd.ImageID, upd)
		applied = append(applied, upd.ImageID)
	}
	if len(applied) > 0 {
		s.current = next
	}
	logger := s.logger
	s.mu.Unlock()

	if len(stale) > 0 || len(missing) > 0 {
		logger.WithFields(logrus.Fields{
			"applied": len(applied),
			"stale":   len(stale),
			"missing": len(missing),
		}).Warn("some updates were not applied")
	}
	if len(applied) > 0 {
		s.notify(next)
	}
	return applied, stale, missing
}

// Remove drops the record for id and reports whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	if _, ok := s.current.records.Get(id); !ok {
		s.mu.Unlock()
		return false
	}
	next := s.current
	next.records = next.records.Delete(id)

	b := immutable.NewListBuilder[string]()
	itr := next.order.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		if v != id {
			b.Append(v)
		}
	}
	next.order = b.List()
	s.current = next
	s.mu.Unlock()

	s.notify(next)
	return true
}

// Clear removes every record.
func (s *Store) Clear() {
	s.mu.Lock()
	s.current = emptySnapshot()
	next := s.current
	s.mu.Unlock()
	s.notify(next)
}

func (s *Store) notify(snap Snapshot) {
	s.subMu.RLock()
	subs := make([]func(Snapshot), len(s.subs))
	copy(subs, s.subs)
	s.subMu.RUnlock()

	for _, fn := range subs {
		fn(snap)
	}
}
