// Package tracker records which batch transform was last applied
// successfully and resolves the "current" variant of an image from it.
//
// The tracker is a selector only. It never gates which operation may run.
//
//	              upload batch
//	any state ──────────────────▶ none
//
//	compress(webp) ≥1 ok   ─▶ compressWithWebp
//	compress(jpeg) ≥1 ok   ─▶ compressWithJpeg
//	watermark      ≥1 ok   ─▶ watermark
//	basic op       ≥1 ok   ─▶ basicOperation
//	any batch, 0 ok        ─▶ (unchanged)
package tracker

import (
	"sync"

	"github.com/imagepress/imagepress"
)

// Transition is passed to observers after every state change.
type Transition struct {
	From imagepress.OperationKind
	To   imagepress.OperationKind
}

// Tracker is the operation state machine. The zero value is not usable; use
// New.
type Tracker struct {
	mu        sync.RWMutex
	state     imagepress.OperationKind
	observers []func(Transition)
}

// New returns a tracker in state none.
func New() *Tracker {
	return &Tracker{state: imagepress.OpNone}
}

// State returns the current state.
func (t *Tracker) State() imagepress.OperationKind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Subscribe registers fn to run after each state change.
func (t *Tracker) Subscribe(fn func(Transition)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// UploadBatchArrived resets the tracker to none. It applies even when other
// images are already tracked.
func (t *Tracker) UploadBatchArrived() {
	t.set(imagepress.OpNone)
}

// BatchSettled advances the tracker to kind when the batch produced at least
// one success. A fully failed batch leaves the state unchanged. It reports
// whether the state was set.
func (t *Tracker) BatchSettled(kind imagepress.OperationKind, succeeded int) bool {
	if succeeded <= 0 || kind == imagepress.OpNone {
		return false
	}
	t.set(kind)
	return true
}

func (t *Tracker) set(to imagepress.OperationKind) {
	t.mu.Lock()
	from := t.state
	t.state = to
	observers := make([]func(Transition), len(t.observers))
	copy(observers, t.observers)
	t.mu.Unlock()

	if from == to {
		return
	}
	for _, fn := range observers {
		fn(Transition{From: from, To: to})
	}
}

// Current resolves the variant of rec selected by the current state.
func (t *Tracker) Current(rec imagepress.ImageRecord) (imagepress.VariantKind, string) {
	return Resolve(t.State(), rec)
}

// Selected returns the variant kind a state selects, before any fallback.
func Selected(state imagepress.OperationKind) imagepress.VariantKind {
	switch state {
	case imagepress.OpCompressWithWebP:
		return imagepress.VariantWebP
	case imagepress.OpCompressWithJPEG:
		return imagepress.VariantJPEG
	case imagepress.OpWatermark:
		return imagepress.VariantWatermarked
	case imagepress.OpBasicOperation:
		return imagepress.VariantModified
	default:
		return imagepress.VariantOriginal
	}
}

// Resolve returns the variant kind and reference to treat as current for
// rec. When the selected variant was never produced for this image the
// original is returned.
func Resolve(state imagepress.OperationKind, rec imagepress.ImageRecord) (imagepress.VariantKind, string) {
	kind := Selected(state)
	if ref := rec.Ref(kind); ref != "" {
		return kind, ref
	}
	return imagepress.VariantOriginal, rec.OriginalRef
}
