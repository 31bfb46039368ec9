package orchestrator

import (
	"time"

	"github.com/imagepress/imagepress"
	"github.com/imagepress/imagepress/remote"
)

// Outcome is the settled result of one per-image call. Outcomes are stored
// by Index, the position of the image in the batch input.
type Outcome struct {
	Index    int
	ImageID  string
	FileName string

	// Generation is the record generation the call was issued against.
	Generation uint64

	Variant  imagepress.VariantKind
	Result   remote.Result[string]
	Duration time.Duration
}

// OK reports whether the call produced a reference.
func (o Outcome) OK() bool { return o.Result.OK() }

// Merge returns records with every successful outcome applied by ImageID.
// Failed outcomes and records without an outcome are returned unchanged.
// The input is not modified, and the result does not depend on the order of
// outcomes: when two successes name the same image the one with the lower
// Index wins.
func Merge(records []imagepress.ImageRecord, outcomes []Outcome) []imagepress.ImageRecord {
	winners := make(map[string]Outcome, len(outcomes))
	for _, o := range outcomes {
		if !o.OK() {
			continue
		}
		if prev, ok := winners[o.ImageID]; ok && prev.Index <= o.Index {
			continue
		}
		winners[o.ImageID] = o
	}

	out := make([]imagepress.ImageRecord, len(records))
	for i, rec := range records {
		if o, ok := winners[rec.ImageID]; ok {
			rec = rec.WithRef(o.Variant, o.Result.Value())
		}
		out[i] = rec
	}
	return out
}

// updates returns the merged records that changed, in input order.
func updates(records []imagepress.ImageRecord, outcomes []Outcome) []imagepress.ImageRecord {
	ok := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		if o.OK() {
			ok[o.ImageID] = true
		}
	}
	var out []imagepress.ImageRecord
	for _, rec := range Merge(records, outcomes) {
		if ok[rec.ImageID] {
			out = append(out, rec)
			delete(ok, rec.ImageID)
		}
	}
	return out
}
