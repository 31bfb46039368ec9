package orchestrator

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"github.com/imagepress/imagepress"
	"github.com/imagepress/imagepress/remote"
)

func sampleRecords() []imagepress.ImageRecord {
	return []imagepress.ImageRecord{
		{ImageID: "a", FileName: "a.jpg", OriginalRef: "uploads/a", Generation: 1},
		{ImageID: "b", FileName: "b.jpg", OriginalRef: "uploads/b", Generation: 2},
		{ImageID: "c", FileName: "c.jpg", OriginalRef: "uploads/c", Generation: 3},
		{ImageID: "d", FileName: "d.jpg", OriginalRef: "uploads/d", Generation: 4},
	}
}

func sampleOutcomes() []Outcome {
	ok := func(i int, id, ref string) Outcome {
		return Outcome{Index: i, ImageID: id, Variant: imagepress.VariantWebP, Result: remote.Ok(ref)}
	}
	return []Outcome{
		ok(0, "a", "compressed/a.webp"),
		{Index: 1, ImageID: "b", Variant: imagepress.VariantWebP, Result: remote.Fail[string](errors.New("boom"))},
		ok(2, "c", "compressed/c.webp"),
		ok(3, "d", "compressed/d.webp"),
	}
}

func TestMergeAppliesSuccessesOnly(t *testing.T) {
	records := sampleRecords()
	merged := Merge(records, sampleOutcomes())

	want := []string{"compressed/a.webp", "", "compressed/c.webp", "compressed/d.webp"}
	for i, rec := range merged {
		if rec.WebPRef != want[i] {
			t.Errorf("%s webp = %q, want %q", rec.ImageID, rec.WebPRef, want[i])
		}
		if rec.Generation != records[i].Generation {
			t.Errorf("%s generation changed", rec.ImageID)
		}
	}
	if !reflect.DeepEqual(merged[1], records[1]) {
		t.Errorf("failed record changed: %+v", merged[1])
	}
	if !reflect.DeepEqual(records, sampleRecords()) {
		t.Errorf("input modified")
	}
}

func TestMergeIndependentOfCompletionOrder(t *testing.T) {
	records := sampleRecords()
	outcomes := sampleOutcomes()
	want := Merge(records, outcomes)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		shuffled := append([]Outcome(nil), outcomes...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if got := Merge(records, shuffled); !reflect.DeepEqual(got, want) {
			t.Fatalf("permutation %d changed result:\n%+v\nwant\n%+v", i, got, want)
		}
	}
}

func TestMergeDuplicateLowestIndexWins(t *testing.T) {
	records := sampleRecords()[:1]
	outcomes := []Outcome{
		{Index: 5, ImageID: "a", Variant: imagepress.VariantJPEG, Result: remote.Ok("late")},
		{Index: 0, ImageID: "a", Variant: imagepress.VariantJPEG, Result: remote.Ok("early")},
	}
	if got := Merge(records, outcomes)[0].JPEGRef; got != "early" {
		t.Fatalf("JPEGRef = %q", got)
	}
}

func TestMergeIgnoresUnknownImages(t *testing.T) {
	records := sampleRecords()
	outcomes := []Outcome{{Index: 0, ImageID: "zzz", Variant: imagepress.VariantWebP, Result: remote.Ok("x")}}
	if got := Merge(records, outcomes); !reflect.DeepEqual(got, records) {
		t.Fatalf("unknown outcome changed records")
	}
}

func TestUpdatesReturnsChangedRecords(t *testing.T) {
	upd := updates(sampleRecords(), sampleOutcomes())
	if len(upd) != 3 {
		t.Fatalf("updates = %d", len(upd))
	}
	for _, rec := range upd {
		if rec.ImageID == "b" {
			t.Fatalf("failed image in updates")
		}
	}
}
