// Package download exports the current variant of every image to a Sink.
//
// The variant exported for each image is the one the tracker selects, or an
// explicit variant chosen by the caller, falling back to the original when
// that variant was never produced for the image. Files are named
// <stem>_<variant>.<ext>; names that collide within one export get the short
// image ID appended.
//
// Exports run concurrently and settle independently: a failed download is
// announced and reported, the remaining files are still written.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/imagepress/imagepress"
	"github.com/imagepress/imagepress/notify"
	"github.com/imagepress/imagepress/perf"
	"github.com/imagepress/imagepress/remote"
	"github.com/imagepress/imagepress/tracker"
)

// Fetcher streams one variant from the backend. *remote.Client implements it.
type Fetcher interface {
	Download(ctx context.Context, imageID string, kind imagepress.VariantKind) (*remote.Blob, error)
}

// Sink stores one exported file and returns where it ended up.
type Sink interface {
	Put(ctx context.Context, name string, body io.Reader, size int64) (string, error)
}

// Item is the outcome of exporting one image.
type Item struct {
	ImageID  string
	FileName string
	Kind     imagepress.VariantKind
	Name     string

	// Location is the sink's address for the file (a path or an s3:// URL).
	Location  string
	SizeBytes int64
	Checksum  string
	Err       error
}

// Report lists one Item per exported image, in input order.
type Report struct {
	BatchID string
	Items   []Item
	Failed  int
}

// Exporter downloads variants and hands them to a Sink.
type Exporter struct {
	fetcher     Fetcher
	sink        Sink
	notices     *notify.Center
	logger      logrus.FieldLogger
	maxInFlight int
}

// NewExporter creates an exporter. notices may be nil.
func NewExporter(fetcher Fetcher, sink Sink, notices *notify.Center) *Exporter {
	return &Exporter{
		fetcher: fetcher,
		sink:    sink,
		notices: notices,
		logger:  logrus.StandardLogger().WithField("component", "export"),
	}
}

// SetLogger replaces the logger.
func (e *Exporter) SetLogger(logger logrus.FieldLogger) {
	e.logger = logger.WithField("component", "export")
}

// SetMaxInFlight bounds concurrent downloads; 0 means unbounded.
func (e *Exporter) SetMaxInFlight(n int) {
	e.maxInFlight = n
}

// Export writes the variant of each record selected by state.
func (e *Exporter) Export(ctx context.Context, records []imagepress.ImageRecord, state imagepress.OperationKind) (Report, error) {
	return e.ExportVariant(ctx, records, state, "")
}

// ExportVariant writes variant for every record instead of the tracker's
// selection. An empty variant means the selection for state.
func (e *Exporter) ExportVariant(ctx context.Context, records []imagepress.ImageRecord, state imagepress.OperationKind, variant imagepress.VariantKind) (Report, error) {
	report := Report{BatchID: imagepress.NewBatchID()}
	if len(records) == 0 {
		e.notices.Warn("No images available for download")
		return report, imagepress.Invalid("No images available for download")
	}

	logger := e.logger.WithFields(logrus.Fields{
		"batch_id": report.BatchID,
		"state":    state,
		"variant":  variant,
		"images":   len(records),
	})
	logger.Info("starting export")
	start := time.Now()

	report.Items = plan(records, state, variant)
	var g errgroup.Group
	if e.maxInFlight > 0 {
		g.SetLimit(e.maxInFlight)
	}
	for i, rec := range records {
		g.Go(func() error {
			e.exportOne(ctx, rec, &report.Items[i], logger)
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range report.Items {
		if item.Err == nil {
			continue
		}
		report.Failed++
		e.notices.ImageFailed(report.BatchID, "Download", item.ImageID, item.FileName, item.Err)
	}
	e.notices.BatchResult(report.BatchID, "Download", len(records)-report.Failed, report.Failed)

	logger.WithFields(logrus.Fields{
		"failed":      report.Failed,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("export finished")
	return report, nil
}

// plan picks the variant and a unique file name for every record before any
// download starts, so concurrent writes never target the same name.
func plan(records []imagepress.ImageRecord, state imagepress.OperationKind, variant imagepress.VariantKind) []Item {
	items := make([]Item, len(records))
	taken := make(map[string]bool, len(records))
	for i, rec := range records {
		kind := exportKind(state, variant, rec)
		name := rec.DownloadName(kind)
		if taken[strings.ToLower(name)] {
			ext := path.Ext(name)
			base := strings.TrimSuffix(name, ext) + "-" + shortID(rec.ImageID)
			name = base + ext
			for n := 2; taken[strings.ToLower(name)]; n++ {
				name = fmt.Sprintf("%s-%d%s", base, n, ext)
			}
		}
		taken[strings.ToLower(name)] = true
		items[i] = Item{ImageID: rec.ImageID, FileName: rec.FileName, Kind: kind, Name: name}
	}
	return items
}

func exportKind(state imagepress.OperationKind, variant imagepress.VariantKind, rec imagepress.ImageRecord) imagepress.VariantKind {
	if variant == "" {
		kind, _ := tracker.Resolve(state, rec)
		return kind
	}
	if rec.Ref(variant) == "" {
		return imagepress.VariantOriginal
	}
	return variant
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (e *Exporter) exportOne(ctx context.Context, rec imagepress.ImageRecord, item *Item, logger logrus.FieldLogger) {
	kind := item.Kind
	logger = logger.WithFields(logrus.Fields{"image_id": rec.ImageID, "name": item.Name})

	blob, err := e.fetcher.Download(ctx, rec.ImageID, kind)
	if err != nil {
		item.Err = reason(err)
		return
	}
	defer blob.Body.Close()

	hash := sha256.New()
	counter := &countingReader{r: io.TeeReader(newProgressReader(blob.Body, logger, blob.Size, 2*time.Second), hash)}
	loc, err := e.sink.Put(ctx, item.Name, counter, blob.Size)
	if err != nil {
		item.Err = err
		return
	}

	item.Location = loc
	item.SizeBytes = counter.n
	item.Checksum = hex.EncodeToString(hash.Sum(nil))
	logger.WithFields(logrus.Fields{
		"location": loc,
		"size":     perf.FormatBytes(counter.n),
	}).Debug("variant exported")
}

// reason shortens remote errors to the backend's explanation.
func reason(err error) error {
	return fmt.Errorf("%s: %w", remote.Reason(err), remote.ErrFetch)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n += int64(n)
	return n, err
}
