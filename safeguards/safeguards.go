// Package safeguards provides concurrency control and recovery mechanisms
// for batch operations.
//
// Three pieces:
//
//   - BatchGuard leases image IDs to a batch. A second batch that touches a
//     leased image is rejected before it issues any request.
//   - SlotGuard bounds how many per-image requests are in flight at once.
//   - RecoverableOperation turns a panic in one task into an error.
package safeguards

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/sirupsen/logrus"
)

// ErrBatchInProgress is returned when a batch overlaps one still in flight.
var ErrBatchInProgress = errors.New("another batch is already processing this image")

const leaseTable = "lease"

// Lease records that ImageID belongs to an in-flight batch.
type Lease struct {
	ImageID  string
	BatchID  string
	Op       string
	Acquired time.Time
}

// ConflictError names the image and batch that blocked an acquisition.
type ConflictError struct {
	ImageID string
	Holder  Lease
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("image %s is held by %s batch %s", e.ImageID, e.Holder.Op, e.Holder.BatchID)
}

func (e *ConflictError) Unwrap() error { return ErrBatchInProgress }

// BatchGuard tracks image leases in an in-memory table.
type BatchGuard struct {
	db     *memdb.MemDB
	logger logrus.FieldLogger
}

func leaseSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			leaseTable: {
				Name: leaseTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ImageID"},
					},
					"batch": {
						Name:    "batch",
						Indexer: &memdb.StringFieldIndex{Field: "BatchID"},
					},
				},
			},
		},
	}
}

// NewBatchGuard creates an empty guard.
func NewBatchGuard(logger logrus.FieldLogger) *BatchGuard {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	db, err := memdb.NewMemDB(leaseSchema())
	if err != nil {
		// The schema is static; a failure here is a programming error.
		panic(fmt.Sprintf("safeguards: invalid lease schema: %v", err))
	}
	return &BatchGuard{db: db, logger: logger.WithField("component", "batch-guard")}
}

// Acquire leases every image in ids to batchID. Either all leases are taken
// or none are, in which case the error is a *ConflictError wrapping
// ErrBatchInProgress.
func (g *BatchGuard) Acquire(batchID, op string, ids []string) error {
	txn := g.db.Txn(true)
	now := time.Now()
	for _, id := range ids {
		raw, err := txn.First(leaseTable, "id", id)
		if err != nil {
			txn.Abort()
			return fmt.Errorf("failed to look up lease for %s: %w", id, err)
		}
		if raw != nil {
			txn.Abort()
			holder := *raw.(*Lease)
			g.logger.WithFields(logrus.Fields{
				"batch_id":  batchID,
				"image_id":  id,
				"holder_id": holder.BatchID,
			}).Warn("rejected overlapping batch")
			return &ConflictError{ImageID: id, Holder: holder}
		}
		if err := txn.Insert(leaseTable, &Lease{ImageID: id, BatchID: batchID, Op: op, Acquired: now}); err != nil {
			txn.Abort()
			return fmt.Errorf("failed to lease %s: %w", id, err)
		}
	}
	txn.Commit()

	g.logger.WithFields(logrus.Fields{
		"batch_id": batchID,
		"op":       op,
		"images":   len(ids),
	}).Debug("acquired image leases")
	return nil
}

// Release drops every lease held by batchID.
func (g *BatchGuard) Release(batchID string) {
	txn := g.db.Txn(true)
	n, err := txn.DeleteAll(leaseTable, "batch", batchID)
	if err != nil {
		txn.Abort()
		g.logger.WithError(err).WithField("batch_id", batchID).Error("failed to release leases")
		return
	}
	txn.Commit()
	g.logger.WithFields(logrus.Fields{"batch_id": batchID, "released": n}).Debug("released image leases")
}

// Held reports whether id is currently leased.
func (g *BatchGuard) Held(id string) bool {
	txn := g.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(leaseTable, "id", id)
	return err == nil && raw != nil
}

// Leases returns every active lease ordered by image ID.
func (g *BatchGuard) Leases() []Lease {
	txn := g.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(leaseTable, "id")
	if err != nil {
		return nil
	}
	var out []Lease
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, *obj.(*Lease))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImageID < out[j].ImageID })
	return out
}

// SlotGuard bounds the number of concurrent per-image requests.
type SlotGuard struct {
	mu        sync.Mutex
	semaphore chan struct{}
	activeOps int
	logger    logrus.FieldLogger
}

// NewSlotGuard allows max concurrent operations. max <= 0 means unbounded,
// in which case Acquire never blocks.
func NewSlotGuard(max int, logger logrus.FieldLogger) *SlotGuard {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	g := &SlotGuard{logger: logger.WithField("component", "slot-guard")}
	if max > 0 {
		g.semaphore = make(chan struct{}, max)
	}
	return g
}

// Acquire takes a slot, waiting until one is free or ctx is done.
func (g *SlotGuard) Acquire(ctx context.Context, opName string) error {
	if g.semaphore != nil {
		select {
		case g.semaphore <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for operation slot: %w", ctx.Err())
		}
	}

	g.mu.Lock()
	g.activeOps++
	active := g.activeOps
	g.mu.Unlock()

	g.logger.WithFields(logrus.Fields{
		"operation":  opName,
		"active_ops": active,
	}).Debug("acquired operation slot")
	return nil
}

// Release frees a slot taken by Acquire.
func (g *SlotGuard) Release(opName string) {
	g.mu.Lock()
	g.activeOps--
	g.mu.Unlock()

	if g.semaphore != nil {
		<-g.semaphore
	}
}

// ActiveOperations returns the number of slots in use.
func (g *SlotGuard) ActiveOperations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeOps
}

// WithOperation runs fn while holding a slot.
func (g *SlotGuard) WithOperation(ctx context.Context, opName string, fn func() error) error {
	if err := g.Acquire(ctx, opName); err != nil {
		return err
	}
	defer g.Release(opName)
	return fn()
}

// RecoverableOperation runs fn and converts a panic into an error.
func RecoverableOperation(logger logrus.FieldLogger, opName string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"operation": opName,
				"panic":     r,
				"stack":     string(debug.Stack()),
			}).Error("recovered from panic in operation")
			err = fmt.Errorf("panic in operation %s: %v", opName, r)
		}
	}()
	return fn()
}
