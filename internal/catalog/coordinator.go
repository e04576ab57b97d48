package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shelfsync/shelfsync/internal/metrics"
)

const DefaultDebounce = 100 * time.Millisecond

// Coordinator serializes quantity writes. At most one mutation job is alive
// at a time across both sources; requesting a new mutation unconditionally
// cancels the previous one, so rapid stepper edits collapse into the
// most-recent write and a superseded job can never apply a stale patch.
type Coordinator struct {
	catalog  *Catalog
	debounce time.Duration
	history  MutationHistory
	logger   *log.Logger

	mu     sync.Mutex
	active *mutationJob
	closed bool
	wg     sync.WaitGroup
}

type mutationJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type CoordinatorOptions struct {
	Catalog  *Catalog
	Debounce time.Duration
	History  MutationHistory
	Logger   *log.Logger
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	history := opts.History
	if history == nil {
		history = NewMemoryHistory(0)
	}
	return &Coordinator{
		catalog:  opts.Catalog,
		debounce: debounce,
		history:  history,
		logger:   logger,
	}
}

// Request schedules a debounced quantity write. The only error returned is a
// caller bug (unknown source, closed coordinator); write failures are logged
// and recorded, never propagated.
func (c *Coordinator) Request(kind SourceKind, mutationKey string, quantity int) error {
	adapter, ok := c.catalog.adapter(kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidSelection, kind)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prev := c.active
	ctx, cancel := context.WithCancel(context.Background())
	job := &mutationJob{cancel: cancel, done: make(chan struct{})}
	c.active = job
	c.wg.Add(1)
	c.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	go c.run(ctx, job, adapter, mutationKey, quantity)
	return nil
}

func (c *Coordinator) run(ctx context.Context, job *mutationJob, adapter SourceAdapter, mutationKey string, quantity int) {
	defer close(job.done)
	defer c.wg.Done()
	defer job.cancel()

	kind := adapter.Kind()

	timer := time.NewTimer(c.debounce)
	select {
	case <-ctx.Done():
		timer.Stop()
		c.logger.Printf("mutation %s/%s superseded during debounce", kind, mutationKey)
		metrics.RecordMutationSuperseded(kind.String())
		return
	case <-timer.C:
	}

	updated, err := adapter.UpdateQuantity(ctx, mutationKey, quantity)
	if ctx.Err() != nil {
		// A newer request won while this write was in flight; its result
		// must not reach the cache.
		c.logger.Printf("mutation %s/%s superseded mid-flight", kind, mutationKey)
		metrics.RecordMutationSuperseded(kind.String())
		return
	}
	if err != nil {
		if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
			c.logger.Printf("mutation %s/%s cancelled", kind, mutationKey)
			metrics.RecordMutation(kind.String(), "cancelled")
			return
		}
		if errors.Is(err, ErrDataConsistency) {
			c.logger.Printf("ALERT: mutation %s/%s hit a backend invariant violation: %v", kind, mutationKey, err)
		} else {
			c.logger.Printf("mutation %s/%s failed: %v", kind, mutationKey, err)
		}
		metrics.RecordMutation(kind.String(), "failed")
		c.recordHistory(MutationRecord{
			Source:    kind.String(),
			Key:       mutationKey,
			Quantity:  quantity,
			Status:    MutationFailed,
			Detail:    err.Error(),
			CreatedAt: time.Now().UTC(),
		})
		return
	}

	c.catalog.PatchQuantity(kind, mutationKey, updated.Quantity)
	metrics.RecordMutation(kind.String(), "applied")
	c.recordHistory(MutationRecord{
		Source:    kind.String(),
		Key:       mutationKey,
		Quantity:  updated.Quantity,
		Status:    MutationApplied,
		CreatedAt: time.Now().UTC(),
	})
}

func (c *Coordinator) recordHistory(rec MutationRecord) {
	if err := c.history.Record(rec); err != nil {
		c.logger.Printf("recording mutation history: %v", err)
	}
}

// ApplyFeed writes a batch of quantity updates synchronously, bypassing the
// debounce. Feed rows are keyed by display sku; rows whose sku is not in the
// source's collection are skipped. The active debounced job, if any, is
// cancelled first so the feed cannot race a stepper edit.
func (c *Coordinator) ApplyFeed(ctx context.Context, kind SourceKind, items []FeedItem) (applied, skipped int, err error) {
	adapter, ok := c.catalog.adapter(kind)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidSelection, kind)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, 0, ErrClosed
	}
	prev := c.active
	c.active = nil
	c.mu.Unlock()
	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return applied, skipped, fmt.Errorf("%w: feed import interrupted: %v", ErrCancelled, ctx.Err())
		}
		listing, ok := c.catalog.FindBySKU(kind, item.SKU)
		if !ok {
			skipped++
			continue
		}
		updated, writeErr := adapter.UpdateQuantity(ctx, listing.MutationKey, item.Quantity)
		if writeErr != nil {
			c.logger.Printf("feed import %s/%s failed: %v", kind, item.SKU, writeErr)
			metrics.RecordMutation(kind.String(), "failed")
			c.recordHistory(MutationRecord{
				Source:    kind.String(),
				Key:       listing.MutationKey,
				Quantity:  item.Quantity,
				Status:    MutationFailed,
				Detail:    writeErr.Error(),
				CreatedAt: time.Now().UTC(),
			})
			return applied, skipped, writeErr
		}
		c.catalog.PatchQuantity(kind, listing.matchKey(), updated.Quantity)
		metrics.RecordMutation(kind.String(), "applied")
		c.recordHistory(MutationRecord{
			Source:    kind.String(),
			Key:       listing.MutationKey,
			Quantity:  updated.Quantity,
			Status:    MutationApplied,
			CreatedAt: time.Now().UTC(),
		})
		applied++
	}
	return applied, skipped, nil
}

// Close cancels the active job and waits for every spawned job to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	active := c.active
	c.active = nil
	c.mu.Unlock()
	if active != nil {
		active.cancel()
	}
	c.wg.Wait()
}
