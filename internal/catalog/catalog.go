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

// Catalog holds one canonical collection per source, tracks which source is
// active, and notifies subscribers whenever the visible collection changes.
// Collections are replaced wholesale by a completed fetch or swapped for a
// patched copy by a completed mutation; they are never mutated in place, so
// readers always observe a settled snapshot.
type Catalog struct {
	mu          sync.RWMutex
	adapters    map[SourceKind]SourceAdapter
	collections map[SourceKind][]Listing
	active      SourceKind
	hasActive   bool
	subscribers map[int]chan []Listing
	nextSubID   int

	selectedMu sync.Mutex
	selected   *Listing

	logger *log.Logger
}

type CatalogOptions struct {
	Adapters []SourceAdapter
	Logger   *log.Logger
}

func NewCatalog(opts CatalogOptions) *Catalog {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	adapters := make(map[SourceKind]SourceAdapter, len(opts.Adapters))
	for _, adapter := range opts.Adapters {
		if adapter == nil {
			continue
		}
		adapters[adapter.Kind()] = adapter
	}
	return &Catalog{
		adapters:    adapters,
		collections: make(map[SourceKind][]Listing, len(adapters)),
		subscribers: map[int]chan []Listing{},
		logger:      logger,
	}
}

// SelectSource makes the source active and triggers its fetch. An unknown
// source is a caller bug and is the only error returned; fetch failures are
// logged and leave the previous collection untouched.
func (c *Catalog) SelectSource(ctx context.Context, kind SourceKind) error {
	adapter, ok := c.adapters[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidSelection, kind)
	}

	c.mu.Lock()
	c.active = kind
	c.hasActive = true
	populated := len(c.collections[kind]) > 0
	c.mu.Unlock()

	if populated && !adapter.RefetchOnSelect() {
		c.notify()
		return nil
	}

	start := time.Now()
	listings, err := adapter.Fetch(ctx)
	if err != nil {
		metrics.RecordFetch(kind.String(), fetchOutcome(err), time.Since(start))
		if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
			c.logger.Printf("fetch %s cancelled", kind)
		} else if errors.Is(err, ErrDataConsistency) {
			c.logger.Printf("ALERT: fetch %s hit a backend invariant violation: %v", kind, err)
		} else {
			c.logger.Printf("fetch %s failed: %v", kind, err)
		}
		c.notify()
		return nil
	}
	metrics.RecordFetch(kind.String(), "ok", time.Since(start))

	c.mu.Lock()
	c.collections[kind] = listings
	c.mu.Unlock()
	c.notify()
	return nil
}

// ClearSource empties a source's collection so the next selection refetches.
// This is the forced-refresh escape hatch for sources that otherwise reuse a
// populated cache.
func (c *Catalog) ClearSource(kind SourceKind) {
	c.mu.Lock()
	delete(c.collections, kind)
	cleared := c.hasActive && c.active == kind
	c.mu.Unlock()
	if cleared {
		c.notify()
	}
}

// Listings returns a snapshot copy of the active source's collection, or nil
// when no source has been selected yet.
func (c *Catalog) Listings() []Listing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasActive {
		return nil
	}
	collection := c.collections[c.active]
	snapshot := make([]Listing, len(collection))
	copy(snapshot, collection)
	return snapshot
}

// ActiveSource reports the currently selected source.
func (c *Catalog) ActiveSource() (SourceKind, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active, c.hasActive
}

// Subscribe registers an observer of the active collection. Each notification
// carries a full snapshot; a slow subscriber only ever loses intermediate
// snapshots, never the latest one.
func (c *Catalog) Subscribe() (int, <-chan []Listing) {
	ch := make(chan []Listing, 1)
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	c.mu.Unlock()
	return id, ch
}

func (c *Catalog) Unsubscribe(id int) {
	c.mu.Lock()
	if ch, ok := c.subscribers[id]; ok {
		delete(c.subscribers, id)
		close(ch)
	}
	c.mu.Unlock()
}

func (c *Catalog) notify() {
	c.mu.RLock()
	var snapshot []Listing
	if c.hasActive {
		collection := c.collections[c.active]
		snapshot = make([]Listing, len(collection))
		copy(snapshot, collection)
	}
	channels := make([]chan []Listing, 0, len(c.subscribers))
	for _, ch := range c.subscribers {
		channels = append(channels, ch)
	}
	c.mu.RUnlock()

	for _, ch := range channels {
		select {
		case ch <- snapshot:
		default:
			// Drop the stale snapshot so the latest one always fits.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

// PatchQuantity swaps in a copy of the source's collection with exactly one
// listing's quantity replaced. No matching listing (a fetch replaced the
// collection underneath the mutation) is a no-op, not an error.
func (c *Catalog) PatchQuantity(kind SourceKind, key string, quantity int) bool {
	c.mu.Lock()
	collection := c.collections[kind]
	patched := false
	for i, listing := range collection {
		if listing.matchKey() != key {
			continue
		}
		updated := make([]Listing, len(collection))
		copy(updated, collection)
		updated[i] = listing.WithQuantity(quantity)
		c.collections[kind] = updated
		patched = true
		break
	}
	c.mu.Unlock()
	if patched {
		c.notify()
	}
	return patched
}

// FindBySKU looks a listing up in a source's collection by display sku.
func (c *Catalog) FindBySKU(kind SourceKind, sku string) (Listing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, listing := range c.collections[kind] {
		if listing.ProductSKU == sku {
			return listing, true
		}
	}
	return Listing{}, false
}

// SetSelected records the listing the user is editing. Last write wins; the
// slot is not observable.
func (c *Catalog) SetSelected(listing *Listing) {
	c.selectedMu.Lock()
	if listing == nil {
		c.selected = nil
	} else {
		copied := *listing
		c.selected = &copied
	}
	c.selectedMu.Unlock()
}

func (c *Catalog) Selected() *Listing {
	c.selectedMu.Lock()
	defer c.selectedMu.Unlock()
	if c.selected == nil {
		return nil
	}
	copied := *c.selected
	return &copied
}

func (c *Catalog) adapter(kind SourceKind) (SourceAdapter, bool) {
	adapter, ok := c.adapters[kind]
	return adapter, ok
}

func fetchOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrServerRejected):
		return "server_error"
	case errors.Is(err, ErrDataConsistency):
		return "consistency"
	default:
		return "unknown"
	}
}
