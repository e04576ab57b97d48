package catalog

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

type stubAdapter struct {
	kind       SourceKind
	refetch    bool
	fetchCalls int32
	fetchFn    func(ctx context.Context) ([]Listing, error)
	updateFn   func(ctx context.Context, mutationKey string, quantity int) (Listing, error)
}

func (a *stubAdapter) Kind() SourceKind {
	return a.kind
}

func (a *stubAdapter) RefetchOnSelect() bool {
	return a.refetch
}

func (a *stubAdapter) Fetch(ctx context.Context) ([]Listing, error) {
	atomic.AddInt32(&a.fetchCalls, 1)
	if a.fetchFn == nil {
		return nil, nil
	}
	return a.fetchFn(ctx)
}

func (a *stubAdapter) UpdateQuantity(ctx context.Context, mutationKey string, quantity int) (Listing, error) {
	if a.updateFn == nil {
		return Listing{Source: a.kind, MutationKey: mutationKey, ProductSKU: mutationKey, Quantity: quantity}, nil
	}
	return a.updateFn(ctx, mutationKey, quantity)
}

func fixedListings(kind SourceKind, listings ...Listing) func(ctx context.Context) ([]Listing, error) {
	for i := range listings {
		listings[i].Source = kind
	}
	return func(ctx context.Context) ([]Listing, error) {
		out := make([]Listing, len(listings))
		copy(out, listings)
		return out, nil
	}
}

func newTestCatalog(adapters ...SourceAdapter) *Catalog {
	return NewCatalog(CatalogOptions{Adapters: adapters, Logger: discardLogger()})
}

func TestSelectSourceReplacesCollectionWholesale(t *testing.T) {
	adapter := &stubAdapter{
		kind:    SourceShopify,
		refetch: true,
		fetchFn: fixedListings(SourceShopify,
			Listing{ProductSKU: "A", MutationKey: "1", Quantity: 2},
			Listing{ProductSKU: "B", MutationKey: "2", Quantity: 5},
		),
	}
	cat := newTestCatalog(adapter)

	if listings := cat.Listings(); listings != nil {
		t.Fatalf("expected nil before any selection, got %+v", listings)
	}
	if err := cat.SelectSource(context.Background(), SourceShopify); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	listings := cat.Listings()
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}
	kind, active := cat.ActiveSource()
	if !active || kind != SourceShopify {
		t.Fatalf("expected shopify active, got %v active=%v", kind, active)
	}

	adapter.fetchFn = fixedListings(SourceShopify, Listing{ProductSKU: "C", MutationKey: "3", Quantity: 1})
	if err := cat.SelectSource(context.Background(), SourceShopify); err != nil {
		t.Fatalf("second select failed: %v", err)
	}
	listings = cat.Listings()
	if len(listings) != 1 || listings[0].ProductSKU != "C" {
		t.Fatalf("expected the collection to be replaced wholesale, got %+v", listings)
	}
}

func TestSelectSourceFetchFailureKeepsPreviousCollection(t *testing.T) {
	adapter := &stubAdapter{
		kind:    SourceShopify,
		refetch: true,
		fetchFn: fixedListings(SourceShopify, Listing{ProductSKU: "A", MutationKey: "1", Quantity: 2}),
	}
	cat := newTestCatalog(adapter)
	if err := cat.SelectSource(context.Background(), SourceShopify); err != nil {
		t.Fatalf("select failed: %v", err)
	}

	adapter.fetchFn = func(ctx context.Context) ([]Listing, error) {
		return nil, fmt.Errorf("%w: backend down", ErrNetwork)
	}
	if err := cat.SelectSource(context.Background(), SourceShopify); err != nil {
		t.Fatalf("fetch failure must not surface as a select error, got %v", err)
	}
	listings := cat.Listings()
	if len(listings) != 1 || listings[0].ProductSKU != "A" {
		t.Fatalf("expected the previous collection to survive, got %+v", listings)
	}
}

func TestSelectSourceUnknownKind(t *testing.T) {
	cat := newTestCatalog(&stubAdapter{kind: SourceShopify, refetch: true})
	if err := cat.SelectSource(context.Background(), SourceKind(7)); err == nil {
		t.Fatal("expected an error for an unknown source")
	}
}

func TestSelectSourceReusesPopulatedCacheWhenRefetchDisabled(t *testing.T) {
	adapter := &stubAdapter{
		kind:    SourceSquare,
		fetchFn: fixedListings(SourceSquare, Listing{ProductSKU: "CAN-1", MutationKey: "CAN-1", Quantity: 3}),
	}
	cat := newTestCatalog(adapter)

	if err := cat.SelectSource(context.Background(), SourceSquare); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if err := cat.SelectSource(context.Background(), SourceSquare); err != nil {
		t.Fatalf("reselect failed: %v", err)
	}
	if got := atomic.LoadInt32(&adapter.fetchCalls); got != 1 {
		t.Fatalf("expected the populated cache to be reused, fetch ran %d times", got)
	}

	cat.ClearSource(SourceSquare)
	if err := cat.SelectSource(context.Background(), SourceSquare); err != nil {
		t.Fatalf("select after clear failed: %v", err)
	}
	if got := atomic.LoadInt32(&adapter.fetchCalls); got != 2 {
		t.Fatalf("expected a forced refetch after clear, fetch ran %d times", got)
	}
}

func TestSelectSourceAlwaysRefetchesWhenEnabled(t *testing.T) {
	adapter := &stubAdapter{
		kind:    SourceShopify,
		refetch: true,
		fetchFn: fixedListings(SourceShopify, Listing{ProductSKU: "A", MutationKey: "1", Quantity: 2}),
	}
	cat := newTestCatalog(adapter)

	for i := 0; i < 3; i++ {
		if err := cat.SelectSource(context.Background(), SourceShopify); err != nil {
			t.Fatalf("select %d failed: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&adapter.fetchCalls); got != 3 {
		t.Fatalf("expected a fetch per selection, got %d", got)
	}
}

func TestSubscribeDeliversLatestSnapshot(t *testing.T) {
	adapter := &stubAdapter{
		kind:    SourceShopify,
		refetch: true,
		fetchFn: fixedListings(SourceShopify, Listing{ProductSKU: "A", MutationKey: "1", Quantity: 2}),
	}
	cat := newTestCatalog(adapter)
	id, updates := cat.Subscribe()
	defer cat.Unsubscribe(id)

	if err := cat.SelectSource(context.Background(), SourceShopify); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	select {
	case snapshot := <-updates:
		if len(snapshot) != 1 || snapshot[0].ProductSKU != "A" {
			t.Fatalf("unexpected snapshot %+v", snapshot)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber was not notified")
	}

	// Two quick changes without a read in between: only the latest snapshot
	// must be observable.
	cat.PatchQuantity(SourceShopify, "1", 10)
	cat.PatchQuantity(SourceShopify, "1", 11)
	select {
	case snapshot := <-updates:
		if len(snapshot) != 1 || snapshot[0].Quantity != 11 {
			t.Fatalf("expected the latest snapshot, got %+v", snapshot)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber missed the patched snapshot")
	}
}

func TestPatchQuantitySwapsCopy(t *testing.T) {
	adapter := &stubAdapter{
		kind:    SourceShopify,
		refetch: true,
		fetchFn: fixedListings(SourceShopify,
			Listing{ProductSKU: "A", MutationKey: "1", Quantity: 2},
			Listing{ProductSKU: "B", MutationKey: "2", Quantity: 5},
		),
	}
	cat := newTestCatalog(adapter)
	if err := cat.SelectSource(context.Background(), SourceShopify); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	before := cat.Listings()

	if !cat.PatchQuantity(SourceShopify, "2", 50) {
		t.Fatal("expected the patch to land")
	}
	after := cat.Listings()
	if after[1].Quantity != 50 {
		t.Fatalf("expected patched quantity 50, got %d", after[1].Quantity)
	}
	if before[1].Quantity != 5 {
		t.Fatalf("a previously taken snapshot was mutated: %+v", before[1])
	}
	if after[0].Quantity != 2 {
		t.Fatalf("unrelated listing changed: %+v", after[0])
	}
}

func TestPatchQuantityUnmatchedKeyIsNoOp(t *testing.T) {
	adapter := &stubAdapter{
		kind:    SourceShopify,
		refetch: true,
		fetchFn: fixedListings(SourceShopify, Listing{ProductSKU: "A", MutationKey: "1", Quantity: 2}),
	}
	cat := newTestCatalog(adapter)
	if err := cat.SelectSource(context.Background(), SourceShopify); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if cat.PatchQuantity(SourceShopify, "gone", 99) {
		t.Fatal("expected a patch against a missing key to be a no-op")
	}
	listings := cat.Listings()
	if len(listings) != 1 || listings[0].Quantity != 2 {
		t.Fatalf("collection changed by a no-op patch: %+v", listings)
	}
}

func TestSelectedSlotCopiesInAndOut(t *testing.T) {
	cat := newTestCatalog(&stubAdapter{kind: SourceShopify, refetch: true})
	original := Listing{Source: SourceShopify, ProductSKU: "A", MutationKey: "1", Quantity: 2}

	cat.SetSelected(&original)
	original.Quantity = 99

	held := cat.Selected()
	if held == nil || held.Quantity != 2 {
		t.Fatalf("selected slot aliased the caller's listing: %+v", held)
	}
	held.Quantity = 77
	if again := cat.Selected(); again.Quantity != 2 {
		t.Fatalf("selected slot aliased the returned listing: %+v", again)
	}

	cat.SetSelected(nil)
	if cat.Selected() != nil {
		t.Fatal("expected the selected slot to clear")
	}
}
