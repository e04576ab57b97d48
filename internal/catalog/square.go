package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"golang.org/x/time/rate"
)

// SquareClient is the backend surface the two-phase adapter needs. The
// catalog call carries no quantities; each sku needs its own inventory
// lookup, and writes are sku-keyed and idempotent.
type SquareClient interface {
	FetchCatalog(ctx context.Context) (json.RawMessage, error)
	FetchInventoryCount(ctx context.Context, sku string) (json.RawMessage, error)
	WriteInventoryCount(ctx context.Context, sku string, quantity int) (json.RawMessage, error)
}

type squareCatalogPayload struct {
	Items []squareItem `json:"items"`
}

type squareItem struct {
	Name  string `json:"name"`
	SKU   string `json:"sku"`
	Price string `json:"price"`
}

type squareInventoryPayload struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type SquareAdapterOptions struct {
	// Limiter paces the phase-2 per-sku fan-out. Nil means unpaced.
	Limiter *rate.Limiter
	Logger  *log.Logger
}

type SquareAdapter struct {
	client  SquareClient
	limiter *rate.Limiter
	logger  *log.Logger
}

func NewSquareAdapter(client SquareClient, opts SquareAdapterOptions) *SquareAdapter {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &SquareAdapter{client: client, limiter: opts.Limiter, logger: logger}
}

func (a *SquareAdapter) Kind() SourceKind {
	return SourceSquare
}

// RefetchOnSelect is false: a full fetch costs N+1 backend calls, so a
// populated cache is reused until the caller clears it.
func (a *SquareAdapter) RefetchOnSelect() bool {
	return false
}

// Fetch runs in two phases: item metadata first, then one concurrent
// inventory lookup per sku. The join is all-or-nothing; a single failed
// lookup fails the whole fetch so no partially-resolved collection is ever
// committed.
func (a *SquareAdapter) Fetch(ctx context.Context) ([]Listing, error) {
	raw, err := a.client.FetchCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if err := squareCatalogValidator.validate(raw); err != nil {
		return nil, err
	}
	var payload squareCatalogPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &DataConsistencyError{Detail: fmt.Sprintf("decoding square catalog: %v", err)}
	}
	if len(payload.Items) == 0 {
		return []Listing{}, nil
	}

	pending := make([]Listing, 0, len(payload.Items))
	for _, item := range payload.Items {
		pending = append(pending, Listing{
			Source:      SourceSquare,
			ProductName: item.Name,
			ProductSKU:  item.SKU,
			Quantity:    QuantityPending,
			Price:       item.Price,
			MutationKey: item.SKU,
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listings := make([]Listing, len(pending))
	errCh := make(chan error, len(pending))
	var wg sync.WaitGroup
	for i := range pending {
		wg.Add(1)
		go func(i int, listing Listing) {
			defer wg.Done()
			if a.limiter != nil {
				if err := a.limiter.Wait(ctx); err != nil {
					errCh <- fmt.Errorf("%w: inventory lookup for %s: %v", ErrCancelled, listing.ProductSKU, err)
					cancel()
					return
				}
			}
			quantity, err := a.lookupQuantity(ctx, listing.ProductSKU)
			if err != nil {
				errCh <- err
				cancel()
				return
			}
			listings[i] = listing.WithQuantity(quantity)
		}(i, pending[i])
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return nil, err
	default:
	}
	return listings, nil
}

func (a *SquareAdapter) lookupQuantity(ctx context.Context, sku string) (int, error) {
	raw, err := a.client.FetchInventoryCount(ctx, sku)
	if err != nil {
		return 0, err
	}
	var payload squareInventoryPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, &DataConsistencyError{Detail: fmt.Sprintf("decoding inventory count for %s: %v", sku, err)}
	}
	return payload.Quantity, nil
}

// UpdateQuantity is a single idempotent call; resending the same sku and
// quantity is safe.
func (a *SquareAdapter) UpdateQuantity(ctx context.Context, sku string, quantity int) (Listing, error) {
	raw, err := a.client.WriteInventoryCount(ctx, sku, quantity)
	if err != nil {
		return Listing{}, err
	}
	updated := quantity
	var payload squareInventoryPayload
	if err := json.Unmarshal(raw, &payload); err == nil && payload.SKU != "" {
		updated = payload.Quantity
	}
	return Listing{Source: SourceSquare, ProductSKU: sku, MutationKey: sku, Quantity: updated}, nil
}
