package catalog

import "context"

// SourceAdapter normalizes one backend's data into canonical listings and
// routes quantity writes back to it.
type SourceAdapter interface {
	Kind() SourceKind
	// RefetchOnSelect reports whether selecting the source refetches even
	// when its cache is already populated.
	RefetchOnSelect() bool
	Fetch(ctx context.Context) ([]Listing, error)
	// UpdateQuantity writes the new quantity against the backend and returns
	// the updated listing fragment (at minimum the mutation key and the
	// committed quantity).
	UpdateQuantity(ctx context.Context, mutationKey string, quantity int) (Listing, error)
}
