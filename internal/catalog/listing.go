package catalog

import "fmt"

type SourceKind int

const (
	SourceShopify SourceKind = iota
	SourceSquare
)

func (k SourceKind) String() string {
	switch k {
	case SourceShopify:
		return "shopify"
	case SourceSquare:
		return "square"
	default:
		return fmt.Sprintf("source(%d)", int(k))
	}
}

// ParseSourceIndex maps a caller-supplied selector index onto a source kind.
// An out-of-range index is a caller bug, not a runtime condition.
func ParseSourceIndex(index int) (SourceKind, error) {
	switch index {
	case int(SourceShopify):
		return SourceShopify, nil
	case int(SourceSquare):
		return SourceSquare, nil
	default:
		return 0, fmt.Errorf("%w: index %d", ErrInvalidSelection, index)
	}
}

// QuantityPending marks a listing whose inventory count has not been
// resolved yet. It is only ever visible inside a two-phase fetch; a settled
// collection never contains it.
const QuantityPending = -1

type Listing struct {
	Source      SourceKind `json:"source"`
	ProductName string     `json:"productName"`
	ProductSKU  string     `json:"productSku"`
	Quantity    int        `json:"quantity"`
	Price       string     `json:"price"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	MutationKey string     `json:"mutationKey"`
}

// WithQuantity returns a copy of the listing with only the quantity replaced.
func (l Listing) WithQuantity(quantity int) Listing {
	l.Quantity = quantity
	return l
}

// matchKey is the key a mutation patch matches a listing by: the display sku
// for square, the backend write key for shopify.
func (l Listing) matchKey() string {
	if l.Source == SourceSquare {
		return l.ProductSKU
	}
	return l.MutationKey
}
