package catalog

import (
	"errors"
	"testing"
)

func TestParseSourceIndex(t *testing.T) {
	kind, err := ParseSourceIndex(0)
	if err != nil || kind != SourceShopify {
		t.Fatalf("index 0: got %v, %v", kind, err)
	}
	kind, err = ParseSourceIndex(1)
	if err != nil || kind != SourceSquare {
		t.Fatalf("index 1: got %v, %v", kind, err)
	}
	if _, err := ParseSourceIndex(2); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected invalid selection for index 2, got %v", err)
	}
	if _, err := ParseSourceIndex(-1); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected invalid selection for index -1, got %v", err)
	}
}

func TestWithQuantityReturnsCopy(t *testing.T) {
	original := Listing{Source: SourceSquare, ProductSKU: "CAN-1", Quantity: 3}
	updated := original.WithQuantity(8)
	if updated.Quantity != 8 || original.Quantity != 3 {
		t.Fatalf("expected a copy, got original=%d updated=%d", original.Quantity, updated.Quantity)
	}
	if updated.ProductSKU != "CAN-1" {
		t.Fatalf("unrelated field changed: %+v", updated)
	}
}

func TestMatchKeyPerSource(t *testing.T) {
	shopify := Listing{Source: SourceShopify, ProductSKU: "MUG-R", MutationKey: "900"}
	if shopify.matchKey() != "900" {
		t.Fatalf("shopify listings match by mutation key, got %q", shopify.matchKey())
	}
	square := Listing{Source: SourceSquare, ProductSKU: "CAN-1", MutationKey: "CAN-1"}
	if square.matchKey() != "CAN-1" {
		t.Fatalf("square listings match by sku, got %q", square.matchKey())
	}
}

func TestErrorTaxonomy(t *testing.T) {
	var server error = &ServerError{Code: 422, Message: "nope"}
	if !errors.Is(server, ErrServerRejected) {
		t.Fatal("ServerError must match ErrServerRejected")
	}
	var consistency error = &DataConsistencyError{Detail: "broken image ref"}
	if !errors.Is(consistency, ErrDataConsistency) {
		t.Fatal("DataConsistencyError must match ErrDataConsistency")
	}
	if IsTransient(server) {
		t.Fatal("server rejection is not transient")
	}
	if !IsTransient(ErrNetwork) || !IsTransient(ErrTimeout) {
		t.Fatal("network and timeout failures are transient")
	}
}
