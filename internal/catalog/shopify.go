package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
)

// ShopifyClient is the backend surface the variant-expanding adapter needs.
// The write model is inventory-item scoped: quantities live on an
// (inventory item, location) pair, so a write must first resolve the
// location via a level read.
type ShopifyClient interface {
	FetchCatalog(ctx context.Context) (json.RawMessage, error)
	FetchInventoryLevels(ctx context.Context, inventoryItemID string) (json.RawMessage, error)
	AdjustInventory(ctx context.Context, inventoryItemID, locationID string, quantity int) (json.RawMessage, error)
}

type shopifyCatalogPayload struct {
	Products []shopifyProduct `json:"products"`
}

type shopifyProduct struct {
	ID       int64            `json:"id"`
	Title    string           `json:"title"`
	Image    *shopifyImage    `json:"image"`
	Images   []shopifyImage   `json:"images"`
	Variants []shopifyVariant `json:"variants"`
}

type shopifyImage struct {
	ID  int64  `json:"id"`
	Src string `json:"src"`
}

type shopifyVariant struct {
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	SKU               string `json:"sku"`
	Price             string `json:"price"`
	ImageID           *int64 `json:"image_id"`
	InventoryItemID   int64  `json:"inventory_item_id"`
	InventoryQuantity int    `json:"inventory_quantity"`
}

type shopifyInventoryLevelsPayload struct {
	InventoryLevels []shopifyInventoryLevel `json:"inventory_levels"`
}

type shopifyInventoryLevel struct {
	InventoryItemID int64 `json:"inventory_item_id"`
	LocationID      int64 `json:"location_id"`
	Available       int   `json:"available"`
}

type shopifyAdjustPayload struct {
	InventoryLevel shopifyInventoryLevel `json:"inventory_level"`
}

type ShopifyAdapter struct {
	client ShopifyClient
	logger *log.Logger
}

func NewShopifyAdapter(client ShopifyClient, logger *log.Logger) *ShopifyAdapter {
	if logger == nil {
		logger = log.Default()
	}
	return &ShopifyAdapter{client: client, logger: logger}
}

func (a *ShopifyAdapter) Kind() SourceKind {
	return SourceShopify
}

// RefetchOnSelect is unconditional for shopify: a single catalog call is
// cheap enough to repeat on every selection.
func (a *ShopifyAdapter) RefetchOnSelect() bool {
	return true
}

// Fetch expands every product variant into one listing. An image reference
// that cannot be resolved fails the whole fetch; skipping the listing would
// silently drop inventory.
func (a *ShopifyAdapter) Fetch(ctx context.Context) ([]Listing, error) {
	raw, err := a.client.FetchCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if err := shopifyCatalogValidator.validate(raw); err != nil {
		return nil, err
	}
	var payload shopifyCatalogPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &DataConsistencyError{Detail: fmt.Sprintf("decoding shopify catalog: %v", err)}
	}

	listings := make([]Listing, 0, len(payload.Products))
	for _, product := range payload.Products {
		for _, variant := range product.Variants {
			imageURL, err := resolveVariantImage(product, variant)
			if err != nil {
				return nil, err
			}
			listings = append(listings, Listing{
				Source:      SourceShopify,
				ProductName: product.Title + " - " + variant.Title,
				ProductSKU:  variant.SKU,
				Quantity:    variant.InventoryQuantity,
				Price:       variant.Price,
				ImageURL:    imageURL,
				MutationKey: strconv.FormatInt(variant.InventoryItemID, 10),
			})
		}
	}
	return listings, nil
}

func resolveVariantImage(product shopifyProduct, variant shopifyVariant) (string, error) {
	if variant.ImageID == nil {
		if product.Image != nil {
			return product.Image.Src, nil
		}
		return "", nil
	}
	for _, image := range product.Images {
		if image.ID == *variant.ImageID {
			return image.Src, nil
		}
	}
	return "", &DataConsistencyError{
		Detail: fmt.Sprintf("variant %d of product %q references image %d which is not in the product's image set",
			variant.ID, product.Title, *variant.ImageID),
	}
}

// UpdateQuantity resolves the inventory item's location with a level read and
// then writes against that location. The two calls are not atomic: if the
// backend reassigns inventory between them, the write lands on a stale
// location. Accepted limitation.
func (a *ShopifyAdapter) UpdateQuantity(ctx context.Context, mutationKey string, quantity int) (Listing, error) {
	raw, err := a.client.FetchInventoryLevels(ctx, mutationKey)
	if err != nil {
		return Listing{}, err
	}
	var levels shopifyInventoryLevelsPayload
	if err := json.Unmarshal(raw, &levels); err != nil {
		return Listing{}, &DataConsistencyError{Detail: fmt.Sprintf("decoding inventory levels for %s: %v", mutationKey, err)}
	}
	if len(levels.InventoryLevels) == 0 {
		return Listing{}, &DataConsistencyError{Detail: fmt.Sprintf("inventory item %s has no levels", mutationKey)}
	}
	locationID := strconv.FormatInt(levels.InventoryLevels[0].LocationID, 10)

	rawUpdated, err := a.client.AdjustInventory(ctx, mutationKey, locationID, quantity)
	if err != nil {
		return Listing{}, err
	}
	updated := quantity
	var adjusted shopifyAdjustPayload
	if err := json.Unmarshal(rawUpdated, &adjusted); err == nil && adjusted.InventoryLevel.InventoryItemID != 0 {
		updated = adjusted.InventoryLevel.Available
	}
	return Listing{Source: SourceShopify, MutationKey: mutationKey, Quantity: updated}, nil
}
