package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Catalog payloads are validated before normalization so that a malformed
// backend response surfaces as a consistency violation instead of a zero-value
// listing slipping into the cache.

const shopifyCatalogSchema = `{
	"type": "object",
	"required": ["products"],
	"properties": {
		"products": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["title", "variants"],
				"properties": {
					"title": {"type": "string"},
					"image": {"type": ["object", "null"]},
					"images": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["id"],
							"properties": {
								"id": {"type": "integer"},
								"src": {"type": "string"}
							}
						}
					},
					"variants": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["title", "sku", "inventory_item_id"],
							"properties": {
								"title": {"type": "string"},
								"sku": {"type": "string"},
								"price": {"type": "string"},
								"inventory_item_id": {"type": "integer"},
								"inventory_quantity": {"type": "integer"},
								"image_id": {"type": ["integer", "null"]}
							}
						}
					}
				}
			}
		}
	}
}`

const squareCatalogSchema = `{
	"type": "object",
	"required": ["items"],
	"properties": {
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "sku"],
				"properties": {
					"name": {"type": "string"},
					"sku": {"type": "string"},
					"price": {"type": "string"}
				}
			}
		}
	}
}`

type payloadValidator struct {
	name   string
	source string

	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

func newPayloadValidator(name, source string) *payloadValidator {
	return &payloadValidator{name: name, source: source}
}

var (
	shopifyCatalogValidator = newPayloadValidator("shopify-catalog.json", shopifyCatalogSchema)
	squareCatalogValidator  = newPayloadValidator("square-catalog.json", squareCatalogSchema)
)

func (v *payloadValidator) compile() (*jsonschema.Schema, error) {
	v.once.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(v.source)))
		if err != nil {
			v.err = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(v.name, doc); err != nil {
			v.err = err
			return
		}
		v.schema, v.err = compiler.Compile(v.name)
	})
	return v.schema, v.err
}

func (v *payloadValidator) validate(raw json.RawMessage) error {
	schema, err := v.compile()
	if err != nil {
		return fmt.Errorf("compiling %s: %w", v.name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &DataConsistencyError{Detail: fmt.Sprintf("%s: payload is not valid JSON: %v", v.name, err)}
	}
	if err := schema.Validate(doc); err != nil {
		return &DataConsistencyError{Detail: fmt.Sprintf("%s: %v", v.name, err)}
	}
	return nil
}
