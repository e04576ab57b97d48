package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// FeedItem is one row of a supplier quantity feed.
type FeedItem struct {
	SKU      string
	Quantity int
}

type FeedOptions struct {
	// Comma is the field separator; supplier exports use ';' by default.
	Comma rune
	// DecodeWindows1251 transcodes legacy cp1251 exports before parsing.
	DecodeWindows1251 bool
}

// ParseQuantityFeed reads "sku;quantity" rows. A header row is tolerated:
// the first row is skipped when its quantity column does not parse. Blank
// skus and malformed quantities fail the whole feed so a truncated file is
// never half-applied.
func ParseQuantityFeed(r io.Reader, opts FeedOptions) ([]FeedItem, error) {
	if opts.DecodeWindows1251 {
		r = transform.NewReader(r, charmap.Windows1251.NewDecoder())
	}
	reader := csv.NewReader(r)
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	} else {
		reader.Comma = ';'
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	items := make([]FeedItem, 0, 64)
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading feed row %d: %w", row+1, err)
		}
		row++
		if len(record) < 2 {
			return nil, fmt.Errorf("feed row %d has %d columns, want 2", row, len(record))
		}
		sku := strings.TrimSpace(record[0])
		quantity, err := strconv.Atoi(strings.TrimSpace(record[1]))
		if err != nil {
			if row == 1 {
				continue
			}
			return nil, fmt.Errorf("feed row %d: quantity %q is not an integer", row, record[1])
		}
		if sku == "" {
			return nil, fmt.Errorf("feed row %d has an empty sku", row)
		}
		if quantity < 0 {
			return nil, fmt.Errorf("feed row %d: quantity %d is negative", row, quantity)
		}
		items = append(items, FeedItem{SKU: sku, Quantity: quantity})
	}
	return items, nil
}
