package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/homesync-backend/internal/extract"
)

// SavePurchase maps an extraction record into one purchase row plus its
// line items, inside a single transaction. Field resolution:
//
//	purchase date  record date, or today when missing/unparsable
//	total          record total, or 0.0
//	vendor         record vendor, or NULL
//	item name      required; a nameless entry is skipped entirely
//	item quantity  entry quantity, or 1.0
//	item price     entry unit price, or 0.0
//	item total     entry total, or unit price x quantity
//	item category  entry category, or "Unknown"
//	item date      inherited from the purchase date
//
// Either the parent and every valid item commit together, or nothing is
// persisted. The raw payload is stored on the parent regardless of which
// fields mapped.
func (s *Store) SavePurchase(ctx context.Context, rec *extract.Record) (*Purchase, []LineItem, error) {
	purchaseDate := civil.DateOf(time.Now())
	if rec.PurchaseDate != nil {
		if d, err := civil.ParseDate(*rec.PurchaseDate); err == nil {
			purchaseDate = d
		}
	}

	total := 0.0
	if rec.Total != nil {
		total = *rec.Total
	}

	rawJSON, err := json.Marshal(rec.Raw)
	if err != nil {
		return nil, nil, fmt.Errorf("store: encode raw extraction: %w", err)
	}

	purchase := &Purchase{
		ID:            s.newID(),
		PurchaseDate:  purchaseDate.String(),
		VendorName:    rec.Vendor,
		TotalAmount:   round2(total),
		RawExtraction: string(rawJSON),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchases (id, purchase_date, vendor_name, total_amount, raw_extraction, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		purchase.ID, purchase.PurchaseDate, purchase.VendorName,
		purchase.TotalAmount, purchase.RawExtraction, purchase.CreatedAt,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("store: save purchase: %w", err)
	}

	items := make([]LineItem, 0, len(rec.Items))
	for _, entry := range rec.Items {
		if entry.Name == nil {
			continue
		}

		item := LineItem{
			ID:          s.newID(),
			PurchaseID:  purchase.ID,
			ProductName: *entry.Name,
			Category:    "Unknown",
			UnitPrice:   0,
			Quantity:    1,
			ItemDate:    purchase.PurchaseDate,
		}
		if entry.Category != nil {
			item.Category = *entry.Category
		}
		if entry.UnitPrice != nil {
			item.UnitPrice = *entry.UnitPrice
		}
		if entry.Quantity != nil {
			item.Quantity = *entry.Quantity
		}
		if entry.LineTotal != nil {
			item.LineTotal = round2(*entry.LineTotal)
		} else {
			item.LineTotal = round2(item.UnitPrice * item.Quantity)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO line_items (id, purchase_id, product_name, category, unit_price, quantity, line_total, item_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.PurchaseID, item.ProductName, item.Category,
			item.UnitPrice, item.Quantity, item.LineTotal, item.ItemDate,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("store: save line item %q: %w", item.ProductName, err)
		}

		items = append(items, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("store: commit purchase: %w", err)
	}

	return purchase, items, nil
}

// round2 rounds a monetary value to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
