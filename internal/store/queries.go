package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
)

// GetPurchase fetches one purchase by id. Returns nil when no row matches.
func (s *Store) GetPurchase(ctx context.Context, id string) (*Purchase, error) {
	var p Purchase
	err := s.db.GetContext(ctx, &p, `
		SELECT id, purchase_date, vendor_name, total_amount, raw_extraction, created_at
		FROM purchases WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get purchase %s: %w", id, err)
	}
	return &p, nil
}

// ItemsByPurchase fetches all line items owned by a purchase.
func (s *Store) ItemsByPurchase(ctx context.Context, purchaseID string) ([]LineItem, error) {
	var items []LineItem
	err := s.db.SelectContext(ctx, &items, `
		SELECT id, purchase_id, product_name, category, unit_price, quantity, line_total, item_date
		FROM line_items WHERE purchase_id = ?`, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("store: items for purchase %s: %w", purchaseID, err)
	}
	return items, nil
}

// ItemsByCategoryAndDateRange fetches line items whose category matches
// exactly and whose item date falls within the inclusive [start, end]
// window. ISO date text compares correctly as strings.
func (s *Store) ItemsByCategoryAndDateRange(ctx context.Context, category string, start, end civil.Date) ([]LineItem, error) {
	var items []LineItem
	err := s.db.SelectContext(ctx, &items, `
		SELECT id, purchase_id, product_name, category, unit_price, quantity, line_total, item_date
		FROM line_items
		WHERE category = ? AND item_date >= ? AND item_date <= ?`,
		category, start.String(), end.String())
	if err != nil {
		return nil, fmt.Errorf("store: items for category %q: %w", category, err)
	}
	return items, nil
}
