package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/homesync-backend/internal/extract"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string   { return &s }
func numPtr(f float64) *float64 { return &f }

func TestSavePurchase_Defaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A record with nothing but an unnamed payload: every field defaults.
	rec := &extract.Record{Raw: map[string]interface{}{"note": "bare"}}

	purchase, items, err := s.SavePurchase(ctx, rec)
	if err != nil {
		t.Fatalf("SavePurchase failed: %v", err)
	}

	today := civil.DateOf(time.Now()).String()
	if purchase.PurchaseDate != today {
		t.Errorf("PurchaseDate = %s, want today %s", purchase.PurchaseDate, today)
	}
	if purchase.TotalAmount != 0 {
		t.Errorf("TotalAmount = %v, want 0", purchase.TotalAmount)
	}
	if purchase.VendorName != nil {
		t.Errorf("VendorName = %v, want nil", purchase.VendorName)
	}
	if len(items) != 0 {
		t.Errorf("items = %d, want 0", len(items))
	}

	// Read back and check the audit payload survived verbatim.
	got, err := s.GetPurchase(ctx, purchase.ID)
	if err != nil {
		t.Fatalf("GetPurchase failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetPurchase returned nil for saved purchase")
	}
	if got.RawExtraction != `{"note":"bare"}` {
		t.Errorf("RawExtraction = %s", got.RawExtraction)
	}
}

func TestSavePurchase_UnparsableDateDefaultsToToday(t *testing.T) {
	s := newTestStore(t)

	rec := &extract.Record{
		PurchaseDate: strPtr("sometime last Tuesday"),
		Raw:          map[string]interface{}{},
	}
	purchase, _, err := s.SavePurchase(context.Background(), rec)
	if err != nil {
		t.Fatalf("SavePurchase failed: %v", err)
	}

	today := civil.DateOf(time.Now()).String()
	if purchase.PurchaseDate != today {
		t.Errorf("PurchaseDate = %s, want today %s", purchase.PurchaseDate, today)
	}
}

func TestSavePurchase_ItemMapping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &extract.Record{
		PurchaseDate: strPtr("2025-06-20"),
		Vendor:       strPtr("Mercadona"),
		Total:        numPtr(14.15),
		Items: []extract.Item{
			{
				Name:      strPtr("Milk"),
				Category:  strPtr("Dairy"),
				UnitPrice: numPtr(1.25),
				Quantity:  numPtr(2),
				// no LineTotal: derived as 1.25 x 2
			},
			{
				Name: strPtr("Bag"),
				// everything else defaults
			},
			{
				// nameless: skipped entirely
				Category:  strPtr("Mystery"),
				LineTotal: numPtr(99),
			},
			{
				Name:      strPtr("Cheese"),
				Quantity:  numPtr(0.35),
				UnitPrice: numPtr(18.40),
				LineTotal: numPtr(6.44),
			},
		},
		Raw: map[string]interface{}{},
	}

	purchase, items, err := s.SavePurchase(ctx, rec)
	if err != nil {
		t.Fatalf("SavePurchase failed: %v", err)
	}

	if len(items) != 3 {
		t.Fatalf("persisted items = %d, want 3 (nameless entry skipped)", len(items))
	}

	milk := items[0]
	if milk.LineTotal != 2.50 {
		t.Errorf("Milk.LineTotal = %v, want 2.50 (unit x quantity)", milk.LineTotal)
	}
	if milk.ItemDate != "2025-06-20" {
		t.Errorf("Milk.ItemDate = %s, want parent purchase date", milk.ItemDate)
	}

	bag := items[1]
	if bag.Category != "Unknown" {
		t.Errorf("Bag.Category = %s, want Unknown", bag.Category)
	}
	if bag.Quantity != 1 {
		t.Errorf("Bag.Quantity = %v, want 1", bag.Quantity)
	}
	if bag.UnitPrice != 0 || bag.LineTotal != 0 {
		t.Errorf("Bag price = %v/%v, want 0/0", bag.UnitPrice, bag.LineTotal)
	}

	cheese := items[2]
	if cheese.LineTotal != 6.44 {
		t.Errorf("Cheese.LineTotal = %v, want supplied 6.44", cheese.LineTotal)
	}
	if cheese.Quantity != 0.35 {
		t.Errorf("Cheese.Quantity = %v, want fractional 0.35", cheese.Quantity)
	}

	// The skipped entry must not show up in any query.
	stored, err := s.ItemsByPurchase(ctx, purchase.ID)
	if err != nil {
		t.Fatalf("ItemsByPurchase failed: %v", err)
	}
	for _, item := range stored {
		if item.Category == "Mystery" {
			t.Error("nameless item was persisted")
		}
	}
}

func TestSavePurchase_Atomicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Force a primary key collision on the second line item so the
	// insert loop fails midway through.
	calls := 0
	s.newID = func() string {
		calls++
		if calls == 1 {
			return "purchase-1"
		}
		return "item-dup"
	}

	rec := &extract.Record{
		Items: []extract.Item{
			{Name: strPtr("First")},
			{Name: strPtr("Second")},
		},
		Raw: map[string]interface{}{},
	}

	if _, _, err := s.SavePurchase(ctx, rec); err == nil {
		t.Fatal("expected SavePurchase to fail on duplicate item id")
	}

	// Nothing from the failed request may be visible.
	purchase, err := s.GetPurchase(ctx, "purchase-1")
	if err != nil {
		t.Fatalf("GetPurchase failed: %v", err)
	}
	if purchase != nil {
		t.Error("parent purchase visible after rollback")
	}

	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM line_items`); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 0 {
		t.Errorf("line_items count = %d after rollback, want 0", count)
	}
}

func TestGetPurchase_None(t *testing.T) {
	s := newTestStore(t)

	purchase, err := s.GetPurchase(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetPurchase failed: %v", err)
	}
	if purchase != nil {
		t.Errorf("purchase = %+v, want nil", purchase)
	}
}

func TestItemsByCategoryAndDateRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two Groceries purchases ten days apart, one Household purchase.
	save := func(date string, category string, total float64) {
		t.Helper()
		rec := &extract.Record{
			PurchaseDate: strPtr(date),
			Items: []extract.Item{
				{Name: strPtr(fmt.Sprintf("item-%s", date)), Category: strPtr(category), LineTotal: numPtr(total)},
			},
			Raw: map[string]interface{}{},
		}
		if _, _, err := s.SavePurchase(ctx, rec); err != nil {
			t.Fatalf("SavePurchase failed: %v", err)
		}
	}
	save("2025-06-20", "Groceries", 12.50)
	save("2025-06-10", "Groceries", 7.00)
	save("2025-06-20", "Household", 3.00)

	sum := func(items []LineItem) float64 {
		var total float64
		for _, item := range items {
			total += item.LineTotal
		}
		return total
	}

	// Week-sized window: only the recent purchase matches.
	week, err := s.ItemsByCategoryAndDateRange(ctx, "Groceries",
		civil.Date{Year: 2025, Month: 6, Day: 13}, civil.Date{Year: 2025, Month: 6, Day: 20})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if got := sum(week); got != 12.50 {
		t.Errorf("week window sum = %v, want 12.50", got)
	}

	// Month-sized window: both Groceries items, Household excluded.
	month, err := s.ItemsByCategoryAndDateRange(ctx, "Groceries",
		civil.Date{Year: 2025, Month: 6, Day: 1}, civil.Date{Year: 2025, Month: 6, Day: 20})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if got := sum(month); got != 19.50 {
		t.Errorf("month window sum = %v, want 19.50", got)
	}

	// Window boundaries are inclusive on both ends.
	edge, err := s.ItemsByCategoryAndDateRange(ctx, "Groceries",
		civil.Date{Year: 2025, Month: 6, Day: 10}, civil.Date{Year: 2025, Month: 6, Day: 10})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(edge) != 1 {
		t.Errorf("inclusive boundary matched %d items, want 1", len(edge))
	}
}
