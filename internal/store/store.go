package store

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Purchase is the parent record for one processed receipt.
// Dates are stored as ISO YYYY-MM-DD text; RawExtraction keeps the full
// original model payload verbatim for audit and replay.
type Purchase struct {
	ID            string  `db:"id" json:"id"`
	PurchaseDate  string  `db:"purchase_date" json:"purchase_date"`
	VendorName    *string `db:"vendor_name" json:"vendor_name,omitempty"`
	TotalAmount   float64 `db:"total_amount" json:"total_amount"`
	RawExtraction string  `db:"raw_extraction" json:"raw_extraction,omitempty"`
	CreatedAt     string  `db:"created_at" json:"created_at"`
}

// LineItem is one product entry owned by exactly one Purchase.
type LineItem struct {
	ID          string  `db:"id" json:"id"`
	PurchaseID  string  `db:"purchase_id" json:"purchase_id"`
	ProductName string  `db:"product_name" json:"product_name"`
	Category    string  `db:"category" json:"category"`
	UnitPrice   float64 `db:"unit_price" json:"unit_price"`
	Quantity    float64 `db:"quantity" json:"quantity"`
	LineTotal   float64 `db:"line_total" json:"line_total"`
	ItemDate    string  `db:"item_date" json:"item_date"`
}

const schema = `
CREATE TABLE IF NOT EXISTS purchases (
	id             TEXT PRIMARY KEY,
	purchase_date  TEXT NOT NULL,
	vendor_name    TEXT,
	total_amount   REAL NOT NULL DEFAULT 0,
	raw_extraction TEXT NOT NULL DEFAULT '{}',
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS line_items (
	id           TEXT PRIMARY KEY,
	purchase_id  TEXT NOT NULL REFERENCES purchases(id),
	product_name TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT 'Unknown',
	unit_price   REAL NOT NULL DEFAULT 0,
	quantity     REAL NOT NULL DEFAULT 1,
	line_total   REAL NOT NULL DEFAULT 0,
	item_date    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_line_items_purchase ON line_items(purchase_id);
CREATE INDEX IF NOT EXISTS idx_line_items_category_date ON line_items(category, item_date);
`

// Store wraps the SQLite handle and owns all persistence operations.
type Store struct {
	db *sqlx.DB

	// newID generates row identifiers. Overridable in tests.
	newID func() string
}

// Open connects to the SQLite database at path and ensures the schema
// exists. Foreign keys are enforced for the purchase/line-item link.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database %q: %w", path, err)
	}

	s := &Store{db: db, newID: func() string { return uuid.New().String() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
