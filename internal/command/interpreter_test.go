package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/homesync-backend/internal/logger"
	"github.com/dvloznov/homesync-backend/internal/store"
)

// mockSpendingStore is a function-field mock for the read side.
type mockSpendingStore struct {
	items []store.LineItem
	err   error

	gotCategory string
	gotStart    civil.Date
	gotEnd      civil.Date
}

func (m *mockSpendingStore) ItemsByCategoryAndDateRange(ctx context.Context, category string, start, end civil.Date) ([]store.LineItem, error) {
	m.gotCategory = category
	m.gotStart = start
	m.gotEnd = end
	return m.items, m.err
}

func newTestInterpreter(s SpendingStore, today civil.Date) *Interpreter {
	i := NewInterpreter(s, logger.NewWithWriter(&strings.Builder{}))
	i.today = func() civil.Date { return today }
	return i
}

func TestPeriodWindow(t *testing.T) {
	today := civil.Date{Year: 2025, Month: 6, Day: 20}

	tests := []struct {
		period    string
		wantStart civil.Date
		wantErr   bool
	}{
		{period: "day", wantStart: today},
		{period: "week", wantStart: civil.Date{Year: 2025, Month: 6, Day: 13}},
		{period: "month", wantStart: civil.Date{Year: 2025, Month: 6, Day: 1}},
		{period: "year", wantStart: civil.Date{Year: 2025, Month: 1, Day: 1}},
		{period: "fortnight", wantErr: true},
		{period: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			start, end, err := PeriodWindow(tt.period, today)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPeriod) {
					t.Fatalf("err = %v, want ErrInvalidPeriod", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("PeriodWindow failed: %v", err)
			}
			if start != tt.wantStart {
				t.Errorf("start = %v, want %v", start, tt.wantStart)
			}
			if end != today {
				t.Errorf("end = %v, want today", end)
			}
		})
	}
}

func TestPeriodWindow_WeekCrossesMonth(t *testing.T) {
	today := civil.Date{Year: 2025, Month: 3, Day: 3}
	start, _, err := PeriodWindow("week", today)
	if err != nil {
		t.Fatalf("PeriodWindow failed: %v", err)
	}
	want := civil.Date{Year: 2025, Month: 2, Day: 24}
	if start != want {
		t.Errorf("start = %v, want %v", start, want)
	}
}

func TestRespond_CategorySpending(t *testing.T) {
	mock := &mockSpendingStore{
		items: []store.LineItem{
			{LineTotal: 12.50},
			{LineTotal: 7.00},
		},
	}
	today := civil.Date{Year: 2025, Month: 6, Day: 20}
	interp := newTestInterpreter(mock, today)

	msg, err := interp.Respond(context.Background(), Interpretation{
		Action:  ActionCategorySpending,
		Details: map[string]interface{}{"category": "Groceries", "period": "month"},
	})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	if !strings.Contains(msg, "19.50€") {
		t.Errorf("message %q does not contain the 19.50€ total", msg)
	}
	if !strings.Contains(msg, "Groceries") {
		t.Errorf("message %q does not mention the category", msg)
	}
	if mock.gotCategory != "Groceries" {
		t.Errorf("queried category = %q", mock.gotCategory)
	}
	if mock.gotStart != (civil.Date{Year: 2025, Month: 6, Day: 1}) || mock.gotEnd != today {
		t.Errorf("queried window = %v..%v", mock.gotStart, mock.gotEnd)
	}
}

func TestRespond_InvalidPeriod(t *testing.T) {
	mock := &mockSpendingStore{}
	interp := newTestInterpreter(mock, civil.Date{Year: 2025, Month: 6, Day: 20})

	msg, err := interp.Respond(context.Background(), Interpretation{
		Action:  ActionCategorySpending,
		Details: map[string]interface{}{"category": "Groceries", "period": "fortnight"},
	})
	if err != nil {
		t.Fatalf("invalid period must not be an error, got %v", err)
	}
	for _, token := range []string{"day", "week", "month", "year"} {
		if !strings.Contains(msg, token) {
			t.Errorf("message %q does not list accepted period %q", msg, token)
		}
	}
	if mock.gotCategory != "" {
		t.Error("store was queried despite invalid period")
	}
}

func TestRespond_MissingDetails(t *testing.T) {
	interp := newTestInterpreter(&mockSpendingStore{}, civil.Date{Year: 2025, Month: 6, Day: 20})

	msg, err := interp.Respond(context.Background(), Interpretation{
		Action:  ActionCategorySpending,
		Details: map[string]interface{}{"category": "Groceries"},
	})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if !strings.Contains(msg, "period") {
		t.Errorf("message %q should ask for the missing period", msg)
	}
}

func TestRespond_StoreFailureEscalates(t *testing.T) {
	mock := &mockSpendingStore{err: errors.New("disk gone")}
	interp := newTestInterpreter(mock, civil.Date{Year: 2025, Month: 6, Day: 20})

	_, err := interp.Respond(context.Background(), Interpretation{
		Action:  ActionCategorySpending,
		Details: map[string]interface{}{"category": "Groceries", "period": "day"},
	})
	if err == nil {
		t.Fatal("store failure must escalate as an error")
	}
}

func TestRespond_Placeholders(t *testing.T) {
	interp := newTestInterpreter(&mockSpendingStore{}, civil.Date{Year: 2025, Month: 6, Day: 20})
	ctx := context.Background()

	msg, err := interp.Respond(ctx, Interpretation{
		Action:  ActionRecommend,
		Details: map[string]interface{}{"item": "olive oil"},
	})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if !strings.Contains(msg, "olive oil") {
		t.Errorf("recommendation %q does not mention the item", msg)
	}

	msg, err = interp.Respond(ctx, Interpretation{Action: ActionRecommend})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if !strings.Contains(msg, "item name") {
		t.Errorf("message %q should ask for the item name", msg)
	}

	msg, err = interp.Respond(ctx, Interpretation{Action: ActionShoppingList})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if msg == "" {
		t.Error("shopping list placeholder message is empty")
	}
}

func TestRespond_UnknownAction(t *testing.T) {
	interp := newTestInterpreter(&mockSpendingStore{}, civil.Date{Year: 2025, Month: 6, Day: 20})

	for _, action := range []string{"", "make_coffee"} {
		msg, err := interp.Respond(context.Background(), Interpretation{Action: action})
		if err != nil {
			t.Fatalf("Respond failed: %v", err)
		}
		if !strings.Contains(msg, "understand") {
			t.Errorf("message %q should say the request was not understood", msg)
		}
	}
}

func TestParseInterpretation(t *testing.T) {
	raw := map[string]interface{}{
		"action":  "category_spending",
		"details": map[string]interface{}{"category": "Groceries"},
	}
	interp := ParseInterpretation(raw)
	if interp.Action != "category_spending" {
		t.Errorf("Action = %q", interp.Action)
	}
	if interp.Details["category"] != "Groceries" {
		t.Errorf("Details = %v", interp.Details)
	}

	interp = ParseInterpretation(map[string]interface{}{"action": 42})
	if interp.Action != "" {
		t.Errorf("non-string action should leave Action empty, got %q", interp.Action)
	}
}
