package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/homesync-backend/internal/store"
)

// Action names the model is expected to produce.
const (
	ActionCategorySpending = "category_spending"
	ActionRecommend        = "recommend_shopping"
	ActionShoppingList     = "get_shopping_list"
)

// ErrInvalidPeriod marks a period token outside the accepted vocabulary.
// It is always rendered as an explanatory message, never as a server error.
var ErrInvalidPeriod = errors.New("invalid period")

// invalidPeriodMessage lists the accepted vocabulary for the user.
const invalidPeriodMessage = "Invalid period. Use 'day', 'week', 'month' or 'year'."

// SpendingStore is the read side the interpreter needs.
type SpendingStore interface {
	ItemsByCategoryAndDateRange(ctx context.Context, category string, start, end civil.Date) ([]store.LineItem, error)
}

// Interpretation is the parsed form of the model's command output.
type Interpretation struct {
	Action  string
	Details map[string]interface{}

	// Raw is the full model output, echoed back for diagnostics.
	Raw map[string]interface{}
}

// ParseInterpretation pulls the action and details out of a model output
// object. A missing or non-string action leaves Action empty, which the
// dispatcher renders as "could not understand".
func ParseInterpretation(raw map[string]interface{}) Interpretation {
	interp := Interpretation{Raw: raw}
	if action, ok := raw["action"].(string); ok {
		interp.Action = action
	}
	if details, ok := raw["details"].(map[string]interface{}); ok {
		interp.Details = details
	}
	return interp
}

// Interpreter dispatches a fixed vocabulary of actions against the store
// and renders human-readable responses. It holds no state between calls.
type Interpreter struct {
	store SpendingStore
	log   zerolog.Logger

	// today is overridable in tests; defaults to the current date.
	today func() civil.Date
}

// NewInterpreter creates a command interpreter.
func NewInterpreter(s SpendingStore, log zerolog.Logger) *Interpreter {
	return &Interpreter{
		store: s,
		log:   log,
		today: func() civil.Date { return civil.DateOf(time.Now()) },
	}
}

// Respond executes the interpreted action and renders the reply. Only
// store failures return an error; every recognizable user-side problem
// (missing details, invalid period, unknown action) is rendered as text.
func (i *Interpreter) Respond(ctx context.Context, interp Interpretation) (string, error) {
	switch interp.Action {
	case ActionCategorySpending:
		category, _ := interp.Details["category"].(string)
		period, _ := interp.Details["period"].(string)
		if category == "" || period == "" {
			return "I need both a category and a period (day, week, month or year) to calculate spending.", nil
		}

		total, err := i.CategorySpend(ctx, category, period)
		if errors.Is(err, ErrInvalidPeriod) {
			return invalidPeriodMessage, nil
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Your spending on %s during the last %s is %.2f€.", category, period, total), nil

	case ActionRecommend:
		item, _ := interp.Details["item"].(string)
		if item == "" {
			return "I need the item name to recommend.", nil
		}
		// Placeholder: recommendation analysis is not built yet.
		return fmt.Sprintf("Recommendation for %s: purchase analysis is not available yet, but it is on your radar.", item), nil

	case ActionShoppingList:
		// Placeholder: list tracking is not built yet.
		return "Your pending shopping list is not available yet.", nil

	default:
		i.log.Debug().Str("action", interp.Action).Msg("Unrecognized command action")
		return "Sorry, I couldn't understand that request.", nil
	}
}

// CategorySpend resolves the period to a date window anchored at today,
// queries matching line items and sums their totals.
func (i *Interpreter) CategorySpend(ctx context.Context, category, period string) (float64, error) {
	start, end, err := PeriodWindow(period, i.today())
	if err != nil {
		return 0, err
	}

	items, err := i.store.ItemsByCategoryAndDateRange(ctx, category, start, end)
	if err != nil {
		return 0, fmt.Errorf("command: category spend query: %w", err)
	}

	var total float64
	for _, item := range items {
		total += item.LineTotal
	}
	return total, nil
}

// PeriodWindow maps a period token to the concrete inclusive [start, end]
// window anchored at today.
func PeriodWindow(period string, today civil.Date) (civil.Date, civil.Date, error) {
	switch period {
	case "day":
		return today, today, nil
	case "week":
		return today.AddDays(-7), today, nil
	case "month":
		return civil.Date{Year: today.Year, Month: today.Month, Day: 1}, today, nil
	case "year":
		return civil.Date{Year: today.Year, Month: time.January, Day: 1}, today, nil
	default:
		return civil.Date{}, civil.Date{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
}
