package extract

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Record is the canonical extraction produced from model output.
// All fields are optional; nil means the model did not supply the field.
// Raw keeps the original payload untouched for the audit column.
type Record struct {
	TicketNumber  *string
	PurchaseDate  *string
	Vendor        *string
	VendorAddress *string
	Total         *float64
	Items         []Item

	Raw map[string]interface{}
}

// Item is one line entry inside a Record, before defaults are applied.
type Item struct {
	Name      *string
	Category  *string
	UnitPrice *float64
	Quantity  *float64
	LineTotal *float64
}

// Failure is the non-fatal outcome of normalization: the model answered,
// but the answer could not be turned into a record. It is returned to the
// caller as a diagnostic payload, never raised as an error.
type Failure struct {
	RawResponse string `json:"raw_model_response"`
	Reason      string `json:"error"`
}

// StripFences removes a Markdown code fence wrapper from model output.
// Both the tagged (```json) and untagged (```) forms are recognized.
// Text without a fence is returned unchanged apart from whitespace trimming.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```"))
		}
		// Remove the trailing fence if present.
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
	}

	return strings.TrimSpace(s)
}

// DecodeObject strips fences from raw model text and parses it as a JSON
// object. A parse failure, including empty text after fence stripping,
// yields a Failure carrying the original raw text.
func DecodeObject(raw string) (map[string]interface{}, *Failure) {
	clean := StripFences(raw)
	if clean == "" {
		return nil, &Failure{RawResponse: raw, Reason: "empty response from model"}
	}

	var obj map[string]interface{}
	err := json.Unmarshal([]byte(clean), &obj)
	if err == nil {
		return obj, nil
	}

	// The model sometimes surrounds the JSON with prose even after the
	// fence is gone. Retry once with only the outermost object.
	if start := strings.Index(clean, "{"); start != -1 {
		if end := strings.LastIndex(clean, "}"); end > start {
			trimmed := clean[start : end+1]
			if trimmed != clean {
				if retryErr := json.Unmarshal([]byte(trimmed), &obj); retryErr == nil {
					return obj, nil
				}
			}
		}
	}

	return nil, &Failure{
		RawResponse: raw,
		Reason:      "could not parse model response as JSON: " + err.Error(),
	}
}

// ParseReceiptText normalizes free-text model output into a Record.
// Exactly one of the results is non-nil.
func ParseReceiptText(raw string) (*Record, *Failure) {
	obj, failure := DecodeObject(raw)
	if failure != nil {
		return nil, failure
	}
	return RecordFromMap(obj), nil
}

// RecordFromMap resolves the recognized keys of a parsed extraction object
// into a typed Record. Each field is resolved against an ordered list of
// candidate keys; the first present, coercible value wins.
func RecordFromMap(m map[string]interface{}) *Record {
	rec := &Record{
		TicketNumber:  firstString(m, "invoice_number", "ticket_number"),
		PurchaseDate:  firstString(m, "date"),
		Vendor:        firstString(m, "supermarket", "vendor", "vendor_name"),
		VendorAddress: firstString(m, "vendor_address"),
		Total:         firstFloat(m, "total", "total_amount"),
		Raw:           m,
	}

	items, ok := m["items"].([]interface{})
	if !ok {
		return rec
	}
	for _, entry := range items {
		obj, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		rec.Items = append(rec.Items, Item{
			Name:      firstString(obj, "product_name", "product"),
			Category:  firstString(obj, "category"),
			UnitPrice: firstFloat(obj, "unit_price", "price"),
			Quantity:  firstFloat(obj, "quantity"),
			LineTotal: firstFloat(obj, "total_price"),
		})
	}
	return rec
}

// firstString returns the first candidate key holding a non-empty string.
func firstString(m map[string]interface{}, keys ...string) *string {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				return &s
			}
		}
	}
	return nil
}

// firstFloat returns the first candidate key holding a number. String
// values that parse as numbers are accepted; anything else counts as
// absent, so the caller's default applies.
func firstFloat(m map[string]interface{}, keys ...string) *float64 {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case float64:
			f := val
			return &f
		case int:
			f := float64(val)
			return &f
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				return &f
			}
		}
	}
	return nil
}
