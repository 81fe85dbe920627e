package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/dvloznov/homesync-backend/internal/extract"
)

// DefaultReceiptPrompt is the extraction instruction used when the caller
// does not supply one.
const DefaultReceiptPrompt = "Extract product names, quantities, unit prices, and totals from this purchase receipt. " +
	"Provide the result in JSON format. Include the purchase date if available."

// DefaultCommandPrompt is the interpretation instruction for voice commands.
const DefaultCommandPrompt = "Interpret this command related to the shopping list or home inventory. " +
	"Respond in JSON format with 'action' and 'details'."

// receiptSchema constrains the structured extraction call so the model
// output lines up with the keys the persistence mapper resolves.
var receiptSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"invoice_number": {Type: genai.TypeString},
		"date":           {Type: genai.TypeString, Description: "Purchase date in YYYY-MM-DD format"},
		"supermarket":    {Type: genai.TypeString, Description: "Vendor or store name"},
		"vendor_address": {Type: genai.TypeString},
		"total":          {Type: genai.TypeNumber},
		"items": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"product_name": {Type: genai.TypeString},
					"category":     {Type: genai.TypeString},
					"quantity":     {Type: genai.TypeNumber},
					"unit_price":   {Type: genai.TypeNumber},
					"total_price":  {Type: genai.TypeNumber},
				},
				Required: []string{"product_name"},
			},
		},
	},
}

// Client wraps the Gemini API with the two call modes the service needs:
// schema-constrained receipt extraction and free-text command
// interpretation. Every call runs under the configured timeout.
type Client struct {
	genai   *genai.Client
	modelID string
	timeout time.Duration
	log     zerolog.Logger
}

// NewClient creates a Gemini client. An empty apiKey falls back to the
// SDK's own environment lookup.
func NewClient(ctx context.Context, apiKey, modelID string, timeout time.Duration, log zerolog.Logger) (*Client, error) {
	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &Client{
		genai:   client,
		modelID: modelID,
		timeout: timeout,
		log:     log,
	}, nil
}

// ExtractReceipt sends a base64-encoded receipt image to the model and
// normalizes the answer. The structured (schema-constrained) call is tried
// first; if it fails, one retry is made in unstructured mode with an
// explicit JSON instruction appended.
//
// Outcomes: a Record on success, a Failure when the provider answered but
// the answer is not parsable JSON (non-fatal, forwarded to the caller),
// or an error (*DecodeError / *ProviderError) when nothing was obtained.
func (c *Client) ExtractReceipt(ctx context.Context, imageBase64, prompt string) (*extract.Record, *extract.Failure, error) {
	imageBytes, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return nil, nil, &DecodeError{Err: err}
	}
	if len(imageBytes) == 0 {
		return nil, nil, &DecodeError{Err: errors.New("image is empty after decoding")}
	}
	if prompt == "" {
		prompt = DefaultReceiptPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.log.Info().Int("image_bytes", len(imageBytes)).Msg("Extracting receipt with structured schema")

	structuredCfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   receiptSchema,
	}

	text, structuredErr := c.generate(ctx, imageContents(prompt, imageBytes), structuredCfg)
	if structuredErr == nil {
		if obj, failure := extract.DecodeObject(text); failure == nil {
			return extract.RecordFromMap(obj), nil, nil
		}
		structuredErr = errors.New("structured response was not valid JSON")
	}

	// Retry once without the schema; some receipts trip the structured
	// decoder even though the model can describe them as plain JSON.
	c.log.Warn().Err(structuredErr).Msg("Structured extraction failed, retrying unstructured")

	fallbackPrompt := prompt + "\n\nPlease return the response in valid JSON format."
	text, err = c.generate(ctx, imageContents(fallbackPrompt, imageBytes), nil)
	if err != nil {
		return nil, nil, &ProviderError{
			Op:  "extract receipt",
			Err: fmt.Errorf("structured: %v; unstructured: %w", structuredErr, err),
		}
	}

	record, failure := extract.ParseReceiptText(text)
	return record, failure, nil
}

// InterpretCommand sends free text to the model and parses the expected
// {"action": ..., "details": {...}} object. No retry; an unparsable
// answer comes back as a Failure for diagnostic rendering.
func (c *Client) InterpretCommand(ctx context.Context, commandText, prompt string) (map[string]interface{}, *extract.Failure, error) {
	if prompt == "" {
		prompt = DefaultCommandPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fullPrompt := fmt.Sprintf("%s\n\nText to process: %s", prompt, commandText)

	text, err := c.generate(ctx, textContents(fullPrompt), nil)
	if err != nil {
		return nil, nil, &ProviderError{Op: "interpret command", Err: err}
	}

	obj, failure := extract.DecodeObject(text)
	if failure != nil {
		return nil, failure, nil
	}
	return obj, nil, nil
}

// Ping issues a trivial generation to verify provider connectivity.
func (c *Client) Ping(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.generate(ctx, textContents("Reply with the single word: ok"), nil)
	if err != nil {
		return "", &ProviderError{Op: "ping", Err: err}
	}
	return text, nil
}

func (c *Client) generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := c.genai.Models.GenerateContent(ctx, c.modelID, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("empty response from model")
	}
	return text, nil
}

func imageContents(prompt string, imageBytes []byte) []*genai.Content {
	return []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
				{
					InlineData: &genai.Blob{
						MIMEType: "image/jpeg",
						Data:     imageBytes,
					},
				},
			},
		},
	}
}

func textContents(prompt string) []*genai.Content {
	return []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
}
