package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/homesync-backend/internal/api/middleware"
	"github.com/dvloznov/homesync-backend/internal/command"
	"github.com/dvloznov/homesync-backend/internal/extract"
	"github.com/dvloznov/homesync-backend/internal/gemini"
	"github.com/dvloznov/homesync-backend/internal/store"
)

// ModelClient is the external model collaborator the handlers call into.
type ModelClient interface {
	// ExtractReceipt turns a base64 receipt image into a Record, a
	// non-fatal Failure, or a typed error (decode / provider).
	ExtractReceipt(ctx context.Context, imageBase64, prompt string) (*extract.Record, *extract.Failure, error)

	// InterpretCommand turns free text into an action/details object.
	InterpretCommand(ctx context.Context, commandText, prompt string) (map[string]interface{}, *extract.Failure, error)

	// Ping verifies provider connectivity.
	Ping(ctx context.Context) (string, error)
}

// PurchaseStore is the persistence surface the handlers need.
type PurchaseStore interface {
	SavePurchase(ctx context.Context, rec *extract.Record) (*store.Purchase, []store.LineItem, error)
	GetPurchase(ctx context.Context, id string) (*store.Purchase, error)
	ItemsByPurchase(ctx context.Context, purchaseID string) ([]store.LineItem, error)
}

// ImageArchiver receives the original image bytes after a successful persist.
type ImageArchiver interface {
	Enqueue(purchaseID string, image []byte)
}

// ReceiptsHandler handles receipt image submission.
type ReceiptsHandler struct {
	model    ModelClient
	store    PurchaseStore
	archiver ImageArchiver // nil disables archival
	log      zerolog.Logger
}

// NewReceiptsHandler creates a new receipts handler.
func NewReceiptsHandler(model ModelClient, s PurchaseStore, archiver ImageArchiver, log zerolog.Logger) *ReceiptsHandler {
	return &ReceiptsHandler{
		model:    model,
		store:    s,
		archiver: archiver,
		log:      log,
	}
}

// ProcessReceipt handles POST /api/v1/receipts/process
func (h *ReceiptsHandler) ProcessReceipt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageBase64 string `json:"image_base64"`
		Prompt      string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ImageBase64 == "" {
		middleware.WriteError(w, http.StatusBadRequest, "image_base64 is required")
		return
	}
	if req.Prompt == "" {
		req.Prompt = gemini.DefaultReceiptPrompt
	}

	ctx := r.Context()

	record, failure, err := h.model.ExtractReceipt(ctx, req.ImageBase64, req.Prompt)
	if err != nil {
		var decodeErr *gemini.DecodeError
		if errors.As(err, &decodeErr) {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid image encoding: "+decodeErr.Error())
			return
		}
		h.log.Error().Err(err).Msg("Receipt extraction failed")
		middleware.WriteError(w, http.StatusBadGateway, "Model extraction failed: "+err.Error())
		return
	}

	if failure != nil {
		// The provider answered but not with parsable JSON. Forward the
		// raw text to the caller; nothing is persisted.
		h.log.Warn().Str("reason", failure.Reason).Msg("Receipt extraction not parsable")
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "success",
			"message":        "Model response could not be parsed into a receipt.",
			"extracted_data": failure,
		})
		return
	}

	purchase, items, err := h.store.SavePurchase(ctx, record)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to persist extracted receipt")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to save receipt: "+err.Error())
		return
	}

	h.log.Info().
		Str("purchase_id", purchase.ID).
		Int("line_items", len(items)).
		Msg("Receipt processed")

	if h.archiver != nil {
		if image, decodeErr := base64.StdEncoding.DecodeString(req.ImageBase64); decodeErr == nil {
			h.archiver.Enqueue(purchase.ID, image)
		}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "success",
		"message":        "Model correctly processed the receipt image.",
		"extracted_data": record.Raw,
		"purchase_id":    purchase.ID,
	})
}

// CommandsHandler handles voice command submission.
type CommandsHandler struct {
	model       ModelClient
	interpreter *command.Interpreter
	log         zerolog.Logger
}

// NewCommandsHandler creates a new commands handler.
func NewCommandsHandler(model ModelClient, interpreter *command.Interpreter, log zerolog.Logger) *CommandsHandler {
	return &CommandsHandler{
		model:       model,
		interpreter: interpreter,
		log:         log,
	}
}

// ProcessVoiceCommand handles POST /api/v1/commands/voice
func (h *CommandsHandler) ProcessVoiceCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CommandText string `json:"command_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CommandText == "" {
		middleware.WriteError(w, http.StatusBadRequest, "command_text is required")
		return
	}

	ctx := r.Context()

	interpretation, failure, err := h.model.InterpretCommand(ctx, req.CommandText, gemini.DefaultCommandPrompt)
	if err != nil {
		h.log.Error().Err(err).Msg("Command interpretation failed")
		middleware.WriteError(w, http.StatusBadGateway, "Model interpretation failed: "+err.Error())
		return
	}

	if failure != nil {
		// Unparsable interpretation still goes back to the caller so the
		// raw model text stays visible.
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":               "success",
			"response":             "Sorry, I couldn't understand that request.",
			"model_interpretation": failure,
		})
		return
	}

	message, err := h.interpreter.Respond(ctx, command.ParseInterpretation(interpretation))
	if err != nil {
		h.log.Error().Err(err).Msg("Command execution failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to execute command: "+err.Error())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "success",
		"response":             message,
		"model_interpretation": interpretation,
	})
}

// PurchasesHandler serves persisted purchases.
type PurchasesHandler struct {
	store PurchaseStore
	log   zerolog.Logger
}

// NewPurchasesHandler creates a new purchases handler.
func NewPurchasesHandler(s PurchaseStore, log zerolog.Logger) *PurchasesHandler {
	return &PurchasesHandler{store: s, log: log}
}

// GetPurchase handles GET /api/v1/purchases/{id}
func (h *PurchasesHandler) GetPurchase(w http.ResponseWriter, r *http.Request, purchaseID string) {
	ctx := r.Context()

	purchase, err := h.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		h.log.Error().Err(err).Str("purchase_id", purchaseID).Msg("Failed to fetch purchase")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to fetch purchase")
		return
	}
	if purchase == nil {
		middleware.WriteError(w, http.StatusNotFound, "Purchase not found")
		return
	}

	items, err := h.store.ItemsByPurchase(ctx, purchaseID)
	if err != nil {
		h.log.Error().Err(err).Str("purchase_id", purchaseID).Msg("Failed to fetch line items")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to fetch line items")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"purchase": purchase,
		"items":    items,
		"count":    len(items),
	})
}

// SpendingHandler serves category spending queries directly over HTTP,
// bypassing the model round-trip.
type SpendingHandler struct {
	interpreter *command.Interpreter
	log         zerolog.Logger
}

// NewSpendingHandler creates a new spending handler.
func NewSpendingHandler(interpreter *command.Interpreter, log zerolog.Logger) *SpendingHandler {
	return &SpendingHandler{interpreter: interpreter, log: log}
}

// GetSpending handles GET /api/v1/spending?category=...&period=...
func (h *SpendingHandler) GetSpending(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	category := query.Get("category")
	period := query.Get("period")

	if category == "" || period == "" {
		middleware.WriteError(w, http.StatusBadRequest, "category and period are required")
		return
	}

	total, err := h.interpreter.CategorySpend(r.Context(), category, period)
	if errors.Is(err, command.ErrInvalidPeriod) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid period. Use 'day', 'week', 'month' or 'year'.")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("category", category).Msg("Spending query failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query spending")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"category": category,
		"period":   period,
		"total":    total,
	})
}

// ModelHealthHandler probes the model provider.
type ModelHealthHandler struct {
	model ModelClient
	log   zerolog.Logger
}

// NewModelHealthHandler creates a new model health handler.
func NewModelHealthHandler(model ModelClient, log zerolog.Logger) *ModelHealthHandler {
	return &ModelHealthHandler{model: model, log: log}
}

// Check handles GET /api/v1/model/health
func (h *ModelHealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	message, err := h.model.Ping(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Model health check failed")
		middleware.WriteJSON(w, http.StatusBadGateway, map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}
