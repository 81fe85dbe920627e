package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/homesync-backend/internal/api/handlers"
	"github.com/dvloznov/homesync-backend/internal/api/middleware"
	"github.com/dvloznov/homesync-backend/internal/archive"
	"github.com/dvloznov/homesync-backend/internal/command"
	"github.com/dvloznov/homesync-backend/internal/config"
	"github.com/dvloznov/homesync-backend/internal/gemini"
	"github.com/dvloznov/homesync-backend/internal/logger"
	"github.com/dvloznov/homesync-backend/internal/store"
)

func main() {
	log := logger.New()

	settings, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Flag overrides
	var (
		port   = flag.String("port", settings.Port, "HTTP server port")
		dbPath = flag.String("db", settings.DBPath, "SQLite database path")
		bucket = flag.String("bucket", settings.ArchiveBucket, "GCS bucket for receipt image archival (or set ARCHIVE_BUCKET env; empty disables)")
	)
	flag.Parse()

	ctx := context.Background()

	// Storage
	db, err := store.Open(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()
	log.Info().Str("path", *dbPath).Msg("Database ready")

	// Model client
	model, err := gemini.NewClient(ctx, settings.GeminiAPIKey, settings.ModelID, settings.ModelTimeout, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create model client")
	}
	log.Info().Str("model", settings.ModelID).Dur("timeout", settings.ModelTimeout).Msg("Model client ready")

	// Optional image archiver
	archiveCtx, cancelArchiver := context.WithCancel(ctx)
	defer cancelArchiver()

	var archiver *archive.Archiver
	var imageArchiver handlers.ImageArchiver
	if *bucket != "" {
		archiver = archive.NewArchiver(*bucket, 100, log)
		archiver.Start(archiveCtx)
		imageArchiver = archiver
		log.Info().Str("bucket", *bucket).Msg("Receipt image archival enabled")
	} else {
		log.Warn().Msg("No archive bucket configured - receipt images will not be archived")
	}

	// Handlers
	interpreter := command.NewInterpreter(db, log)
	receiptsHandler := handlers.NewReceiptsHandler(model, db, imageArchiver, log)
	commandsHandler := handlers.NewCommandsHandler(model, interpreter, log)
	purchasesHandler := handlers.NewPurchasesHandler(db, log)
	spendingHandler := handlers.NewSpendingHandler(interpreter, log)
	modelHealthHandler := handlers.NewModelHealthHandler(model, log)

	// Router
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/receipts/process", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			receiptsHandler.ProcessReceipt(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/v1/commands/voice", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			commandsHandler.ProcessVoiceCommand(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/v1/purchases/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			purchaseID := strings.TrimPrefix(r.URL.Path, "/api/v1/purchases/")
			if purchaseID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Purchase ID is required")
				return
			}
			purchasesHandler.GetPurchase(w, r, purchaseID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/v1/spending", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			spendingHandler.GetSpending(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/v1/model/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			modelHealthHandler.Check(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(settings.CORSOrigins)(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // model calls can take a while
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Drain pending image uploads
	if archiver != nil {
		if err := archiver.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping archiver")
		}
	}
	cancelArchiver()

	log.Info().Msg("Server exited")
}
