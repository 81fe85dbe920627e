package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Settings holds all runtime configuration for the service.
// Values come from environment variables with sensible defaults;
// the composition root may override individual fields from flags.
type Settings struct {
	// Port is the HTTP listen port.
	Port string

	// DBPath is the SQLite database file path.
	DBPath string

	// GeminiAPIKey authenticates calls to the model provider.
	GeminiAPIKey string

	// ModelID is the Gemini model used for extraction and interpretation.
	ModelID string

	// ModelTimeout bounds a single model call. The external call is the
	// only long-latency operation in the service, so it always runs under
	// an explicit deadline.
	ModelTimeout time.Duration

	// ArchiveBucket is the optional GCS bucket for receipt image archival.
	// Empty disables archival.
	ArchiveBucket string

	// CORSOrigins is the comma-separated list of allowed origins.
	// Empty means allow all.
	CORSOrigins []string
}

const (
	defaultPort         = "8080"
	defaultDBPath       = "./homesync.db"
	defaultModelID      = "gemini-2.5-flash"
	defaultModelTimeout = 60 * time.Second
)

// Load reads settings from the environment.
func Load() (Settings, error) {
	s := Settings{
		Port:          envOr("PORT", defaultPort),
		DBPath:        envOr("DATABASE_PATH", defaultDBPath),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		ModelID:       envOr("MODEL_ID", defaultModelID),
		ModelTimeout:  defaultModelTimeout,
		ArchiveBucket: os.Getenv("ARCHIVE_BUCKET"),
	}

	if raw := os.Getenv("MODEL_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Settings{}, fmt.Errorf("config: invalid MODEL_TIMEOUT %q: %w", raw, err)
		}
		s.ModelTimeout = d
	}

	if raw := os.Getenv("CORS_ORIGINS"); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			if o := strings.TrimSpace(origin); o != "" {
				s.CORSOrigins = append(s.CORSOrigins, o)
			}
		}
	}

	return s, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
