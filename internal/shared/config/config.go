package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	DatabaseURL     string
	Env             string

	// Inference service
	AnthropicAPIKey string
	ModelName       string

	// Pipeline tuning
	BatchSize                int
	AnnotationBatchSize      int
	MaxTokensPerImage        int
	MaxTokensLensDiscovery   int
	MaxTokensAnnotationBatch int
	RelevanceThreshold       float64
	BatchPause               time.Duration
	AnnotationPause          time.Duration
	LensScoreOverwrite       bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		DatabaseURL:     dbURL,
		Env:             env,

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		ModelName:       getEnv("MODEL_NAME", "claude-sonnet-4-20250514"),

		BatchSize:                getEnvInt("BATCH_SIZE", 8),
		AnnotationBatchSize:      getEnvInt("ANNOTATION_BATCH_SIZE", 10),
		MaxTokensPerImage:        getEnvInt("MAX_TOKENS_PER_IMAGE", 600),
		MaxTokensLensDiscovery:   getEnvInt("MAX_TOKENS_LENS_DISCOVERY", 8000),
		MaxTokensAnnotationBatch: getEnvInt("MAX_TOKENS_ANNOTATION_BATCH", 2000),
		RelevanceThreshold:       getEnvFloat("RELEVANCE_THRESHOLD", 0.4),
		BatchPause:               getEnvDuration("BATCH_PAUSE", 2*time.Second),
		AnnotationPause:          getEnvDuration("ANNOTATION_PAUSE", 500*time.Millisecond),
		LensScoreOverwrite:       getEnvBool("LENS_SCORE_OVERWRITE", false),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config %s invalid int: %v", key, err)
		return def
	}
	return val
}

func getEnvFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("config %s invalid float: %v", key, err)
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("config %s invalid duration: %v", key, err)
		return def
	}
	return val
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("config %s invalid bool: %v", key, err)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}
