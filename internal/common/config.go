package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Store    StoreConfig
	Server   ServerConfig
	OCR      OCRConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
}

// StoreConfig holds task-store configuration. An empty DSN selects the
// in-memory store; "sqlite:<path>" or a postgres:// URL selects SQL.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	DialTimeout     time.Duration
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr string
}

// OCRConfig holds page-text extraction configuration.
type OCRConfig struct {
	Pdfinfo      string
	Pdftotext    string
	Pdftoppm     string
	Tesseract    string
	DPI          int
	MaxPages     int
	MinTextChars int // below this, a page falls back to render+OCR
	Timeout      time.Duration
}

// LLMConfig holds language-model collaborator configuration.
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
	MaxRetries  int
	SelfCheck   bool
}

// PipelineConfig holds concurrency and thresholds for the pipeline.
type PipelineConfig struct {
	SectionWorkers int
	DocWorkers     int
	VocabularyFile string // optional YAML vocabulary/rule overrides
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Store: StoreConfig{
			DSN:             getEnv("STORE_DSN", ""),
			MaxConns:        getEnvAsInt32("STORE_MAX_CONNS", 10),
			MaxConnLifetime: getEnvAsDuration("STORE_MAX_CONN_LIFETIME", 30*time.Minute),
			DialTimeout:     getEnvAsDuration("STORE_DIAL_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		OCR: OCRConfig{
			Pdfinfo:      getEnv("PDFINFO_BIN", "pdfinfo"),
			Pdftotext:    getEnv("PDFTOTEXT_BIN", "pdftotext"),
			Pdftoppm:     getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Tesseract:    getEnv("TESSERACT_BIN", "tesseract"),
			DPI:          getEnvAsInt("OCR_DPI", 300),
			MaxPages:     getEnvAsInt("OCR_MAX_PAGES", 0),
			MinTextChars: getEnvAsInt("OCR_MIN_TEXT_CHARS", 180),
			Timeout:      getEnvAsDuration("OCR_TIMEOUT", 2*time.Minute),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      getEnv("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 45*time.Second),
			MaxRetries:  getEnvAsInt("LLM_MAX_RETRIES", 3),
			SelfCheck:   getEnvAsBool("LLM_SELF_CHECK", true),
		},
		Pipeline: PipelineConfig{
			SectionWorkers: getEnvAsInt("SECTION_WORKERS", 4),
			DocWorkers:     getEnvAsInt("DOC_WORKERS", 2),
			VocabularyFile: getEnv("VOCABULARY_FILE", ""),
		},
	}
}

// Helper functions for environment variable parsing.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
