// Package config reads process settings from the environment, with an
// optional .env file for local runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
)

type Config struct {
	Port          string
	AllowedOrigin string
	// Storage
	StorageBackend string
	StateTable     string
	// Secrets live under ParamPrefix in SSM unless an API key is given
	// directly in the environment.
	ParamPrefix  string
	GeminiAPIKey string
	GeminiModel  string
	SendTimeout  time.Duration
	// Persona source; PersonaParam wins over PersonaFile.
	PersonaFile  string
	PersonaParam string
	// OpenAI helpers (voice transcription, moderation)
	OpenAIEnabled     bool
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	STTModel          string
	ModerationEnabled bool
	// Conversation limits
	MaxTurns        int
	MaxContextItems int
	MaxTextLength   int
	MaxMediaBytes   int64
	// Logging
	LogLevel  string
	LogFormat string
}

func Load() Config {
	_ = godotenv.Load()
	openAIKey := os.Getenv("OPENAI_API_KEY")
	return Config{
		Port:              getEnvDefault("PORT", "8080"),
		AllowedOrigin:     getEnvDefault("ALLOWED_ORIGIN", "*"),
		StorageBackend:    strings.ToLower(getEnvDefault("STORAGE_BACKEND", BackendMemory)),
		StateTable:        os.Getenv("STATE_TABLE"),
		ParamPrefix:       getEnvDefault("PARAM_PREFIX", "/santa-workshop"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       os.Getenv("GEMINI_MODEL"),
		SendTimeout:       getEnvDuration("SEND_TIMEOUT", 30*time.Second),
		PersonaFile:       os.Getenv("PERSONA_FILE"),
		PersonaParam:      os.Getenv("PERSONA_PARAM"),
		OpenAIEnabled:     getEnvBoolDefault("OPENAI_ENABLED", openAIKey != ""),
		OpenAIAPIKey:      openAIKey,
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		STTModel:          getEnvDefault("OPENAI_STT_MODEL", "whisper-1"),
		ModerationEnabled: getEnvBoolDefault("MODERATION_ENABLED", false),
		MaxTurns:          getEnvInt("MAX_TURNS", 40),
		MaxContextItems:   getEnvInt("MAX_CONTEXT_ITEMS", 20),
		MaxTextLength:     getEnvInt("MAX_TEXT_LENGTH", 2000),
		MaxMediaBytes:     int64(getEnvInt("MAX_MEDIA_BYTES", 8<<20)),
		LogLevel:          getEnvDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvDefault("LOG_FORMAT", "json"),
	}
}

// UseSSM reports whether API keys must be read from SSM Parameter Store.
func (c Config) UseSSM() bool {
	return c.GeminiAPIKey == ""
}

func (c Config) Validate() error {
	var errs []error
	switch c.StorageBackend {
	case BackendMemory:
	case BackendDynamoDB:
		if strings.TrimSpace(c.StateTable) == "" {
			errs = append(errs, errors.New("STATE_TABLE is required for the dynamodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}
	if strings.TrimSpace(strings.Trim(c.ParamPrefix, "/")) == "" {
		errs = append(errs, errors.New("PARAM_PREFIX must not be empty"))
	}
	if c.ModerationEnabled && !c.OpenAIEnabled {
		errs = append(errs, errors.New("MODERATION_ENABLED requires OpenAI (set OPENAI_API_KEY or OPENAI_ENABLED)"))
	}
	if c.OpenAIEnabled && c.OpenAIAPIKey == "" && !c.UseSSM() {
		errs = append(errs, errors.New("OPENAI_API_KEY is required when GEMINI_API_KEY is given directly"))
	}
	if c.MaxTurns <= 0 || c.MaxContextItems <= 0 || c.MaxTextLength <= 0 || c.MaxMediaBytes <= 0 {
		errs = append(errs, errors.New("conversation limits must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getEnvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}
