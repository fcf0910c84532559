package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds the configuration for the assistant service
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Documents DocumentsConfig `toml:"documents"`
	LLM       LLMConfig       `toml:"llm"`
	Fetcher   FetcherConfig   `toml:"fetcher"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig holds HTTP facade configuration
type ServerConfig struct {
	Addr            string        `toml:"addr"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	AllowedOrigins  []string      `toml:"allowed_origins"`
}

// DocumentsConfig holds the document loader configuration
type DocumentsConfig struct {
	Dir           string        `toml:"dir"`
	IncludeHTML   bool          `toml:"include_html"`
	Watch         bool          `toml:"watch"`
	WatchDebounce time.Duration `toml:"watch_debounce"`
}

// LLMConfig selects the backend and holds one credential per backend kind.
type LLMConfig struct {
	Type string `toml:"type"`

	OpenAIAPIKey  string `toml:"openai_api_key"`
	OpenAIModel   string `toml:"openai_model"`
	OpenAIBaseURL string `toml:"openai_base_url"`

	GroqAPIKey  string `toml:"groq_api_key"`
	GroqModel   string `toml:"groq_model"`
	GroqBaseURL string `toml:"groq_base_url"`

	GeminiAPIKey  string `toml:"gemini_api_key"`
	GeminiModel   string `toml:"gemini_model"`
	GeminiBaseURL string `toml:"gemini_base_url"`

	Timeout      time.Duration `toml:"timeout"`
	MaxRetries   int           `toml:"max_retries"`
	RetryBackoff time.Duration `toml:"retry_backoff"`
	RateLimit    float64       `toml:"rate_limit"`
	RateBurst    int           `toml:"rate_burst"`
}

// FetcherConfig holds configuration for catalog page imports
type FetcherConfig struct {
	Timeout       time.Duration `toml:"timeout"`
	UserAgent     string        `toml:"user_agent"`
	RespectRobots bool          `toml:"respect_robots"`
	// AllowedHosts lists the hosts pages may be imported from. Empty disables import.
	AllowedHosts []string `toml:"allowed_hosts"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Defaults returns the configuration used when neither a file nor the environment set a value.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:3000"},
		},
		Documents: DocumentsConfig{
			Dir:           "./documents",
			IncludeHTML:   false,
			Watch:         false,
			WatchDebounce: 500 * time.Millisecond,
		},
		LLM: LLMConfig{
			Type:         "groq",
			OpenAIModel:  "gpt-3.5-turbo",
			GroqModel:    "llama-3.3-70b-versatile",
			GeminiModel:  "gemini-1.5-flash",
			Timeout:      30 * time.Second,
			MaxRetries:   1,
			RetryBackoff: 500 * time.Millisecond,
			RateLimit:    0,
			RateBurst:    1,
		},
		Fetcher: FetcherConfig{
			Timeout:       15 * time.Second,
			UserAgent:     "CrownKing-Assistant/1.0",
			RespectRobots: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return applyEnv(Defaults(), os.Getenv)
}

// LoadFile reads a TOML file on top of the defaults and then applies environment overrides.
func LoadFile(path string) (*Config, error) {
	return loadFile(path, os.Getenv)
}

func loadFile(path string, getenv func(string) string) (*Config, error) {
	base := Defaults()
	if _, err := toml.DecodeFile(path, base); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return applyEnv(base, getenv), nil
}

// Resolve reads .env (if present) and the optional CONFIG_FILE, then the environment.
// It is called at startup and on every reload. Values from .env sit below the process
// environment and never modify it, so an edited .env is seen by the next call.
func Resolve() (*Config, error) {
	dotenv, err := godotenv.Read()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	getenv := func(key string) string {
		if value := os.Getenv(key); value != "" {
			return value
		}
		return dotenv[key]
	}

	if path := getenv("CONFIG_FILE"); path != "" {
		return loadFile(path, getenv)
	}
	return applyEnv(Defaults(), getenv), nil
}

func applyEnv(base *Config, getenv func(string) string) *Config {
	e := envSource(getenv)
	return &Config{
		Server: ServerConfig{
			Addr:            e.str("SERVER_ADDR", base.Server.Addr),
			ReadTimeout:     e.duration("SERVER_READ_TIMEOUT", base.Server.ReadTimeout),
			WriteTimeout:    e.duration("SERVER_WRITE_TIMEOUT", base.Server.WriteTimeout),
			IdleTimeout:     e.duration("SERVER_IDLE_TIMEOUT", base.Server.IdleTimeout),
			ShutdownTimeout: e.duration("SERVER_SHUTDOWN_TIMEOUT", base.Server.ShutdownTimeout),
			AllowedOrigins:  e.list("CORS_ALLOWED_ORIGINS", base.Server.AllowedOrigins),
		},
		Documents: DocumentsConfig{
			Dir:           e.str("DOCUMENTS_DIR", base.Documents.Dir),
			IncludeHTML:   e.bool("DOCUMENTS_INCLUDE_HTML", base.Documents.IncludeHTML),
			Watch:         e.bool("DOCUMENTS_WATCH", base.Documents.Watch),
			WatchDebounce: e.duration("DOCUMENTS_WATCH_DEBOUNCE", base.Documents.WatchDebounce),
		},
		LLM: LLMConfig{
			Type:          e.str("LLM_TYPE", base.LLM.Type),
			OpenAIAPIKey:  e.str("OPENAI_API_KEY", base.LLM.OpenAIAPIKey),
			OpenAIModel:   e.str("OPENAI_MODEL", base.LLM.OpenAIModel),
			OpenAIBaseURL: e.str("OPENAI_BASE_URL", base.LLM.OpenAIBaseURL),
			GroqAPIKey:    e.str("GROQ_API_KEY", base.LLM.GroqAPIKey),
			GroqModel:     e.str("GROQ_MODEL", base.LLM.GroqModel),
			GroqBaseURL:   e.str("GROQ_BASE_URL", base.LLM.GroqBaseURL),
			GeminiAPIKey:  e.str("GEMINI_API_KEY", base.LLM.GeminiAPIKey),
			GeminiModel:   e.str("GEMINI_MODEL", base.LLM.GeminiModel),
			GeminiBaseURL: e.str("GEMINI_BASE_URL", base.LLM.GeminiBaseURL),
			Timeout:       e.duration("LLM_TIMEOUT", base.LLM.Timeout),
			MaxRetries:    e.int("LLM_MAX_RETRIES", base.LLM.MaxRetries),
			RetryBackoff:  e.duration("LLM_RETRY_BACKOFF", base.LLM.RetryBackoff),
			RateLimit:     e.float("LLM_RATE_LIMIT", base.LLM.RateLimit),
			RateBurst:     e.int("LLM_RATE_BURST", base.LLM.RateBurst),
		},
		Fetcher: FetcherConfig{
			Timeout:       e.duration("FETCHER_TIMEOUT", base.Fetcher.Timeout),
			UserAgent:     e.str("FETCHER_USER_AGENT", base.Fetcher.UserAgent),
			RespectRobots: e.bool("FETCHER_RESPECT_ROBOTS", base.Fetcher.RespectRobots),
			AllowedHosts:  e.list("FETCHER_ALLOWED_HOSTS", base.Fetcher.AllowedHosts),
		},
		Log: LogConfig{
			Level:  e.str("LOG_LEVEL", base.Log.Level),
			Format: e.str("LOG_FORMAT", base.Log.Format),
		},
	}
}

func GetStringEnv(key, defaultValue string) string {
	return envSource(os.Getenv).str(key, defaultValue)
}

func GetIntEnv(key string, defaultValue int) int {
	return envSource(os.Getenv).int(key, defaultValue)
}

func GetFloatEnv(key string, defaultValue float64) float64 {
	return envSource(os.Getenv).float(key, defaultValue)
}

func GetBoolEnv(key string, defaultValue bool) bool {
	return envSource(os.Getenv).bool(key, defaultValue)
}

func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	return envSource(os.Getenv).duration(key, defaultValue)
}

// GetListEnv splits a comma separated value, dropping empty items.
func GetListEnv(key string, defaultValue []string) []string {
	return envSource(os.Getenv).list(key, defaultValue)
}

// envSource reads typed values; empty and unparsable values fall back to the default.
type envSource func(string) string

func (e envSource) str(key, defaultValue string) string {
	if value := e(key); value != "" {
		return value
	}
	return defaultValue
}

func (e envSource) int(key string, defaultValue int) int {
	if value := e(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (e envSource) float(key string, defaultValue float64) float64 {
	if value := e(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func (e envSource) bool(key string, defaultValue bool) bool {
	if value := e(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func (e envSource) duration(key string, defaultValue time.Duration) time.Duration {
	if value := e(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func (e envSource) list(key string, defaultValue []string) []string {
	value := e(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
