// Package config loads process configuration from an optional YAML file
// plus environment variables. Environment variables win over file
// values, and `${VAR}` references inside the file are expanded before
// parsing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration. All fields are immutable
// after Load.
type Config struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port"`

	// CORSOrigin is the allowed origin for browser clients. Empty
	// disables the CORS headers.
	CORSOrigin string `yaml:"cors_origin"`

	// MongoURI is the document store connection string.
	MongoURI string `yaml:"mongo_uri"`

	// MongoDatabase is the database name.
	MongoDatabase string `yaml:"mongo_database"`

	// GeminiAPIKey authenticates the LLM provider. Missing key is
	// fatal on first LLM use, not at boot.
	GeminiAPIKey string `yaml:"gemini_api_key"`

	// LLMModel is the model id passed to the provider. The core never
	// branches on model identity.
	LLMModel string `yaml:"llm_model"`

	// ApifyToken authenticates upstream actor runs.
	ApifyToken string `yaml:"apify_token"`

	// ApifyBaseURL overrides the actor API endpoint (tests, proxies).
	ApifyBaseURL string `yaml:"apify_base_url"`

	// ActorTimeout bounds a single upstream actor call.
	ActorTimeout time.Duration `yaml:"actor_timeout"`

	// RequestTimeout bounds one chat request end to end.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxSessions bounds the in-memory session store.
	MaxSessions int `yaml:"max_sessions"`

	// SessionTTL is the idle lifetime of a session.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// HomeHashtags is the fixed list prefetched by the scheduler.
	HomeHashtags []string `yaml:"home_hashtags"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogFormat is "json" or "text".
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in defaults applied before file and env
// overrides.
func Default() *Config {
	return &Config{
		Port:           8080,
		MongoURI:       "mongodb://localhost:27017",
		MongoDatabase:  "brandintel",
		LLMModel:       "gemini-2.0-flash",
		ApifyBaseURL:   "https://api.apify.com",
		ActorTimeout:   60 * time.Second,
		RequestTimeout: 180 * time.Second,
		MaxSessions:    500,
		SessionTTL:     30 * time.Minute,
		HomeHashtags:   []string{"fitness", "nutrition", "wellness", "supplements"},
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load builds the configuration from defaults, an optional YAML file at
// path (skipped when path is empty or the file does not exist), and
// environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("config: invalid port %d", cfg.Port)
	}
	if cfg.MaxSessions <= 0 {
		return nil, fmt.Errorf("config: max_sessions must be positive")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.MongoURI, "MONGODB_URI")
	setString(&cfg.MongoDatabase, "MONGODB_DATABASE")
	setString(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.LLMModel, "LLM_MODEL")
	setString(&cfg.ApifyToken, "APIFY_TOKEN")
	setString(&cfg.ApifyBaseURL, "APIFY_BASE_URL")
	setString(&cfg.CORSOrigin, "CORS_ORIGIN")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setInt(&cfg.Port, "PORT")
	setInt(&cfg.MaxSessions, "MAX_SESSIONS")
	setDuration(&cfg.SessionTTL, "SESSION_TTL")
	setDuration(&cfg.ActorTimeout, "ACTOR_TIMEOUT")
	setDuration(&cfg.RequestTimeout, "REQUEST_TIMEOUT")

	if v := strings.TrimSpace(os.Getenv("HOME_HASHTAGS")); v != "" {
		var tags []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		if len(tags) > 0 {
			cfg.HomeHashtags = tags
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
