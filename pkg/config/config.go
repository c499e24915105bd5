// Package config loads cycleloop settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every setting, parsed from CYCLELOOP_* and provider variables.
type Config struct {
	Generator    string `env:"CYCLELOOP_GENERATOR" envDefault:"ollama"`
	Model        string `env:"CYCLELOOP_MODEL" envDefault:"mistral"`
	OllamaHost   string `env:"OLLAMA_HOST" envDefault:"http://localhost:11434"`
	GeminiAPIKey string `env:"GEMINI_API_KEY"`

	Search        string `env:"CYCLELOOP_SEARCH" envDefault:"mock"`
	SearXNGURL    string `env:"SEARXNG_URL" envDefault:"http://localhost:8888"`
	SearchResults int    `env:"CYCLELOOP_SEARCH_RESULTS" envDefault:"5"`

	Store      string `env:"CYCLELOOP_STORE" envDefault:"sqlite"`
	SQLitePath string `env:"CYCLELOOP_SQLITE_PATH" envDefault:"cycleloop.db"`

	GCPProject      string `env:"GOOGLE_CLOUD_PROJECT"`
	CredentialsFile string `env:"GOOGLE_APPLICATION_CREDENTIALS_FILE"`
	PubSubTopic     string `env:"CYCLELOOP_PUBSUB_TOPIC"`

	StageDelay  time.Duration `env:"CYCLELOOP_STAGE_DELAY" envDefault:"2s"`
	MaxAgents   int           `env:"CYCLELOOP_MAX_AGENTS" envDefault:"7"`
	PromptsFile string        `env:"CYCLELOOP_PROMPTS_FILE"`

	HTTPAddr string `env:"CYCLELOOP_HTTP_ADDR"`

	LogLevel string `env:"CYCLELOOP_LOG_LEVEL" envDefault:"info"`
	LogDev   bool   `env:"CYCLELOOP_LOG_DEV" envDefault:"false"`
}

const (
	GeneratorOllama = "ollama"
	GeneratorGemini = "gemini"

	SearchMock    = "mock"
	SearchSearXNG = "searxng"

	StoreMemory    = "memory"
	StoreSQLite    = "sqlite"
	StoreFirestore = "firestore"
)

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Generator = strings.ToLower(strings.TrimSpace(c.Generator))
	c.Search = strings.ToLower(strings.TrimSpace(c.Search))
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
}

// Validate rejects unknown backends and missing credentials.
func (c Config) Validate() error {
	switch c.Generator {
	case GeneratorOllama:
	case GeneratorGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when CYCLELOOP_GENERATOR=gemini")
		}
	default:
		return fmt.Errorf("unknown generator %q", c.Generator)
	}
	switch c.Search {
	case SearchMock, SearchSearXNG:
	default:
		return fmt.Errorf("unknown search backend %q", c.Search)
	}
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("CYCLELOOP_SQLITE_PATH is required for the sqlite store")
		}
	case StoreFirestore:
		if c.GCPProject == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for the firestore store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.PubSubTopic != "" && c.GCPProject == "" {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required when CYCLELOOP_PUBSUB_TOPIC is set")
	}
	if c.MaxAgents <= 0 {
		return fmt.Errorf("CYCLELOOP_MAX_AGENTS must be positive, got %d", c.MaxAgents)
	}
	if c.StageDelay < 0 {
		return fmt.Errorf("CYCLELOOP_STAGE_DELAY must not be negative")
	}
	if c.SearchResults <= 0 {
		return fmt.Errorf("CYCLELOOP_SEARCH_RESULTS must be positive")
	}
	return nil
}

// NeedsGCP reports whether any Google Cloud client must be opened.
func (c Config) NeedsGCP() bool {
	return c.Store == StoreFirestore || c.PubSubTopic != ""
}
