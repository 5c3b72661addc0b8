// Package config assembles runtime configuration from environment
// variables, with an optional YAML file seeding search profiles.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"realty-notifier/agents"
	"realty-notifier/pkg/realty"
)

// Defaults applied when the environment leaves a knob unset.
const (
	defaultPort         = "8080"
	defaultDBPath       = "realty.db"
	defaultLocalStorage = "./data"
	defaultScanInterval = 5 * time.Minute
	defaultScanTimeout  = 10 * time.Minute
)

// Config carries everything main needs to wire the pipeline.
type Config struct {
	Port          string
	DBPath        string
	StorageBucket string
	LocalStorage  string

	ScanInterval time.Duration
	ScanTimeout  time.Duration

	Providers         []agents.Config
	OverrideThreshold float64

	TelegramBotToken      string
	TwilioAccountSID      string
	TwilioAuthToken       string
	TwilioWhatsAppFrom    string
	GoogleCredentialsJSON string

	SeedProfiles []realty.Profile
}

// Load reads configuration from the environment. A .env file is honored
// when present; set PROFILES_FILE to seed profiles from YAML.
func Load(logger *slog.Logger) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded .env file")
	}

	cfg := &Config{
		Port:          envOr("PORT", defaultPort),
		DBPath:        envOr("DB_PATH", defaultDBPath),
		StorageBucket: os.Getenv("STORAGE_BUCKET"),
		LocalStorage:  os.Getenv("LOCAL_STORAGE"),

		ScanInterval: envDuration(logger, "SCAN_INTERVAL", defaultScanInterval),
		ScanTimeout:  envDuration(logger, "SCAN_TIMEOUT", defaultScanTimeout),

		Providers:         providers(logger),
		OverrideThreshold: envFloat(logger, "AI_OVERRIDE_THRESHOLD", 0.8),

		TelegramBotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		TwilioAccountSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:       os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioWhatsAppFrom:    os.Getenv("TWILIO_WHATSAPP_FROM"),
		GoogleCredentialsJSON: os.Getenv("GOOGLE_CREDENTIALS_JSON"),
	}

	// Default to local development mode when no bucket is configured.
	if cfg.StorageBucket == "" && cfg.LocalStorage == "" {
		cfg.LocalStorage = defaultLocalStorage
		logger.Info("no STORAGE_BUCKET set, defaulting to local development mode", "storage_path", cfg.LocalStorage)
	}

	if path := os.Getenv("PROFILES_FILE"); path != "" {
		seeds, err := readSeedProfiles(path)
		if err != nil {
			return nil, fmt.Errorf("load profiles file: %w", err)
		}
		cfg.SeedProfiles = seeds
		logger.Info("seed profiles loaded", "path", path, "count", len(seeds))
	}

	return cfg, nil
}

// providers assembles one agent config per present API key. Model names
// and base URLs left empty fall back to the provider defaults.
func providers(logger *slog.Logger) []agents.Config {
	shared := agents.Config{
		Temperature: envFloat(logger, "AI_AGENT_TEMPERATURE", 0.7),
		MaxTokens:   envInt(logger, "AI_AGENT_MAX_TOKENS", 1000),
		Timeout:     envDuration(logger, "AI_AGENT_TIMEOUT", 30*time.Second),
		MaxRetries:  envInt(logger, "AI_AGENT_MAX_RETRIES", 3),
	}

	var list []agents.Config
	add := func(kind, key, model, baseURL string) {
		cfg := shared
		cfg.Kind = kind
		cfg.APIKey = key
		cfg.Model = model
		cfg.BaseURL = baseURL
		list = append(list, cfg)
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		add(agents.KindOpenAI, key, os.Getenv("OPENAI_MODEL"), os.Getenv("OPENAI_BASE_URL"))
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		add(agents.KindGemini, key, os.Getenv("GOOGLE_MODEL"), "")
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		add(agents.KindAnthropic, key, os.Getenv("ANTHROPIC_MODEL"), os.Getenv("ANTHROPIC_BASE_URL"))
	}
	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		add(agents.KindDeepSeek, key, os.Getenv("DEEPSEEK_MODEL"), os.Getenv("DEEPSEEK_BASE_URL"))
	}
	return list
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(logger *slog.Logger, key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn("ignoring unparsable duration", "key", key, "value", v, "error", err)
		return fallback
	}
	return d
}

func envFloat(logger *slog.Logger, key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn("ignoring unparsable float", "key", key, "value", v, "error", err)
		return fallback
	}
	return f
}

func envInt(logger *slog.Logger, key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("ignoring unparsable integer", "key", key, "value", v, "error", err)
		return fallback
	}
	return n
}

// readSeedProfiles parses a YAML profiles file into domain profiles.
func readSeedProfiles(path string) ([]realty.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	profiles := make([]realty.Profile, 0, len(file.Profiles))
	for _, p := range file.Profiles {
		profiles = append(profiles, p.toProfile())
	}
	return profiles, nil
}

// seedFile mirrors realty.Profile with yaml tags so the domain types stay
// free of file-format concerns.
type seedFile struct {
	Profiles []seedProfile `yaml:"profiles"`
}

type seedProfile struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	Active   bool      `yaml:"active"`
	Price    seedRange `yaml:"price"`
	Rooms    seedRange `yaml:"rooms"`
	Location struct {
		City          string   `yaml:"city"`
		Neighborhoods []string `yaml:"neighborhoods"`
		Streets       []string `yaml:"streets"`
	} `yaml:"location"`
	PropertyTypes      []string `yaml:"property_types"`
	FeaturePreferences []string `yaml:"feature_preferences"`
	Channels           map[string]struct {
		Enabled   bool   `yaml:"enabled"`
		Recipient string `yaml:"recipient"`
	} `yaml:"channels"`
	ScanTargets []struct {
		Source string `yaml:"source"`
		Query  string `yaml:"query"`
	} `yaml:"scan_targets"`
}

type seedRange struct {
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`
}

func (p seedProfile) toProfile() realty.Profile {
	out := realty.Profile{
		ID:     p.ID,
		Name:   p.Name,
		Active: p.Active,
		Price:  realty.Range{Min: p.Price.Min, Max: p.Price.Max},
		Rooms:  realty.Range{Min: p.Rooms.Min, Max: p.Rooms.Max},
		Location: realty.LocationCriteria{
			City:          p.Location.City,
			Neighborhoods: p.Location.Neighborhoods,
			Streets:       p.Location.Streets,
		},
		PropertyTypes:      p.PropertyTypes,
		FeaturePreferences: p.FeaturePreferences,
	}
	if len(p.Channels) > 0 {
		out.Channels = make(map[string]realty.ChannelConfig, len(p.Channels))
		for name, ch := range p.Channels {
			out.Channels[name] = realty.ChannelConfig{Enabled: ch.Enabled, Recipient: ch.Recipient}
		}
	}
	for _, t := range p.ScanTargets {
		out.ScanTargets = append(out.ScanTargets, realty.ScanTarget{Source: t.Source, Query: t.Query})
	}
	return out
}
