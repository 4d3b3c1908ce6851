package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"books_nepal/internal/models"
)

// Config holds every setting of the application so it can be passed around as one value.
type Config struct {
	TelegramToken string
	CatalogURL    string
	ProxyAddr     string
	HTTPTimeout   time.Duration

	SearchDebounce  time.Duration
	DefaultQuery    string
	DefaultCategory string

	SQLitePath string
	CoverDir   string
	HTTPAddr   string
	MiniAppURL string
	LogLevel   string

	APIRateLimit float64
	APIRateBurst int
}

const defaultCatalogURL = "https://www.googleapis.com/books/v1/volumes"

// Load reads the .env file (if any) and fills Config from the environment.
func Load() (*Config, error) {
	// Missing .env is fine: in containers the variables come straight from the environment.
	if err := godotenv.Load(); err != nil {
		logrus.Debug("config: .env not found, using process environment")
	}

	timeout, err := durationEnv("HTTP_TIMEOUT", 20*time.Second)
	if err != nil {
		return nil, err
	}
	debounce, err := durationEnv("SEARCH_DEBOUNCE", 300*time.Millisecond)
	if err != nil {
		return nil, err
	}
	rateLimit, err := floatEnv("API_RATE_LIMIT", 5)
	if err != nil {
		return nil, err
	}
	rateBurst, err := intEnv("API_RATE_BURST", 10)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		TelegramToken:   os.Getenv("TELEGRAM_TOKEN"),
		CatalogURL:      withDefault(os.Getenv("CATALOG_URL"), defaultCatalogURL),
		ProxyAddr:       strings.TrimSpace(os.Getenv("PROXY_ADDR")),
		HTTPTimeout:     timeout,
		SearchDebounce:  debounce,
		DefaultQuery:    withDefault(os.Getenv("DEFAULT_QUERY"), "Nepal"),
		DefaultCategory: withDefault(os.Getenv("DEFAULT_CATEGORY"), models.Categories[0]),
		SQLitePath:      resolvePath(withDefault(os.Getenv("SQLITE_PATH"), "data/app.db")),
		CoverDir:        resolvePath(withDefault(os.Getenv("COVER_DIR"), "data/covers")),
		HTTPAddr:        withDefault(os.Getenv("HTTP_ADDR"), ":8080"),
		MiniAppURL:      os.Getenv("MINIAPP_URL"),
		LogLevel:        withDefault(os.Getenv("LOG_LEVEL"), "info"),
		APIRateLimit:    rateLimit,
		APIRateBurst:    rateBurst,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateBot checks the settings only the Telegram bot needs.
func (c *Config) ValidateBot() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is not set")
	}
	return nil
}

func (c *Config) validate() error {
	if !models.IsCategory(c.DefaultCategory) {
		return fmt.Errorf("DEFAULT_CATEGORY %q is not a known category", c.DefaultCategory)
	}
	if c.SearchDebounce <= 0 {
		return fmt.Errorf("SEARCH_DEBOUNCE must be positive")
	}
	if c.APIRateLimit <= 0 || c.APIRateBurst <= 0 {
		return fmt.Errorf("API_RATE_LIMIT and API_RATE_BURST must be positive")
	}
	return nil
}

func withDefault(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func floatEnv(name string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func intEnv(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func resolvePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}

	if cwd, err := os.Getwd(); err == nil {
		return filepath.Clean(filepath.Join(cwd, p))
	}
	return p
}
