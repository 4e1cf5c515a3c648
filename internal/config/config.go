package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          string `envconfig:"POS_PORT" default:"8080"`
	AllowedOrigin string `envconfig:"POS_ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	DatabaseURL   string `envconfig:"POS_DATABASE_URL"`
	RunMigrations bool   `envconfig:"POS_RUN_MIGRATIONS" default:"true"`

	RedisAddr     string `envconfig:"POS_REDIS_ADDR"`
	RedisPassword string `envconfig:"POS_REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"POS_REDIS_DB" default:"0"`

	// PromosFile is the YAML rule set read on every quote and commit.
	PromosFile string `envconfig:"POS_PROMOS_FILE" default:"config/promos.yaml"`
	// PacksFile holds the pack conversion rules. A missing file means none.
	PacksFile string `envconfig:"POS_PACKS_FILE" default:"config/packs.yaml"`
	// PromoCacheTTL > 0 caches the parsed rule set (in redis when configured).
	PromoCacheTTL time.Duration `envconfig:"POS_PROMO_CACHE_TTL" default:"0s"`

	AuthSecret     string        `envconfig:"POS_AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"POS_ACCESS_TOKEN_TTL" default:"8h"`

	// Timezone decides which calendar day a sale belongs to in reports.
	Timezone string `envconfig:"POS_TIMEZONE" default:"America/Mexico_City"`

	LogLevel  string `envconfig:"POS_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"POS_LOG_FORMAT" default:"json"`
}

// Load reads an optional dotenv file and then the process environment.
// Variables already set in the environment win over the file.
func Load(dotenvPaths ...string) (Config, error) {
	if err := loadDotEnv(dotenvPaths...); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 8 * time.Hour
	}
	if cfg.PromoCacheTTL < 0 {
		cfg.PromoCacheTTL = 0
	}
	return cfg, nil
}

func loadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location resolves Timezone, falling back to UTC when the zone database
// does not know it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil || strings.TrimSpace(c.Timezone) == "" {
		return time.UTC
	}
	return loc
}

// ValidateSecurity rejects configurations that would sign tokens with a
// weak secret.
func (c Config) ValidateSecurity() error {
	if len(c.AuthSecret) < 32 {
		return fmt.Errorf("POS_AUTH_SECRET must be set and at least 32 characters")
	}
	if c.AccessTokenTTL > 24*time.Hour {
		return fmt.Errorf("POS_ACCESS_TOKEN_TTL must not exceed 24h")
	}
	return nil
}
