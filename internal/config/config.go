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

const envPrefix = "ACCESSMATRIX_"

// Config holds the API settings read from the environment.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	PGDSN      string
	SchemaPath string

	AuthSecret     string
	TokenTTL       time.Duration
	AllowDevTokens bool

	RateBurst       int
	RatePerSec      int
	MaxBodyBytes    int64
	TrustedProxies  []string
	ShutdownTimeout time.Duration
}

// Load reads the configuration. Variables already present in the
// environment win over values from envFiles; missing files are skipped.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:        getEnv("GRPC_ADDR", ":9090"),
		PGDSN:           getEnv("PG_DSN", ""),
		SchemaPath:      getEnv("SCHEMA_PATH", ""),
		AuthSecret:      getEnv("AUTH_SECRET", ""),
		TokenTTL:        getEnvDuration("TOKEN_TTL", 15*time.Minute),
		AllowDevTokens:  getEnvBool("ALLOW_DEV_TOKENS", false),
		RateBurst:       getEnvInt("RATE_BURST", 50),
		RatePerSec:      getEnvInt("RATE_PER_SEC", 25),
		MaxBodyBytes:    int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),
		TrustedProxies:  getEnvList("TRUSTED_PROXIES"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("http address is required")
	}
	if strings.TrimSpace(c.AuthSecret) == "" {
		return errors.New(envPrefix + "AUTH_SECRET is required")
	}
	if c.TokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		return errors.New("rate limit values must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
