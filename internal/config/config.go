package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	UsersFile          string
	RecordsFile        string
	Argon2MemoryKiB    uint32
	Port               string
	CORSAllowedOrigins []string
	RateLimit          string
	LogFormat          string
	LogLevel           string
	MetricsNamespace   string
	MetricsTextfile    string
	TracingEnabled     bool
	OTLPEndpoint       string
	TracingSampling    float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		UsersFile:          valueOrDefault(k.String("TAX_USERS_FILE"), "users.csv"),
		RecordsFile:        valueOrDefault(k.String("TAX_RECORDS_FILE"), "tax_records.csv"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		RateLimit:          valueOrDefault(k.String("RATE_LIMIT"), "60-M"),
		LogFormat:          valueOrDefault(k.String("OBS_LOG_FORMAT"), "console"),
		LogLevel:           valueOrDefault(k.String("OBS_LOG_LEVEL"), "warn"),
		MetricsNamespace:   valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "taxinput"),
		MetricsTextfile:    strings.TrimSpace(k.String("OBS_METRICS_TEXTFILE")),
		TracingEnabled:     parseBool(k.String("OBS_ENABLE_TRACING")),
		OTLPEndpoint:       strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
	}

	memory, err := parseUint32(k.String("TAX_ARGON2_MEMORY_KIB"), 64*1024)
	if err != nil {
		return nil, fmt.Errorf("TAX_ARGON2_MEMORY_KIB: %w", err)
	}
	if memory < 8 {
		return nil, errors.New("TAX_ARGON2_MEMORY_KIB must be at least 8")
	}
	cfg.Argon2MemoryKiB = memory

	ratio, err := parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0)
	if err != nil {
		return nil, fmt.Errorf("OBS_TRACING_SAMPLING_RATIO: %w", err)
	}
	cfg.TracingSampling = ratio

	if strings.TrimSpace(cfg.UsersFile) == strings.TrimSpace(cfg.RecordsFile) {
		return nil, errors.New("TAX_USERS_FILE and TAX_RECORDS_FILE must differ")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseUint32(value string, fallback uint32) (uint32, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(parsed), nil
}

func parseFloat(value string, fallback float64) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(value, 64)
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
