package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cover storage backends.
const (
	CoverStorageDisk   = "disk"
	CoverStorageGridFS = "gridfs"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Security SecurityConfig
	CORS     CORSConfig
	Logging  LoggingConfig
	Uploads  UploadConfig

	// SeedDemo inserts the demo user, albums and reviews on start.
	SeedDemo bool
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string
	Port int
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// SecurityConfig holds token settings.
type SecurityConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// UploadConfig controls where cover images go.
type UploadConfig struct {
	Storage  string // disk, gridfs
	Dir      string
	MaxBytes int64
	MongoURI string
	MongoDB  string
}

const defaultMaxUploadBytes = 10 << 20

// LoadEnvFiles reads KEY=VALUE files into the environment. Variables already
// set win, and missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables and validates it.
// Every problem found is reported in the returned error.
func Load() (*Config, error) {
	cfg := &Config{}
	var problems []string

	problems = append(problems, cfg.loadDatabase()...)
	problems = append(problems, cfg.loadServer()...)
	problems = append(problems, cfg.loadSecurity()...)
	cfg.loadCORS()
	cfg.loadLogging()
	problems = append(problems, cfg.loadUploads()...)

	seed, err := parseBool("SEED_DEMO", false)
	if err != nil {
		problems = append(problems, err.Error())
	}
	cfg.SeedDemo = seed

	problems = append(problems, cfg.validate()...)

	if len(problems) > 0 {
		return nil, fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return cfg, nil
}

func (c *Config) loadDatabase() []string {
	c.Database.URL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if c.Database.URL != "" {
		return nil
	}

	c.Database.Host = getEnvOrDefault("DB_HOST", "localhost")
	c.Database.User = os.Getenv("DB_USER")
	c.Database.Password = os.Getenv("DB_PASSWORD")
	c.Database.Name = os.Getenv("DB_NAME")
	c.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return []string{"DB_PORT must be a number"}
	}
	c.Database.Port = port

	if c.Database.User != "" && c.Database.Name != "" {
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.Database.User, c.Database.Password),
			Host:     net.JoinHostPort(c.Database.Host, strconv.Itoa(port)),
			Path:     "/" + c.Database.Name,
			RawQuery: url.Values{"sslmode": {c.Database.SSLMode}}.Encode(),
		}
		c.Database.URL = u.String()
	}
	return nil
}

func (c *Config) loadServer() []string {
	c.Server.Host = getEnvOrDefault("HOST", "0.0.0.0")

	port, err := strconv.Atoi(getEnvOrDefault("PORT", "8080"))
	if err != nil {
		return []string{"PORT must be a number"}
	}
	c.Server.Port = port
	return nil
}

func (c *Config) loadSecurity() []string {
	c.Security.JWTSecret = os.Getenv("JWT_SECRET")

	ttl, err := time.ParseDuration(getEnvOrDefault("TOKEN_TTL", "24h"))
	if err != nil {
		return []string{"TOKEN_TTL must be a duration such as 24h"}
	}
	if ttl <= 0 {
		return []string{"TOKEN_TTL must be positive"}
	}
	c.Security.TokenTTL = ttl
	return nil
}

func (c *Config) loadCORS() {
	raw := getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173,http://localhost:8080")
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			c.CORS.AllowedOrigins = append(c.CORS.AllowedOrigins, origin)
		}
	}
}

func (c *Config) loadLogging() {
	c.Logging.Level = strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))
	c.Logging.Format = strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json"))
}

func (c *Config) loadUploads() []string {
	c.Uploads.Storage = strings.ToLower(getEnvOrDefault("COVER_STORAGE", CoverStorageDisk))
	c.Uploads.Dir = getEnvOrDefault("UPLOAD_DIR", "uploads")
	c.Uploads.MongoURI = os.Getenv("MONGO_URI")
	c.Uploads.MongoDB = getEnvOrDefault("MONGO_DB", "albumreviews")

	c.Uploads.MaxBytes = defaultMaxUploadBytes
	if raw := os.Getenv("MAX_UPLOAD_BYTES"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return []string{"MAX_UPLOAD_BYTES must be a number"}
		}
		c.Uploads.MaxBytes = n
	}
	return nil
}

func (c *Config) validate() []string {
	var problems []string

	if c.Database.URL == "" {
		problems = append(problems, "DATABASE_URL is required (or DB_USER and DB_NAME)")
	}

	if c.Security.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	} else if len(c.Security.JWTSecret) < 16 {
		problems = append(problems, "JWT_SECRET must be at least 16 characters")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, "PORT must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		problems = append(problems, "LOG_LEVEL must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		problems = append(problems, "LOG_FORMAT must be one of: json, text")
	}

	switch c.Uploads.Storage {
	case CoverStorageDisk:
		if c.Uploads.Dir == "" {
			problems = append(problems, "UPLOAD_DIR must not be empty")
		}
	case CoverStorageGridFS:
		if c.Uploads.MongoURI == "" {
			problems = append(problems, "MONGO_URI is required when COVER_STORAGE=gridfs")
		}
	default:
		problems = append(problems, "COVER_STORAGE must be one of: disk, gridfs")
	}
	if c.Uploads.MaxBytes <= 0 {
		problems = append(problems, "MAX_UPLOAD_BYTES must be positive")
	}

	return problems
}

func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s must be true or false", key)
	}
	return v, nil
}
