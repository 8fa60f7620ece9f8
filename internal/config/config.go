package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

type Config struct {
	ServerAddr  string
	DatabaseURL string
	APIVersion  string
	LogLevel    string

	// Token signing
	SecretKey          string
	SecretGenerated    bool
	Algorithm          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	BcryptCost         int
	CookieSecure       bool

	// Rate limiting on auth endpoints
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitBackend  string
	RedisAddr         string
	TrustProxyHeaders bool

	CORSAllowedOrigins []string
	FeedInterval       time.Duration
}

func Load() *Config {
	accessMinutes := getIntOrDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 15)
	refreshDays := getIntOrDefault("REFRESH_TOKEN_EXPIRE_DAYS", getIntOrDefault("ACCESS_TOKEN_EXPIRE_DAYS", 7))

	secret := os.Getenv("SECRET_KEY")
	generated := false
	if secret == "" {
		secret = generateDefaultSecret()
		generated = true
	}

	return &Config{
		ServerAddr:         getEnvOrDefault("SERVER_ADDR", ":8080"),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", "postgres://localhost:5432/books?sslmode=disable"),
		APIVersion:         strings.Trim(getEnvOrDefault("API_VERSION", "v1"), "/"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		SecretKey:          secret,
		SecretGenerated:    generated,
		Algorithm:          getEnvOrDefault("ALGORITHM", "HS256"),
		AccessTokenExpiry:  time.Duration(accessMinutes) * time.Minute,
		RefreshTokenExpiry: time.Duration(refreshDays) * 24 * time.Hour,
		BcryptCost:         getIntOrDefault("BCRYPT_COST", bcrypt.DefaultCost),
		CookieSecure:       getBoolOrDefault("COOKIE_SECURE", true),
		RateLimitRequests:  getIntOrDefault("RATE_LIMIT_REQUESTS", 5),
		RateLimitWindow:    getDurationOrDefault("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitBackend:   getEnvOrDefault("RATE_LIMIT_BACKEND", RateLimitBackendMemory),
		RedisAddr:          getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		TrustProxyHeaders:  getBoolOrDefault("TRUST_PROXY_HEADERS", false),
		CORSAllowedOrigins: splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		FeedInterval:       getDurationOrDefault("FEED_INTERVAL", 5*time.Second),
	}
}

// Validate reports the first setting that would leave the server unusable.
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return errors.New("SECRET_KEY must not be empty")
	}
	switch c.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported ALGORITHM %q", c.Algorithm)
	}
	if c.AccessTokenExpiry <= 0 {
		return errors.New("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	if c.RefreshTokenExpiry <= 0 {
		return errors.New("REFRESH_TOKEN_EXPIRE_DAYS must be positive")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("rate limit requests and window must be positive")
	}
	switch c.RateLimitBackend {
	case RateLimitBackendMemory, RateLimitBackendRedis:
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}
	if c.FeedInterval <= 0 {
		return errors.New("FEED_INTERVAL must be positive")
	}
	return nil
}

// RoutePrefix is the path every API route is mounted under, e.g. "/v1".
func (c *Config) RoutePrefix() string {
	if c.APIVersion == "" {
		return ""
	}
	return "/" + c.APIVersion
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func generateDefaultSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "dev-secret-change-in-production"
	}
	return hex.EncodeToString(bytes)
}
