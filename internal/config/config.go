package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting of the admin console.
type Config struct {
	Server     ServerConfig
	API        APIConfig
	Session    SessionConfig
	Discussion DiscussionConfig
	RateLimit  RateLimitConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	api, err := loadAPIConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	discussion, err := loadDiscussionConfig()
	if err != nil {
		return nil, err
	}

	rateLimit, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		API:        api,
		Session:    session,
		Discussion: discussion,
		RateLimit:  rateLimit,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// DefaultHost keeps the admin backend on loopback unless HOST says otherwise.
const DefaultHost = "127.0.0.1"

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}
	host := getEnvOrDefault("HOST", DefaultHost)

	origins := splitList(os.Getenv("ALLOWED_ORIGINS"))
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:5174"}
	}

	if strings.Contains(port, ":") {
		// ":8080" and "127.0.0.1:8080" are accepted as-is.
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}
	if strings.ContainsAny(host, " /") {
		return ServerConfig{}, fmt.Errorf("invalid HOST value: %q", host)
	}

	return ServerConfig{Addr: net.JoinHostPort(host, port), AllowedOrigins: origins}, nil
}

// APIConfig points at the remote LMS REST API.
type APIConfig struct {
	BaseURL        string
	ChatBaseURL    string
	RequestTimeout time.Duration
}

// DefaultAPIBaseURL is the hosted LMS backend.
const DefaultAPIBaseURL = "https://nddb-lms.onrender.com"

func loadAPIConfig() (APIConfig, error) {
	timeout, err := parseDurationEnv("REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		return APIConfig{}, err
	}
	if timeout <= 0 {
		return APIConfig{}, fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", timeout)
	}

	base := strings.TrimRight(getEnvOrDefault("API_BASE_URL", DefaultAPIBaseURL), "/")
	chat := strings.TrimRight(getEnvOrDefault("CHAT_API_BASE_URL", base+"/api"), "/")

	return APIConfig{
		BaseURL:        base,
		ChatBaseURL:    chat,
		RequestTimeout: timeout,
	}, nil
}

// StoreBackend selects where the session is persisted.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreFile   StoreBackend = "file"
	StoreRedis  StoreBackend = "redis"
)

// SessionConfig describes session persistence.
type SessionConfig struct {
	Backend StoreBackend
	File    string
	TTL     time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
}

func loadSessionConfig() (SessionConfig, error) {
	backend := StoreBackend(strings.ToLower(getEnvOrDefault("SESSION_STORE", string(StoreFile))))
	switch backend {
	case StoreMemory, StoreFile, StoreRedis:
	default:
		return SessionConfig{}, fmt.Errorf("invalid SESSION_STORE value %q", backend)
	}

	ttl, err := parseDurationEnv("SESSION_TTL", 0)
	if err != nil {
		return SessionConfig{}, err
	}

	redisDB := 0
	if db, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return SessionConfig{}, err
	} else if db != nil {
		redisDB = *db
	}

	return SessionConfig{
		Backend:        backend,
		File:           getEnvOrDefault("SESSION_FILE", ".lms-admin-session.json"),
		TTL:            ttl,
		RedisAddr:      getEnvOrDefault("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        redisDB,
		RedisKeyPrefix: getEnvOrDefault("REDIS_KEY_PREFIX", "lms-admin:session:"),
	}, nil
}

// DiscussionConfig tunes the course discussion pollers.
type DiscussionConfig struct {
	PollInterval       time.Duration
	ReconcileDelay     time.Duration
	NotificationsChime bool
}

func loadDiscussionConfig() (DiscussionConfig, error) {
	interval, err := parseDurationEnv("POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return DiscussionConfig{}, err
	}
	if interval <= 0 {
		return DiscussionConfig{}, fmt.Errorf("POLL_INTERVAL must be positive, got %s", interval)
	}

	delay, err := parseDurationEnv("SEND_RECONCILE_DELAY", 500*time.Millisecond)
	if err != nil {
		return DiscussionConfig{}, err
	}

	chime, err := parseBoolEnv("DISCUSSION_CHIME", true)
	if err != nil {
		return DiscussionConfig{}, err
	}

	return DiscussionConfig{
		PollInterval:       interval,
		ReconcileDelay:     delay,
		NotificationsChime: chime,
	}, nil
}

// RateLimitConfig throttles login and registration attempts.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	cfg := RateLimitConfig{PerMinute: 10, Burst: 3}

	if rpm, err := parseOptionalIntEnv("LOGIN_RATE_LIMIT_RPM"); err != nil {
		return RateLimitConfig{}, err
	} else if rpm != nil && *rpm > 0 {
		cfg.PerMinute = *rpm
	}

	if burst, err := parseOptionalIntEnv("LOGIN_RATE_BURST"); err != nil {
		return RateLimitConfig{}, err
	} else if burst != nil && *burst > 0 {
		cfg.Burst = *burst
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv accepts a Go duration in KEY or whole seconds in KEY_SECONDS.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		val, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
		}
		return val, nil
	}

	seconds, err := parseOptionalIntEnv(key + "_SECONDS")
	if err != nil {
		return 0, err
	}
	if seconds != nil {
		return time.Duration(*seconds) * time.Second, nil
	}
	return defaultValue, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
