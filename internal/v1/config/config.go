// Package config validates the environment variables the matchmaking
// broker needs at startup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	Port string

	// Redis / distributed mode. Absent REDIS_URL means single-node: no
	// cross-replica tick lease, no Redis-backed fan-out.
	RedisURL     string
	RedisEnabled bool

	// Admin shared secret for the handshake's server-admin escape hatch.
	MatchmakingServerKey string

	// Auth0 / JWT validation.
	Auth0Domain     string
	Auth0Audience   string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	// Transport.
	SocketIOPath string

	// TURN credential minting; each channel mints independently and falls
	// back to STUN-only when its URL/secret pair is absent.
	GameTURNURL     string
	GameTURNSecret  string
	VideoTURNURL    string
	VideoTURNSecret string

	// Firebase-backed profile/stats service, consumed opaquely.
	FirebaseProjectID string

	// Ambient.
	GoEnv             string
	LogLevel          string
	OtelCollectorAddr string

	// Rate limits.
	RateLimitWsIP      string
	RateLimitWsUser    string
	RateLimitJoinQueue string
	RateLimitAPIGlobal string
}

// ValidateEnv validates all required environment variables and returns a
// Config object. It accumulates every validation error before returning so
// a misconfigured deploy reports everything wrong in one pass, rather than
// failing fast on the first bad variable.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.RedisEnabled = cfg.RedisURL != ""
	if !cfg.RedisEnabled {
		slog.Warn("REDIS_URL not set, running single-node (no cross-replica lease, no fan-out)")
	}

	cfg.MatchmakingServerKey = os.Getenv("MATCHMAKING_SERVER_KEY")
	if cfg.MatchmakingServerKey == "" {
		errs = append(errs, "MATCHMAKING_SERVER_KEY is required")
	}

	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.SocketIOPath = getEnvOrDefault("SOCKET_IO_PATH", "/socket.io")

	cfg.GameTURNURL = os.Getenv("GAME_TURN_URL")
	cfg.GameTURNSecret = os.Getenv("GAME_TURN_SECRET")
	cfg.VideoTURNURL = os.Getenv("VIDEO_TURN_URL")
	cfg.VideoTURNSecret = os.Getenv("VIDEO_TURN_SECRET")
	if (cfg.GameTURNURL == "") != (cfg.GameTURNSecret == "") {
		errs = append(errs, "GAME_TURN_URL and GAME_TURN_SECRET must be set together")
	}
	if (cfg.VideoTURNURL == "") != (cfg.VideoTURNSecret == "") {
		errs = append(errs, "VIDEO_TURN_URL and VIDEO_TURN_SECRET must be set together")
	}

	cfg.FirebaseProjectID = os.Getenv("FIREBASE_PROJECT_ID")

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")
	cfg.RateLimitJoinQueue = getEnvOrDefault("RATE_LIMIT_JOIN_QUEUE", "6-M")
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated")
	slog.Info("configuration",
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"socket_io_path", cfg.SocketIOPath,
		"game_turn_configured", cfg.GameTURNURL != "",
		"video_turn_configured", cfg.VideoTURNURL != "",
		"matchmaking_server_key", redactSecret(cfg.MatchmakingServerKey),
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret shows only the first 8 characters of a secret.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
