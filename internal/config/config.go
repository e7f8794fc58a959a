package config

import (
	"os"
	"strings"
)

type Config struct {
	// Addr is the listen address of the signaling server.
	Addr string

	// JWTSecret signs the bearer tokens issued by the upstream auth service.
	JWTSecret string

	// AllowedOrigin restricts websocket upgrades; "*" allows any origin.
	AllowedOrigin string

	// STUNURLs seed the ICE configuration of client-side peer sessions.
	STUNURLs []string

	LogLevel string
}

func Load() Config {
	return Config{
		Addr:          envOr("SERENE_ADDR", ":8080"),
		JWTSecret:     os.Getenv("SERENE_JWT_SECRET"),
		AllowedOrigin: envOr("SERENE_ALLOWED_ORIGIN", "*"),
		STUNURLs:      splitList(envOr("SERENE_STUN_URLS", "stun:stun.l.google.com:19302")),
		LogLevel:      envOr("SERENE_LOG_LEVEL", "info"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
