// Package config builds the process configuration from the environment once
// at startup. Nothing reads the environment after that; all components take
// the values they need through constructors.
package config

import (
	"fmt"
	"os"
)

// Config holds everything the server needs to run.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// DatabaseDSN is the PostgreSQL connection string.
	DatabaseDSN string
	// JWTSigningKey verifies bearer tokens issued by the platform (HS256).
	JWTSigningKey string
	// TokenPassphrase is the envelope-encryption passphrase for stored
	// OAuth tokens. Never logged, never transmitted.
	TokenPassphrase string
	// GoogleClientID and GoogleClientSecret are the OAuth client
	// credentials used for refresh-token grants.
	GoogleClientID     string
	GoogleClientSecret string
	// FrontendURL, when set, is added to the CORS allow-list.
	FrontendURL string
}

// FromEnv reads configuration from the environment. Missing required values
// are a fatal configuration error: the process cannot serve requests.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Addr:               envDefault("CALSYNC_ADDR", ":8080"),
		DatabaseDSN:        os.Getenv("DATABASE_DSN"),
		JWTSigningKey:      os.Getenv("JWT_SIGNING_KEY"),
		TokenPassphrase:    os.Getenv("TOKEN_PASSPHRASE"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		FrontendURL:        os.Getenv("FRONTEND_URL"),
	}

	required := []struct{ name, val string }{
		{"DATABASE_DSN", cfg.DatabaseDSN},
		{"JWT_SIGNING_KEY", cfg.JWTSigningKey},
		{"TOKEN_PASSPHRASE", cfg.TokenPassphrase},
		{"GOOGLE_CLIENT_ID", cfg.GoogleClientID},
		{"GOOGLE_CLIENT_SECRET", cfg.GoogleClientSecret},
	}
	for _, r := range required {
		if r.val == "" {
			return nil, fmt.Errorf("config: missing %s", r.name)
		}
	}
	return cfg, nil
}

// AllowedOrigins returns the CORS allow-list: local dev origins plus the
// configured frontend, if any.
func (c *Config) AllowedOrigins() []string {
	origins := []string{"http://localhost:5173", "http://localhost:3000"}
	if c.FrontendURL != "" {
		origins = append(origins, c.FrontendURL)
	}
	return origins
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
