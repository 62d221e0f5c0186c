// Package config loads broker settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Settings holds everything the broker process needs at startup. Defaults
// suit local development; production deployments set the secrets explicitly.
type Settings struct {
	Host string `env:"HOST,default=0.0.0.0"`
	Port int    `env:"PORT,default=8000"`

	// Connection registry tuning.
	MaxConnectionsPerTenant int           `env:"MAX_CONNECTIONS_PER_TENANT,default=10"`
	ConnectionTimeout       time.Duration `env:"CONNECTION_TIMEOUT,default=60m"`
	KeepAliveInterval       time.Duration `env:"KEEPALIVE_INTERVAL,default=30s"`

	// Credential store backend: memory, sqlite, redis or file.
	CredentialStore string `env:"CREDENTIAL_STORE,default=sqlite"`
	SQLitePath      string `env:"SQLITE_PATH,default=./broker.db"`
	RedisAddr       string `env:"REDIS_ADDR,default=localhost:6379"`
	CredentialFile  string `env:"CREDENTIAL_FILE,default=./credentials.yaml"`

	// EncryptionKey is the base64 Fernet key guarding stored API keys.
	// Required for the sqlite and redis backends.
	EncryptionKey string `env:"ENCRYPTION_KEY,default="`

	// JWTSecret guards the admin surface; leaving it empty disables admin
	// routes entirely.
	JWTSecret string `env:"JWT_SECRET,default="`

	CORSOrigins string `env:"CORS_ORIGINS,default=*"`

	// Downstream Quendoo endpoints.
	QuendooBaseURL           string `env:"QUENDOO_API_BASE_URL,default="`
	QuendooAutomationBaseURL string `env:"QUENDOO_AUTOMATION_BASE_URL,default="`
	QuendooAutomationBearer  string `env:"QUENDOO_AUTOMATION_BEARER,default="`
	EmailAPIKey              string `env:"EMAIL_API_KEY,default="`

	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load populates Settings from the environment.
func Load() (Settings, error) {
	var s Settings
	if err := envdecode.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("decode environment: %w", err)
	}
	switch s.CredentialStore {
	case "memory", "sqlite", "redis", "file":
	default:
		return Settings{}, fmt.Errorf("unknown CREDENTIAL_STORE %q (expected memory, sqlite, redis or file)", s.CredentialStore)
	}
	return s, nil
}

// ListenAddr returns the host:port pair the HTTP server binds.
func (s Settings) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CORSOriginList splits the comma-separated CORS_ORIGINS value.
func (s Settings) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
