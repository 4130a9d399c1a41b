package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
)

// DatabaseKind selects the storage engine.
type DatabaseKind string

const (
	// DatabaseEmbedded is the single-file SQLite engine.
	DatabaseEmbedded DatabaseKind = "embedded"
	// DatabaseServer is the PostgreSQL engine.
	DatabaseServer DatabaseKind = "server"
)

// Database holds storage engine configuration.
type Database struct {
	Kind        DatabaseKind
	URL         string
	PoolMinSize int
	PoolMaxSize int
	// Path of the embedded database file; ignored for the server engine.
	Path string
}

// Server holds HTTP listener configuration.
type Server struct {
	Host string
	Port int
}

// Security holds token signing and admin access configuration.
type Security struct {
	AuthTokenSigningSecret string
	TokenTTL               time.Duration
	AdminTokens            []string
}

// Config is the full runtime configuration, loaded from environment
// variables with the PACFLEET_ prefix (dots become underscores, e.g.
// PACFLEET_DATABASE_KIND, PACFLEET_SECURITY_TOKEN_TTL_HOURS).
type Config struct {
	Database Database
	Server   Server
	Security Security

	HeartbeatOfflineThreshold  time.Duration
	ShutdownGracefulTimeout    time.Duration
	SnapshotsRetainPerEndpoint int
	CORSAllowedOrigins         []string

	LogLevel      string
	LogStructured bool
}

// Load reads configuration from the environment and applies defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PACFLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.kind", string(DatabaseEmbedded))
	v.SetDefault("database.url", "")
	v.SetDefault("database.path", "./pacfleet.db")
	v.SetDefault("database.pool_min_size", 2)
	v.SetDefault("database.pool_max_size", 10)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("security.auth_token_signing_secret", "")
	v.SetDefault("security.token_ttl_hours", 24)
	v.SetDefault("security.admin_tokens", "")
	v.SetDefault("heartbeat.offline_threshold_seconds", 300)
	v.SetDefault("shutdown.graceful_timeout_seconds", 30)
	v.SetDefault("snapshots.retain_per_endpoint", 10)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.structured", false)

	cfg := &Config{
		Database: Database{
			Kind:        DatabaseKind(v.GetString("database.kind")),
			URL:         v.GetString("database.url"),
			Path:        v.GetString("database.path"),
			PoolMinSize: v.GetInt("database.pool_min_size"),
			PoolMaxSize: v.GetInt("database.pool_max_size"),
		},
		Server: Server{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Security: Security{
			AuthTokenSigningSecret: v.GetString("security.auth_token_signing_secret"),
			TokenTTL:               time.Duration(v.GetInt("security.token_ttl_hours")) * time.Hour,
			AdminTokens:            splitList(v.GetString("security.admin_tokens")),
		},
		HeartbeatOfflineThreshold:  time.Duration(v.GetInt("heartbeat.offline_threshold_seconds")) * time.Second,
		ShutdownGracefulTimeout:    time.Duration(v.GetInt("shutdown.graceful_timeout_seconds")) * time.Second,
		SnapshotsRetainPerEndpoint: v.GetInt("snapshots.retain_per_endpoint"),
		CORSAllowedOrigins:         splitList(v.GetString("cors.allowed_origins")),
		LogLevel:                   v.GetString("logging.level"),
		LogStructured:              v.GetBool("logging.structured"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Kind {
	case DatabaseEmbedded, DatabaseServer:
	default:
		return errdefs.Validation.New("database.kind must be %q or %q, got %q",
			DatabaseEmbedded, DatabaseServer, c.Database.Kind)
	}
	if c.Database.Kind == DatabaseServer && c.Database.URL == "" {
		return errdefs.Validation.New("database.url is required for the server engine")
	}
	if c.Database.PoolMinSize < 0 || c.Database.PoolMaxSize < 1 {
		return errdefs.Validation.New("database pool sizes must be positive")
	}
	if c.Database.PoolMinSize > c.Database.PoolMaxSize {
		return errdefs.Validation.New("database.pool_min_size exceeds database.pool_max_size")
	}
	if c.SnapshotsRetainPerEndpoint < 2 {
		// Revert needs the previous snapshot, so two is the floor.
		return errdefs.Validation.New("snapshots.retain_per_endpoint must be at least 2")
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
