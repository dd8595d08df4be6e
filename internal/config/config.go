package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Vault     VaultConfig     `yaml:"vault"`
	Providers ProvidersConfig `yaml:"providers"`
	Redis     RedisConfig     `yaml:"redis"`
	Sync      SyncConfig      `yaml:"sync"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
	// PublicURL is the externally reachable base URL. It is used to build
	// OAuth redirect URIs and webhook callback URLs, so it must match what
	// the git providers can reach.
	PublicURL string `yaml:"public_url"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

// VaultConfig holds the key for encrypting stored provider credentials.
// Key is either 64 hex characters (a raw 32-byte key) or an arbitrary
// passphrase that gets key-derived.
type VaultConfig struct {
	Key string `yaml:"key"`
}

// ProviderConfig holds the OAuth application credentials for one git provider.
// BaseURL overrides the provider's public endpoint for self-hosted instances
// (GitHub Enterprise, self-managed GitLab).
type ProviderConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"`
}

type ProvidersConfig struct {
	GitHub    ProviderConfig `yaml:"github"`
	GitLab    ProviderConfig `yaml:"gitlab"`
	Bitbucket ProviderConfig `yaml:"bitbucket"`
}

// RedisConfig for optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SyncConfig tunes the issue synchronization engine.
type SyncConfig struct {
	// PageTimeoutSeconds bounds a single issues-page fetch against a provider.
	PageTimeoutSeconds int `yaml:"page_timeout_seconds"`
	// OAuthTimeoutSeconds bounds token exchange and webhook registration calls.
	OAuthTimeoutSeconds int `yaml:"oauth_timeout_seconds"`
	// StateTTLMinutes is how long an OAuth state token stays valid.
	StateTTLMinutes int `yaml:"state_ttl_minutes"`
	// Schedule is a cron expression for the background refresh of stale
	// connections. Empty disables the scheduler.
	Schedule string `yaml:"schedule"`
	// StaleAfterHours marks a connection as due for a scheduled refresh when
	// its last successful sync is older than this.
	StaleAfterHours int `yaml:"stale_after_hours"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		cfg = DefaultConfig()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.overrideFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      "8080",
			Mode:      "debug",
			PublicURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "trackflow.db",
		},
		JWT: JWTConfig{
			Secret:     "trackflow-secret-key-change-in-production",
			ExpireHour: 24,
		},
		Vault: VaultConfig{
			Key: "trackflow-vault-key-change-in-production",
		},
		Providers: ProvidersConfig{
			GitHub:    ProviderConfig{BaseURL: "https://github.com"},
			GitLab:    ProviderConfig{BaseURL: "https://gitlab.com"},
			Bitbucket: ProviderConfig{BaseURL: "https://bitbucket.org"},
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Sync: SyncConfig{
			PageTimeoutSeconds:  60,
			OAuthTimeoutSeconds: 10,
			StateTTLMinutes:     15,
			Schedule:            "",
			StaleAfterHours:     24,
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if publicURL := os.Getenv("PUBLIC_URL"); publicURL != "" {
		c.Server.PublicURL = publicURL
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if key := os.Getenv("VAULT_KEY"); key != "" {
		c.Vault.Key = key
	}

	overrideProviderFromEnv(&c.Providers.GitHub, "GITHUB")
	overrideProviderFromEnv(&c.Providers.GitLab, "GITLAB")
	overrideProviderFromEnv(&c.Providers.Bitbucket, "BITBUCKET")

	if schedule := os.Getenv("SYNC_SCHEDULE"); schedule != "" {
		c.Sync.Schedule = schedule
	}

	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

func overrideProviderFromEnv(p *ProviderConfig, prefix string) {
	if id := os.Getenv(prefix + "_CLIENT_ID"); id != "" {
		p.ClientID = id
	}
	if secret := os.Getenv(prefix + "_CLIENT_SECRET"); secret != "" {
		p.ClientSecret = secret
	}
	if baseURL := os.Getenv(prefix + "_BASE_URL"); baseURL != "" {
		p.BaseURL = baseURL
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Server.PublicURL == "" {
		return fmt.Errorf("server.public_url is required")
	}
	c.Server.PublicURL = strings.TrimSuffix(c.Server.PublicURL, "/")
	if c.Sync.PageTimeoutSeconds <= 0 {
		c.Sync.PageTimeoutSeconds = 60
	}
	if c.Sync.OAuthTimeoutSeconds <= 0 {
		c.Sync.OAuthTimeoutSeconds = 10
	}
	if c.Sync.StateTTLMinutes <= 0 {
		c.Sync.StateTTLMinutes = 15
	}
	if c.Sync.StaleAfterHours <= 0 {
		c.Sync.StaleAfterHours = 24
	}
	return nil
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	// Remove redis:// prefix
	url := strings.TrimPrefix(redisURL, "redis://")

	// Extract password if present
	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	// Extract db number if present
	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	// Remaining is host:port
	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
