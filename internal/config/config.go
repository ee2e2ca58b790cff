// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/tyler-smith/go-bip39"
)

// CredoToolkit is the TOOLS entry that enables the SSI agent toolkit.
const CredoToolkit = "credo"

const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// ErrMissingMnemonic is returned when the credo toolkit is enabled without a
// payer mnemonic.
var ErrMissingMnemonic = errors.New("Missing required environment variables for Credo tools. Please set: CREDO_CHEQD_TESTNET_MNEMONIC")

// ErrInvalidMnemonic is returned when the mnemonic fails BIP-39 validation.
var ErrInvalidMnemonic = errors.New("CREDO_CHEQD_TESTNET_MNEMONIC is not a valid BIP-39 mnemonic")

// Config is populated from environment variables. See the env tags for names
// and defaults.
type Config struct {
	Tools string `env:"TOOLS"`

	Mnemonic      string `env:"CREDO_CHEQD_TESTNET_MNEMONIC"`
	CredoPort     int    `env:"CREDO_PORT,default=3000,strict"`
	CredoName     string `env:"CREDO_NAME,default=credo-agent"`
	CredoEndpoint string `env:"CREDO_ENDPOINT"`

	TrainEndpoint string `env:"TRAIN_ENDPOINT,default=https://dev-train.trust-scheme.de/tcr/v1/"`
	ResolverURL   string `env:"CHEQD_RESOLVER_URL,default=https://resolver.cheqd.net/1.0/identifiers/"`

	Port int `env:"PORT,default=5000,strict"`

	StorageBackend string `env:"STORAGE_BACKEND,default=memory"`
	RedisAddr      string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX,default=cheqd:mcp:"`

	LogLevel      string        `env:"LOG_LEVEL,default=info"`
	InvitationTTL time.Duration `env:"INVITATION_TTL,default=24h,strict"`
}

// Load decodes the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	for _, p := range []*string{
		&c.Tools, &c.Mnemonic, &c.CredoName, &c.CredoEndpoint, &c.TrainEndpoint,
		&c.ResolverURL, &c.StorageBackend, &c.RedisAddr, &c.RedisKeyPrefix, &c.LogLevel,
	} {
		*p = NormalizeEnvVar(*p)
	}
	c.Mnemonic = strings.Join(strings.Fields(c.Mnemonic), " ")
	if c.CredoEndpoint == "" {
		c.CredoEndpoint = "http://localhost:" + strconv.Itoa(c.CredoPort)
	}
	c.StorageBackend = strings.ToLower(c.StorageBackend)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.HasTool(CredoToolkit) {
		if c.Mnemonic == "" {
			return ErrMissingMnemonic
		}
		if !bip39.IsMnemonicValid(c.Mnemonic) {
			return ErrInvalidMnemonic
		}
	}
	switch c.StorageBackend {
	case StorageMemory, StorageRedis:
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q (want %q or %q)", c.StorageBackend, StorageMemory, StorageRedis)
	}
	if c.CredoPort <= 0 || c.CredoPort > 65535 {
		return fmt.Errorf("CREDO_PORT out of range: %d", c.CredoPort)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// ToolList returns the enabled toolkits in declaration order.
func (c *Config) ToolList() []string {
	if c.Tools == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(c.Tools, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// HasTool reports whether the named toolkit is enabled.
func (c *Config) HasTool(name string) bool {
	for _, t := range c.ToolList() {
		if t == name {
			return true
		}
	}
	return false
}

// SlogLevel parses LOG_LEVEL. MCP level names notice, critical, alert and
// emergency are accepted alongside slog's own.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "", "info", "notice":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical", "alert", "emergency":
		return slog.LevelError, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// NormalizeEnvVar strips one pair of matching surrounding quotes.
func NormalizeEnvVar(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
