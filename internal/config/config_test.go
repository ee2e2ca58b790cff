package config

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TOOLS", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CredoPort != 3000 || cfg.Port != 5000 {
		t.Fatalf("ports = %d/%d", cfg.CredoPort, cfg.Port)
	}
	if cfg.CredoName != "credo-agent" {
		t.Fatalf("CredoName = %q", cfg.CredoName)
	}
	if cfg.CredoEndpoint != "http://localhost:3000" {
		t.Fatalf("CredoEndpoint = %q", cfg.CredoEndpoint)
	}
	if cfg.StorageBackend != StorageMemory {
		t.Fatalf("StorageBackend = %q", cfg.StorageBackend)
	}
	if cfg.InvitationTTL != 24*time.Hour {
		t.Fatalf("InvitationTTL = %v", cfg.InvitationTTL)
	}
	if cfg.HasTool(CredoToolkit) {
		t.Fatal("credo enabled by default")
	}
}

func TestCredoRequiresMnemonic(t *testing.T) {
	t.Setenv("TOOLS", "credo")
	t.Setenv("CREDO_CHEQD_TESTNET_MNEMONIC", "")
	_, err := Load()
	if !errors.Is(err, ErrMissingMnemonic) {
		t.Fatalf("Load() = %v, want ErrMissingMnemonic", err)
	}
	if err.Error() != "Missing required environment variables for Credo tools. Please set: CREDO_CHEQD_TESTNET_MNEMONIC" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestCredoRejectsInvalidMnemonic(t *testing.T) {
	t.Setenv("TOOLS", "credo")
	t.Setenv("CREDO_CHEQD_TESTNET_MNEMONIC", "not a real phrase")
	if _, err := Load(); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("Load() = %v, want ErrInvalidMnemonic", err)
	}
}

func TestQuotedValues(t *testing.T) {
	t.Setenv("TOOLS", `"credo, other"`)
	t.Setenv("CREDO_CHEQD_TESTNET_MNEMONIC", "'"+testMnemonic+"'")
	t.Setenv("CREDO_NAME", `"faber"`)
	t.Setenv("CREDO_ENDPOINT", `'https://agent.example.org'`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Mnemonic != testMnemonic {
		t.Fatalf("Mnemonic = %q", cfg.Mnemonic)
	}
	if cfg.CredoName != "faber" || cfg.CredoEndpoint != "https://agent.example.org" {
		t.Fatalf("name/endpoint = %q/%q", cfg.CredoName, cfg.CredoEndpoint)
	}
	got := cfg.ToolList()
	if len(got) != 2 || got[0] != "credo" || got[1] != "other" {
		t.Fatalf("ToolList() = %v", got)
	}
}

func TestInvalidValues(t *testing.T) {
	cases := map[string]string{
		"STORAGE_BACKEND": "etcd",
		"LOG_LEVEL":       "loud",
		"PORT":            "70000",
		"CREDO_PORT":      "abc",
		"INVITATION_TTL":  "soon",
	}
	for env, val := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%s succeeded", env, val)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"notice":  slog.LevelInfo,
		"WARNING": slog.LevelWarn,
		"alert":   slog.LevelError,
		"INFO+2":  slog.LevelInfo + 2,
	}
	for in, want := range cases {
		c := &Config{LogLevel: in}
		got, err := c.SlogLevel()
		if err != nil || got != want {
			t.Fatalf("SlogLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}

func TestNormalizeEnvVar(t *testing.T) {
	cases := map[string]string{
		`"a"`:   "a",
		`'b'`:   "b",
		`"c'`:   `"c'`,
		`"`:     `"`,
		``:      ``,
		`""x""`: `"x"`,
	}
	for in, want := range cases {
		if got := NormalizeEnvVar(in); got != want {
			t.Fatalf("NormalizeEnvVar(%q) = %q, want %q", in, got, want)
		}
	}
}
