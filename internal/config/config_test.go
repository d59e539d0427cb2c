package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outlay.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadExpandsEnvAndAppliesDefaults(t *testing.T) {
	os.Setenv("CUSTODY_KEY_PATH", "/keys/custody.pem")
	defer os.Unsetenv("CUSTODY_KEY_PATH")

	path := writeConfig(t, `
listen_addr: ":8080"
db:
  driver: sqlite
  dsn: "file:outlay.db"
custody:
  key_id: custody-1
  private_key_path: "${CUSTODY_KEY_PATH}"
evidence:
  key_id: evidence-1
  private_key_path: /keys/evidence.pem
  cursor_secret: s3cret
rails:
  - name: card
    kind: http
    base_url: https://card.example.com
    token: tok
  - name: treasury
    kind: onchain
    rpc_url: https://rpc.example.com
agents:
  - agent_id: agent-1
    token: tok-1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Custody.PrivateKeyPath != "/keys/custody.pem" {
		t.Fatalf("env expansion: %q", cfg.Custody.PrivateKeyPath)
	}
	if cfg.Approvals.TTL != 24*time.Hour || cfg.Approvals.DefaultQuorum != 2 {
		t.Fatalf("approval defaults: %+v", cfg.Approvals)
	}
	if cfg.RateLimit.Limit != 60 || cfg.RateLimit.Window != time.Minute {
		t.Fatalf("rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Webhooks.ReplayTTL != 48*time.Hour {
		t.Fatalf("replay ttl default: %v", cfg.Webhooks.ReplayTTL)
	}
	if len(cfg.Rails) != 2 || cfg.Rails[1].Kind != "onchain" {
		t.Fatalf("rails: %+v", cfg.Rails)
	}
}

func TestValidateErrors(t *testing.T) {
	base := func() Config {
		return Config{
			ListenAddr: ":8080",
			Custody:    CustodyConfig{KeyID: "k", PrivateKeyPath: "/k.pem"},
			Evidence:   EvidenceConfig{KeyID: "e", PrivateKeyPath: "/e.pem", CursorSecret: "s"},
			Rails:      []RailConfig{{Name: "card", Kind: "stub"}},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"driver without dsn", func(c *Config) { c.DB.Driver = "postgres" }},
		{"missing custody key", func(c *Config) { c.Custody.KeyID = "" }},
		{"missing evidence key", func(c *Config) { c.Evidence.PrivateKeyPath = "" }},
		{"missing cursor secret", func(c *Config) { c.Evidence.CursorSecret = "" }},
		{"no rails", func(c *Config) { c.Rails = nil }},
		{"http rail without base url", func(c *Config) { c.Rails = []RailConfig{{Name: "card", Kind: "http"}} }},
		{"onchain rail without rpc url", func(c *Config) { c.Rails = []RailConfig{{Name: "eth", Kind: "onchain"}} }},
		{"unknown rail kind", func(c *Config) { c.Rails = []RailConfig{{Name: "x", Kind: "carrier-pigeon"}} }},
		{"agent without token", func(c *Config) { c.Agents = []AgentConfig{{AgentID: "a"}} }},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
