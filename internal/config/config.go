package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string          `yaml:"listen_addr"`
	DB         DBConfig        `yaml:"db"`
	Redis      RedisConfig     `yaml:"redis"`
	AMQP       AMQPConfig      `yaml:"amqp"`
	Policy     PolicyConfig    `yaml:"policy"`
	Approvals  ApprovalsConfig `yaml:"approvals"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Custody    CustodyConfig   `yaml:"custody"`
	Evidence   EvidenceConfig  `yaml:"evidence"`
	Rails      []RailConfig    `yaml:"rails"`
	Webhooks   WebhooksConfig  `yaml:"webhooks"`
	Agents     []AgentConfig   `yaml:"agents"`
	Trust      TrustConfig     `yaml:"trust"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type PolicyConfig struct {
	// System ceilings clamp every compiled policy; a policy statement can
	// never authorize beyond them.
	CeilingPerTxCents   int64 `yaml:"ceiling_per_tx_cents"`
	CeilingDailyCents   int64 `yaml:"ceiling_daily_cents"`
	CeilingMonthlyCents int64 `yaml:"ceiling_monthly_cents"`

	// OverridePublicKeyPath verifies signed ceiling-loosening overrides.
	OverridePublicKeyPath string `yaml:"override_public_key_path"`
}

type ApprovalsConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	DefaultQuorum int           `yaml:"default_quorum"`
	Reviewers     []string      `yaml:"reviewers"`
}

type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

type CustodyConfig struct {
	KeyID          string        `yaml:"key_id"`
	PrivateKeyPath string        `yaml:"private_key_path"`
	ProbeURL       string        `yaml:"probe_url"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

type EvidenceConfig struct {
	KeyID          string `yaml:"key_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	CursorSecret   string `yaml:"cursor_secret"`
}

type RailConfig struct {
	Name    string        `yaml:"name"`
	Kind    string        `yaml:"kind"` // http | onchain | stub
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	RPCURL  string        `yaml:"rpc_url"`
	SLA     time.Duration `yaml:"sla"`
}

type WebhooksConfig struct {
	// Secrets maps rail name to the shared HMAC secret.
	Secrets   map[string]string `yaml:"secrets"`
	ReplayTTL time.Duration     `yaml:"replay_ttl"`
}

type AgentConfig struct {
	AgentID string `yaml:"agent_id"`
	Token   string `yaml:"token"`
}

type TrustConfig struct {
	RequireApproval bool `yaml:"require_approval"`
}

func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) applyDefaults() {
	if c.Approvals.TTL <= 0 {
		c.Approvals.TTL = 24 * time.Hour
	}
	if c.Approvals.DefaultQuorum <= 0 {
		c.Approvals.DefaultQuorum = 2
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = 60
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.Custody.ProbeInterval <= 0 {
		c.Custody.ProbeInterval = 15 * time.Second
	}
	if c.Webhooks.ReplayTTL <= 0 {
		c.Webhooks.ReplayTTL = 48 * time.Hour
	}
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.DB.Driver != "" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.driver is set")
	}
	if c.Custody.KeyID == "" || c.Custody.PrivateKeyPath == "" {
		return fmt.Errorf("custody.key_id and custody.private_key_path are required")
	}
	if c.Evidence.KeyID == "" || c.Evidence.PrivateKeyPath == "" {
		return fmt.Errorf("evidence.key_id and evidence.private_key_path are required")
	}
	if c.Evidence.CursorSecret == "" {
		return fmt.Errorf("evidence.cursor_secret is required")
	}
	if len(c.Rails) == 0 {
		return fmt.Errorf("at least one rail is required")
	}
	for _, r := range c.Rails {
		switch r.Kind {
		case "http":
			if r.BaseURL == "" {
				return fmt.Errorf("rail %s: base_url is required for http rails", r.Name)
			}
		case "onchain":
			if r.RPCURL == "" {
				return fmt.Errorf("rail %s: rpc_url is required for onchain rails", r.Name)
			}
		case "stub":
		default:
			return fmt.Errorf("rail %s: unknown kind %q", r.Name, r.Kind)
		}
	}
	for _, a := range c.Agents {
		if a.AgentID == "" || a.Token == "" {
			return fmt.Errorf("agents entries require agent_id and token")
		}
	}
	return nil
}
