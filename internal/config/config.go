package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures runtime settings for the identity verification service.
// Secret material (CA passphrase, token signing key) is referenced through
// ${ENV} expansion so the yaml file itself can be committed.
type Config struct {
	Server struct {
		Listen                 string `yaml:"listen"`
		ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
		ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	} `yaml:"server"`

	Storage struct {
		PostgresDSN string `yaml:"postgres_dsn"`
		MaxConns    int32  `yaml:"max_conns"`
		MinConns    int32  `yaml:"min_conns"`
	} `yaml:"storage"`

	CA struct {
		CertsDir            string `yaml:"certs_dir"`
		CACertPath          string `yaml:"ca_cert_path"`
		CAKeyPath           string `yaml:"ca_key_path"`
		KeyPassphrase       string `yaml:"key_passphrase"`
		CertDays            int    `yaml:"cert_days"`
		StageTimeoutSeconds int    `yaml:"stage_timeout_seconds"`
	} `yaml:"ca"`

	Auth struct {
		TokenSigningKey        string `yaml:"token_signing_key"`
		IntermediateTTLMinutes int    `yaml:"intermediate_ttl_minutes"`
		SessionTTLMinutes      int    `yaml:"session_ttl_minutes"`
		TOTPIssuer             string `yaml:"totp_issuer"`
	} `yaml:"auth"`

	Import struct {
		MaxConcurrency int `yaml:"max_concurrency"`
	} `yaml:"import"`

	Security struct {
		EnforceSecureTLS *bool `yaml:"enforce_secure_transport"`
	} `yaml:"security"`

	Logging struct {
		Service string `yaml:"service"`
		Version string `yaml:"version"`
		Commit  string `yaml:"commit"`
		Region  string `yaml:"region"`
	} `yaml:"logging"`
}

// Load reads and validates config from disk.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.CA.CertsDir, 0o700); err != nil {
		return nil, fmt.Errorf("create certs directory: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 10
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 20
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 15
	}
	if c.Storage.MaxConns <= 0 {
		c.Storage.MaxConns = 12
	}
	if c.Storage.MinConns < 0 {
		c.Storage.MinConns = 0
	}
	if c.CA.CertsDir == "" {
		c.CA.CertsDir = "certs"
	}
	if c.CA.CertDays <= 0 {
		c.CA.CertDays = 365
	}
	if c.CA.StageTimeoutSeconds <= 0 {
		c.CA.StageTimeoutSeconds = 30
	}
	if c.Auth.IntermediateTTLMinutes <= 0 {
		c.Auth.IntermediateTTLMinutes = 5
	}
	if c.Auth.SessionTTLMinutes <= 0 {
		c.Auth.SessionTTLMinutes = 60
	}
	if c.Auth.TOTPIssuer == "" {
		c.Auth.TOTPIssuer = "Voteguard Voting System"
	}
	if c.Import.MaxConcurrency <= 0 {
		c.Import.MaxConcurrency = 4
	}
	if c.Security.EnforceSecureTLS == nil {
		c.Security.EnforceSecureTLS = boolPtr(true)
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "voteguard-identity"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "dev"
	}
	if c.Logging.Commit == "" {
		c.Logging.Commit = "unknown"
	}
	if c.Logging.Region == "" {
		c.Logging.Region = "default"
	}
}

func (c *Config) validate() error {
	if c.Storage.PostgresDSN == "" {
		return errors.New("storage.postgres_dsn is required")
	}
	if c.CA.CACertPath == "" {
		return errors.New("ca.ca_cert_path is required")
	}
	if c.CA.CAKeyPath == "" {
		return errors.New("ca.ca_key_path is required")
	}
	if strings.TrimSpace(c.CA.KeyPassphrase) == "" {
		return errors.New("ca.key_passphrase is required")
	}
	if strings.TrimSpace(c.Auth.TokenSigningKey) == "" {
		return errors.New("auth.token_signing_key is required")
	}
	if len(c.Auth.TokenSigningKey) < 32 {
		return errors.New("auth.token_signing_key must be at least 32 bytes")
	}
	if *c.Security.EnforceSecureTLS && dsnUsesInsecureSSL(c.Storage.PostgresDSN) {
		return errors.New("storage.postgres_dsn must use sslmode=require|verify-ca|verify-full when enforce_secure_transport is enabled")
	}
	return nil
}

func (c *Config) expandEnv() {
	c.Storage.PostgresDSN = os.ExpandEnv(strings.TrimSpace(c.Storage.PostgresDSN))
	c.CA.CertsDir = os.ExpandEnv(strings.TrimSpace(c.CA.CertsDir))
	c.CA.CACertPath = os.ExpandEnv(strings.TrimSpace(c.CA.CACertPath))
	c.CA.CAKeyPath = os.ExpandEnv(strings.TrimSpace(c.CA.CAKeyPath))
	c.CA.KeyPassphrase = os.ExpandEnv(strings.TrimSpace(c.CA.KeyPassphrase))
	c.Auth.TokenSigningKey = os.ExpandEnv(strings.TrimSpace(c.Auth.TokenSigningKey))
}

func dsnUsesInsecureSSL(dsn string) bool {
	u, err := url.Parse(dsn)
	if err != nil {
		return strings.Contains(dsn, "sslmode=disable") || strings.Contains(dsn, "sslmode=allow") || strings.Contains(dsn, "sslmode=prefer")
	}
	switch strings.TrimSpace(strings.ToLower(u.Query().Get("sslmode"))) {
	case "disable", "allow", "prefer":
		return true
	default:
		return false
	}
}

func boolPtr(v bool) *bool { return &v }
