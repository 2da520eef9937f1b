// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail composer CLI.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shineum/mail-composer/internal/session"
)

// Default socket timeouts in milliseconds.
const (
	defaultConnectTimeoutMS = 60000
	defaultTimeoutMS        = 60000
)

// Config holds the complete application configuration.
type Config struct {
	Provider string        `yaml:"provider"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	Graph    GraphConfig   `yaml:"graph"`
	SES      SESConfig     `yaml:"ses"`
	Resend   ResendConfig  `yaml:"resend"`
	Gmail    GmailConfig   `yaml:"gmail"`
	Logging  LoggingConfig `yaml:"logging"`
}

// SMTPConfig holds the mail transport agent connection settings.
type SMTPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	ConnectTimeoutMS   int    `yaml:"connect_timeout_ms"`
	TimeoutMS          int    `yaml:"timeout_ms"`
	SSLOnConnect       bool   `yaml:"ssl_on_connect"`
	StartTLS           bool   `yaml:"starttls"`
	StartTLSRequired   bool   `yaml:"starttls_required"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	LocalName          string `yaml:"local_name"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// ResendConfig holds Resend API configuration.
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
	Sender string `yaml:"sender"`
}

// GmailConfig holds Gmail API configuration. CredentialsFile points at a
// service account key; the client/refresh token fields are the alternative
// for personal mailboxes.
type GmailConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	RefreshToken    string `yaml:"refresh_token"`
	Sender          string `yaml:"sender"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()
	cfg.Provider = strings.ToLower(cfg.Provider)

	return cfg, nil
}

// SessionConfig returns the explicit transport settings handed to the composer.
func (c *Config) SessionConfig() session.Config {
	sc := session.Config{
		Host:             c.SMTP.Host,
		SSLOnConnect:     c.SMTP.SSLOnConnect,
		StartTLS:         c.SMTP.StartTLS,
		StartTLSRequired: c.SMTP.StartTLSRequired,
		ConnectTimeout:   time.Duration(c.SMTP.ConnectTimeoutMS) * time.Millisecond,
		Timeout:          time.Duration(c.SMTP.TimeoutMS) * time.Millisecond,
		Username:         c.SMTP.Username,
		Password:         c.SMTP.Password,
		LocalName:        c.SMTP.LocalName,
	}
	// A single configured port serves whichever protocol is selected.
	if c.SMTP.SSLOnConnect {
		sc.SSLPort = c.SMTP.Port
	} else {
		sc.Port = c.SMTP.Port
	}
	return sc
}

// SMTPConfigured returns true if an SMTP host is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set. Keys are
// optional and fall back to the default AWS credential chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// ResendConfigured returns true if a Resend API key is set.
func (c *Config) ResendConfigured() bool {
	return c.Resend.APIKey != ""
}

// GmailConfigured returns true if a sender and one credential form are set.
func (c *Config) GmailConfigured() bool {
	if c.Gmail.Sender == "" {
		return false
	}
	return c.Gmail.CredentialsFile != "" || c.Gmail.RefreshToken != ""
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.ConnectTimeoutMS = defaultConnectTimeoutMS
	c.SMTP.TimeoutMS = defaultTimeoutMS
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setString(&c.SMTP.Host, "SMTP_HOST")
	setInt(&c.SMTP.Port, "SMTP_PORT")
	setString(&c.SMTP.Username, "SMTP_USERNAME")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setInt(&c.SMTP.ConnectTimeoutMS, "SMTP_CONNECT_TIMEOUT_MS")
	setInt(&c.SMTP.TimeoutMS, "SMTP_TIMEOUT_MS")
	setBool(&c.SMTP.SSLOnConnect, "SMTP_SSL_ON_CONNECT")
	setBool(&c.SMTP.StartTLS, "SMTP_STARTTLS")
	setBool(&c.SMTP.StartTLSRequired, "SMTP_STARTTLS_REQUIRED")
	setString(&c.SMTP.CAFile, "SMTP_CA_FILE")
	setBool(&c.SMTP.InsecureSkipVerify, "SMTP_INSECURE_SKIP_VERIFY")
	setString(&c.SMTP.LocalName, "SMTP_LOCAL_NAME")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setString(&c.Graph.Sender, "GRAPH_SENDER")

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.SES.Sender, "SES_SENDER")

	setString(&c.Resend.APIKey, "RESEND_API_KEY")
	setString(&c.Resend.Sender, "RESEND_SENDER")

	setString(&c.Gmail.CredentialsFile, "GMAIL_CREDENTIALS_FILE")
	setString(&c.Gmail.ClientID, "GMAIL_CLIENT_ID")
	setString(&c.Gmail.ClientSecret, "GMAIL_CLIENT_SECRET")
	setString(&c.Gmail.RefreshToken, "GMAIL_REFRESH_TOKEN")
	setString(&c.Gmail.Sender, "GMAIL_SENDER")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// setInt ignores values that do not parse, keeping the previous setting.
func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
