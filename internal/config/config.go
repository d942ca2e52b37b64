package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultStoreDriver  = "file"
	DefaultStorePath    = "cases.json"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "caseflow"
	DefaultPGSSLMode    = "disable"
	DefaultLLMBaseURL   = "https://api.openai.com/v1"
	DefaultLLMModel     = "gpt-4o-mini"
)

type Config struct {
	Log          LogConfig          `toml:"log"`
	Server       ServerConfig       `toml:"server"`
	Auth         AuthConfig         `toml:"auth"`
	Store        StoreConfig        `toml:"store"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Mail         MailConfig         `toml:"mail"`
	LLM          LLMConfig          `toml:"llm"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// StoreConfig selects the case persistence backend.
// Driver is "file" or "postgres".
type StoreConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// MailConfig holds transport adapter settings. Adapter is "generic"
// (SMTP/IMAP) or "mailgun".
type MailConfig struct {
	Adapter string        `toml:"adapter"`
	Generic GenericMail   `toml:"generic"`
	Mailgun MailgunConfig `toml:"mailgun"`
}

type GenericMail struct {
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	SMTPHost     string `toml:"smtp_host"`
	SMTPPort     int    `toml:"smtp_port"`
	SMTPSecurity string `toml:"smtp_security"`
	IMAPHost     string `toml:"imap_host"`
	IMAPPort     int    `toml:"imap_port"`
	IMAPSecurity string `toml:"imap_security"`
}

type MailgunConfig struct {
	Domain            string `toml:"domain"`
	APIKey            string `toml:"api_key"`
	Region            string `toml:"region"`
	WebhookSigningKey string `toml:"webhook_signing_key"`
	From              string `toml:"from"`
}

type LLMConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// OrchestratorConfig controls the intake pipeline and poll loop.
type OrchestratorConfig struct {
	PollIntervalSeconds int      `toml:"poll_interval_seconds"`
	MaxPerPoll          int      `toml:"max_per_poll"`
	Allowlist           []string `toml:"allowlist"`
}

func (c OrchestratorConfig) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Store: StoreConfig{
			Driver: DefaultStoreDriver,
			Path:   DefaultStorePath,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Mail: MailConfig{
			Adapter: "generic",
			Generic: GenericMail{
				SMTPPort:     587,
				SMTPSecurity: "starttls",
				IMAPPort:     993,
				IMAPSecurity: "tls",
			},
			Mailgun: MailgunConfig{
				Region: "us",
			},
		},
		LLM: LLMConfig{
			BaseURL:        DefaultLLMBaseURL,
			Model:          DefaultLLMModel,
			TimeoutSeconds: 30,
		},
		Orchestrator: OrchestratorConfig{
			PollIntervalSeconds: 60,
			MaxPerPoll:          5,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
