// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultAlertCategories are the classifier labels that trigger an email
// digest when no alerts.categories list is configured.
var DefaultAlertCategories = []string{"Malicious", "Illegal", "AdultContent", "Gambling", "Suspicious"}

// PiholeConfig points at the DNS-filtering appliance.
type PiholeConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify"`
	Password      string        `yaml:"-"` // from env only
}

// ClassifierEndpoint is one LLM provider in the fallback chain.
type ClassifierEndpoint struct {
	URL       string `yaml:"url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"` // env var name for API key
	APIKey    string `yaml:"-"`           // resolved at load time
}

// ClassifierConfig for the domain risk classifier.
type ClassifierConfig struct {
	Endpoints []ClassifierEndpoint `yaml:"endpoints"` // fallback chain
	BatchSize int                  `yaml:"batch_size"`
}

// StorageConfig for the findings ledger.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// StateConfig for cross-cycle process state.
type StateConfig struct {
	WatermarkFile string `yaml:"watermark_file"`
	LockFile      string `yaml:"lock_file"`
}

// AlertsConfig decides which findings become notifications.
type AlertsConfig struct {
	Categories []string `yaml:"categories"`
	Separator  string   `yaml:"separator"` // joins category labels in stored findings
}

// SMTPConfig for the digest mailer. All-optional: missing settings degrade
// notification to a logged failure.
type SMTPConfig struct {
	Server    string `yaml:"server"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"` // defaults to sender
	Sender    string `yaml:"sender"`
	Recipient string `yaml:"recipient"`
	Password  string `yaml:"-"` // from env only
}

// Config is the whole process configuration.
type Config struct {
	Pihole       PiholeConfig     `yaml:"pihole"`
	Classifier   ClassifierConfig `yaml:"classifier"`
	Storage      StorageConfig    `yaml:"storage"`
	State        StateConfig      `yaml:"state"`
	Alerts       AlertsConfig     `yaml:"alerts"`
	SMTP         SMTPConfig       `yaml:"smtp"`
	PollInterval time.Duration    `yaml:"poll_interval"`
}

// Load reads the YAML config file, applies env overrides for secrets, and
// fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Env overrides
	if pw := os.Getenv("HARUSPEX_PIHOLE_PASSWORD"); pw != "" {
		cfg.Pihole.Password = pw
	}
	if pw := os.Getenv("HARUSPEX_SMTP_PASSWORD"); pw != "" {
		cfg.SMTP.Password = pw
	}

	// Resolve API keys for each classifier endpoint from env vars
	for i := range cfg.Classifier.Endpoints {
		if cfg.Classifier.Endpoints[i].APIKeyEnv != "" {
			cfg.Classifier.Endpoints[i].APIKey = os.Getenv(cfg.Classifier.Endpoints[i].APIKeyEnv)
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Pihole.Timeout == 0 {
		c.Pihole.Timeout = 30 * time.Second
	}
	if c.Classifier.BatchSize == 0 {
		c.Classifier.BatchSize = 400
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "./findings.db"
	}
	if c.State.WatermarkFile == "" {
		c.State.WatermarkFile = "./last_check.txt"
	}
	if c.State.LockFile == "" {
		c.State.LockFile = "./haruspex.lock"
	}
	if len(c.Alerts.Categories) == 0 {
		c.Alerts.Categories = DefaultAlertCategories
	}
	if c.Alerts.Separator == "" {
		c.Alerts.Separator = ", "
	}
	if c.SMTP.Username == "" {
		c.SMTP.Username = c.SMTP.Sender
	}
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Minute
	}
}

// Validate enforces the startup-fatal conditions: the process must not run a
// cycle without appliance access or a usable classifier endpoint.
func (c *Config) Validate() error {
	if c.Pihole.BaseURL == "" {
		return errors.New("pihole.base_url is required")
	}
	if c.Pihole.Password == "" {
		return errors.New("pihole password is required (set HARUSPEX_PIHOLE_PASSWORD)")
	}
	if len(c.Classifier.Endpoints) == 0 {
		return errors.New("at least one classifier endpoint is required")
	}
	for i, ep := range c.Classifier.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("classifier endpoint %d has no url", i+1)
		}
		if ep.APIKey == "" {
			return fmt.Errorf("classifier endpoint %d has no API key (env %s unset?)", i+1, ep.APIKeyEnv)
		}
	}
	return nil
}

// SMTPConfigured reports whether enough SMTP settings are present to attempt
// delivery. When false, notifications degrade to a logged failure.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Server != "" && c.SMTP.Port != 0 &&
		c.SMTP.Sender != "" && c.SMTP.Recipient != "" && c.SMTP.Password != ""
}
