package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models mastersync.yml.
type Config struct {
	Instance struct {
		ID string `yaml:"id"`
	} `yaml:"instance"`
	Cards struct {
		TitlePrefix string `yaml:"title_prefix"`
	} `yaml:"cards"`
	Notifications struct {
		NotifyDays        []int `yaml:"notify_days"`
		RenotifyGateHours int   `yaml:"renotify_gate_hours"`
		Aggregate         bool  `yaml:"aggregate"`
	} `yaml:"notifications"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is one notification sink. An empty Codes list matches every
// notification code.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	Codes          []string `yaml:"codes" json:"codes,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with msync config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return fmt.Errorf("config.instance.id is required")
	}
	for _, d := range c.Notifications.NotifyDays {
		if d < 0 {
			return fmt.Errorf("config.notifications.notify_days contains negative day %d", d)
		}
	}
	if c.Notifications.RenotifyGateHours < 0 {
		return fmt.Errorf("config.notifications.renotify_gate_hours must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "mastersync.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(instanceID string) string {
	return fmt.Sprintf(defaultTemplate, instanceID)
}

// Default returns the default Config struct for an instance.
func Default(instanceID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, instanceID)), &cfg)
	cfg.Instance.ID = instanceID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `instance:
  id: %s

cards:
  title_prefix: "[PENDING]"

notifications:
  notify_days: [0, 1, 3, 5]
  renotify_gate_hours: 24
  aggregate: false

server:
  addr: ":8080"
`
