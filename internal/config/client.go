package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline names accepted in the client config.
const (
	PipelineSeparate = "separate"
	PipelineCombined = "combined"
)

// Client defaults.
const (
	DefaultMaxFileSizeMB = 25
	DefaultPollInterval  = 2 * time.Second
	DefaultPollCeiling   = 10 * time.Minute
)

// DefaultConfigDir returns the default config directory (~/.m4a-notes).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".m4a-notes"), nil
}

// DefaultConfigPath returns the default config file path (~/.m4a-notes/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// ClientConfig holds the CLI configuration.
type ClientConfig struct {
	ServerURL     string        `yaml:"server_url,omitempty"`
	Token         string        `yaml:"token,omitempty"`
	Pipeline      string        `yaml:"pipeline,omitempty"`
	MaxFileSizeMB int64         `yaml:"max_file_size_mb,omitempty"`
	PollInterval  time.Duration `yaml:"poll_interval,omitempty"`
	PollCeiling   time.Duration `yaml:"poll_ceiling,omitempty"`
	Proxy         *ProxyConfig  `yaml:"proxy,omitempty"`
}

// Validate checks that the configuration has required fields for operation.
func (c *ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if c.Token == "" {
		return errors.New("token is required")
	}
	switch c.Pipeline {
	case "", PipelineSeparate, PipelineCombined:
	default:
		return fmt.Errorf("pipeline must be %q or %q, got %q", PipelineSeparate, PipelineCombined, c.Pipeline)
	}
	if c.MaxFileSizeMB < 0 {
		return errors.New("max_file_size_mb must not be negative")
	}
	if c.PollInterval < 0 || c.PollCeiling < 0 {
		return errors.New("poll durations must not be negative")
	}
	return nil
}

// IsConfigured returns true if the CLI knows where and as whom to connect.
func (c *ClientConfig) IsConfigured() bool {
	return c.ServerURL != "" && c.Token != ""
}

// APIBase returns the server URL with the /api prefix the gateway serves under.
func (c *ClientConfig) APIBase() string {
	base := strings.TrimRight(c.ServerURL, "/")
	if strings.HasSuffix(base, "/api") {
		return base
	}
	return base + "/api"
}

// PipelineName returns the configured pipeline, defaulting to separate.
func (c *ClientConfig) PipelineName() string {
	if c.Pipeline == "" {
		return PipelineSeparate
	}
	return c.Pipeline
}

// MaxFileSize returns the upload size limit in bytes.
func (c *ClientConfig) MaxFileSize() int64 {
	mb := c.MaxFileSizeMB
	if mb <= 0 {
		mb = DefaultMaxFileSizeMB
	}
	return mb << 20
}

// PollTiming returns the poll interval and ceiling with defaults applied.
func (c *ClientConfig) PollTiming() (interval, ceiling time.Duration) {
	interval, ceiling = c.PollInterval, c.PollCeiling
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if ceiling <= 0 {
		ceiling = DefaultPollCeiling
	}
	return interval, ceiling
}

// Load reads the configuration from the given path.
// If the file does not exist, an empty config is returned.
func Load(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ClientConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*ClientConfig, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *ClientConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// token is a credential
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}
