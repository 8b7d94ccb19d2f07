package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Defaults applied by LoadConfig when a field is left empty.
const (
	DefaultHost       = "0.0.0.0"
	DefaultClientPort = 14580
	DefaultHTTPPort   = 14501
	DefaultServerName = "PACKETGATE"
	DefaultWorkers    = 10
	DefaultQueueSize  = 100
	DefaultLogLevel   = 2
)

type PortConfig struct {
	Client int `yaml:"client"`
	HTTP   int `yaml:"http"`
}

type ServerConfig struct {
	Host  string     `yaml:"host"`
	Name  string     `yaml:"name"`
	Ports PortConfig `yaml:"ports"`
}

type WorkerConfig struct {
	Count     int `yaml:"count"`
	QueueSize int `yaml:"queue_size"`
}

type LoggingConfig struct {
	Level       int  `yaml:"level"`
	Development bool `yaml:"development"`
}

// Account is a user allowed to log in validated. PasscodeHash is a bcrypt
// hash of the passcode.
type Account struct {
	Username     string `yaml:"username"`
	PasscodeHash string `yaml:"passcode_hash"`
}

type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Workers  WorkerConfig  `yaml:"workers"`
	Logging  LoggingConfig `yaml:"logging"`
	Accounts []Account     `yaml:"accounts"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// ClientAddr returns the listen address for client connections
func (c *Config) ClientAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Ports.Client)
}

// HTTPAddr returns the listen address for the status frontend
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Ports.HTTP)
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Name == "" {
		c.Server.Name = DefaultServerName
	}
	if c.Server.Ports.Client == 0 {
		c.Server.Ports.Client = DefaultClientPort
	}
	if c.Server.Ports.HTTP == 0 {
		c.Server.Ports.HTTP = DefaultHTTPPort
	}
	if c.Workers.Count == 0 {
		c.Workers.Count = DefaultWorkers
	}
	if c.Workers.QueueSize == 0 {
		c.Workers.QueueSize = DefaultQueueSize
	}
	if c.Logging.Level == 0 {
		c.Logging.Level = DefaultLogLevel
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Ports.Client < 0 || c.Server.Ports.Client > 65535 {
		errs = append(errs, fmt.Errorf("invalid client port %d", c.Server.Ports.Client))
	}
	if c.Server.Ports.HTTP < 0 || c.Server.Ports.HTTP > 65535 {
		errs = append(errs, fmt.Errorf("invalid http port %d", c.Server.Ports.HTTP))
	}
	if c.Server.Ports.Client != 0 && c.Server.Ports.Client == c.Server.Ports.HTTP {
		errs = append(errs, errors.New("client and http ports must differ"))
	}
	if c.Workers.Count < 1 {
		errs = append(errs, fmt.Errorf("workers.count must be positive, got %d", c.Workers.Count))
	}
	if c.Workers.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("workers.queue_size must be positive, got %d", c.Workers.QueueSize))
	}
	if strings.ContainsAny(c.Server.Name, " ,:>") {
		errs = append(errs, fmt.Errorf("server name %q contains a reserved character", c.Server.Name))
	}
	for i, a := range c.Accounts {
		if strings.TrimSpace(a.Username) == "" {
			errs = append(errs, fmt.Errorf("accounts[%d]: username is required", i))
		}
		if a.PasscodeHash == "" {
			errs = append(errs, fmt.Errorf("accounts[%d]: passcode_hash is required", i))
		}
	}
	return errors.Join(errs...)
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &config, nil
}
