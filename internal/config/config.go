// Package config holds the YAML-backed configuration for the server binary
// (the client binary takes command-line flags only): one struct per top-level
// YAML key, loaded with gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration document.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Radiod     RadiodConfig     `yaml:"radiod"`
	Multicast  MulticastConfig  `yaml:"multicast"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Devices    []DeviceConfig   `yaml:"devices"`
}

// ServerConfig contains control-channel listener settings.
type ServerConfig struct {
	Listen              string `yaml:"listen"`
	CompressionSize     int    `yaml:"compression_size"`      // bytes; 0 disables outbound compression
	MaxSessions         int    `yaml:"max_sessions"`          // not read by the server, which accepts any number of sessions
	TXQueueDepth        int    `yaml:"tx_queue_depth"`        // not read by the server; each TX worker uses txqueue.DefaultQueueDepth
}

// RadiodConfig holds the opaque analyzer's control/data multicast group
// addresses. Nothing in this module reads it; the reference analyzer opens
// no sockets.
type RadiodConfig struct {
	StatusGroup string `yaml:"status_group"`
	DataGroup   string `yaml:"data_group"`
	Interface   string `yaml:"interface"`
}

// MulticastConfig controls the server's PSD/encap fan-out group.
type MulticastConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Group     string `yaml:"group"`
	Interface string `yaml:"interface"`
	TTL       int    `yaml:"ttl"`
}

// AuthConfig lists known users and their passwords. A real deployment would
// hash these at rest; this core only needs the plaintext to compute the
// challenge token, matching the protocol's salted-hash scheme.
type AuthConfig struct {
	Users map[string]string `yaml:"users"`
}

// LoggingConfig holds a log level and an optional log file. The server binary
// does not apply either; it always logs through the standard log package's
// default output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// PrometheusConfig enables metrics export over an optional HTTP listener.
type PrometheusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Listen   string `yaml:"listen"`
	PushURL  string `yaml:"push_url,omitempty"`
	JobName  string `yaml:"job_name,omitempty"`
}

// DeviceConfig describes one statically-configured discovery source.
type DeviceConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":7337"
	}
	if c.Server.TXQueueDepth <= 0 {
		c.Server.TXQueueDepth = 64
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
