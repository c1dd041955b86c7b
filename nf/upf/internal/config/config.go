// Package config loads and validates UPF configuration.
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the UPF executable looks for its configuration.
const DefaultConfigPath = "/etc/5gc/upf.yaml"

// SessionConfig is one static PDU session entry installed at startup.
type SessionConfig struct {
	UEIP         string `yaml:"ueIp"`
	DownlinkTEID uint32 `yaml:"downlinkTeid"`
	UplinkTEID   uint32 `yaml:"uplinkTeid"`
	GNBIP        string `yaml:"gnbIp"`
	GNBPort      uint16 `yaml:"gnbPort"`
	DNIP         string `yaml:"dnIp"`
	DSCP         uint8  `yaml:"dscp"`
	QoSPriority  uint8  `yaml:"qosPriority"`
}

// Config holds the complete UPF configuration.
type Config struct {
	// Data-plane layout. Every RX queue must have a worker: fewer workers
	// than queues would leave queues unserved and silently drop packets.
	RXQueues int `yaml:"rxQueues"`
	Workers  int `yaml:"workers"`

	N3Address string `yaml:"n3Address"` // UPF local IP toward gNB
	N3Iface   string `yaml:"n3Interface"`
	N6Iface   string `yaml:"n6Interface"`
	MTU       int    `yaml:"mtu"`

	// "simulated" or "xdp"
	DataplaneType string `yaml:"dataplaneType"`
	XDPObjectPath string `yaml:"xdpObjectPath"`

	QueueDepth int `yaml:"queueDepth"`

	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile"`

	Sessions []SessionConfig `yaml:"sessions"`
}

// DefaultConfig returns the built-in UPF configuration.
func DefaultConfig() *Config {
	return &Config{
		RXQueues:      4,
		Workers:       4,
		N3Address:     "192.168.1.1",
		N3Iface:       "eth0",
		N6Iface:       "eth1",
		MTU:           1500,
		DataplaneType: "simulated",
		QueueDepth:    1024,
		LogLevel:      "info",
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for startup-fatal errors.
func (c *Config) Validate() error {
	if c.RXQueues <= 0 {
		return fmt.Errorf("rxQueues must be positive")
	}
	if c.Workers < c.RXQueues {
		return fmt.Errorf("workers (%d) must cover every RX queue (%d); unserved queues drop packets",
			c.Workers, c.RXQueues)
	}
	if net.ParseIP(c.N3Address) == nil {
		return fmt.Errorf("invalid n3Address: %q", c.N3Address)
	}
	if c.MTU < 576 {
		return fmt.Errorf("mtu too small: %d", c.MTU)
	}
	if c.DataplaneType != "simulated" && c.DataplaneType != "xdp" {
		return fmt.Errorf("unknown dataplaneType: %q", c.DataplaneType)
	}
	if c.DataplaneType == "xdp" && c.XDPObjectPath == "" {
		return fmt.Errorf("xdpObjectPath required for xdp dataplane")
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("queueDepth must be positive")
	}
	for i, s := range c.Sessions {
		if net.ParseIP(s.UEIP) == nil {
			return fmt.Errorf("session %d: invalid ueIp: %q", i, s.UEIP)
		}
		if net.ParseIP(s.GNBIP) == nil {
			return fmt.Errorf("session %d: invalid gnbIp: %q", i, s.GNBIP)
		}
		if s.DownlinkTEID == 0 || s.UplinkTEID == 0 {
			return fmt.Errorf("session %d: TEIDs must be non-zero", i)
		}
	}
	return nil
}
