// Package config loads and validates AMF configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the AMF executable looks for its configuration.
const DefaultConfigPath = "/etc/5gc/amf.yaml"

// Config holds the complete AMF configuration. Keys are flat scalars so the
// file stays a plain key=value mapping.
type Config struct {
	// Identity
	AMFInstanceID string `yaml:"amfInstanceId"`
	AMFName       string `yaml:"amfName"`
	AMFRegionID   string `yaml:"amfRegionId"`
	AMFSetID      string `yaml:"amfSetId"`
	AMFPointer    string `yaml:"amfPointer"`

	// Network scope
	PLMNID   string   `yaml:"plmnId"` // MCC+MNC, e.g. "46000"
	TAIList  []string `yaml:"taiList"`
	PLMNList []string `yaml:"plmnList"`

	// Endpoints
	SBIBindAddress string `yaml:"sbiBindAddress"`
	SBIPort        int    `yaml:"sbiPort"`
	N1N2BindAddr   string `yaml:"n1n2BindAddress"`
	N2Port         int    `yaml:"n2Port"`

	// Security
	AMFKey              string   `yaml:"amfKey"`
	SupportedAlgorithms []string `yaml:"supportedAlgorithms"`
	AuthTimeout         int      `yaml:"authenticationTimeout"` // seconds

	// Network slicing
	SupportedSlices []string `yaml:"supportedSlices"` // "SST:n,SD:xxx"

	// Capacity
	MaxUEConnections     int `yaml:"maxUeConnections"`
	LoadBalanceThreshold int `yaml:"loadBalanceThreshold"`

	// 3GPP timers (seconds)
	T3510Timer int `yaml:"t3510Timer"`
	T3511Timer int `yaml:"t3511Timer"`
	T3513Timer int `yaml:"t3513Timer"`
	T3560Timer int `yaml:"t3560Timer"`

	// NRF
	NRFURI              string `yaml:"nrfUri"`
	NFHeartbeatInterval int    `yaml:"nfHeartbeatInterval"` // seconds

	// Routing compatibility: when true, unknown SBI paths are classified the
	// way the legacy implementation did instead of returning 404.
	SBICompatRouting bool `yaml:"sbiCompatRouting"`

	// Observability
	LogLevel      string `yaml:"logLevel"`
	LogFile       string `yaml:"logFile"`
	ClickHouseDSN string `yaml:"clickhouseDsn"` // empty disables the analytics sink
}

// SNSSAI is a parsed S-NSSAI ("SST:1,SD:010203").
type SNSSAI struct {
	SST int    `json:"sst"`
	SD  string `json:"sd,omitempty"`
}

// String renders the S-NSSAI back in configuration form.
func (s SNSSAI) String() string {
	if s.SD == "" {
		return fmt.Sprintf("SST:%d", s.SST)
	}
	return fmt.Sprintf("SST:%d,SD:%s", s.SST, s.SD)
}

// ParseSNSSAI parses a configuration slice string such as "SST:1,SD:010203".
func ParseSNSSAI(s string) (SNSSAI, error) {
	var out SNSSAI
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(kv) != 2 {
			return out, fmt.Errorf("malformed S-NSSAI component: %q", part)
		}
		switch kv[0] {
		case "SST":
			sst, err := strconv.Atoi(kv[1])
			if err != nil || sst < 0 || sst > 255 {
				return out, fmt.Errorf("invalid SST: %q", kv[1])
			}
			out.SST = sst
		case "SD":
			out.SD = kv[1]
		default:
			return out, fmt.Errorf("unknown S-NSSAI key: %q", kv[0])
		}
	}
	return out, nil
}

// DefaultConfig returns the built-in AMF configuration.
func DefaultConfig() *Config {
	return &Config{
		AMFInstanceID:        "amf-instance-001",
		AMFName:              "AMF-1",
		AMFRegionID:          "01",
		AMFSetID:             "001",
		AMFPointer:           "01",
		PLMNID:               "46000",
		TAIList:              []string{"460000000001"},
		PLMNList:             []string{"46000"},
		SBIBindAddress:       "0.0.0.0",
		SBIPort:              8080,
		N1N2BindAddr:         "0.0.0.0",
		N2Port:               38412,
		AMFKey:               "0102030405060708090a0b0c0d0e0f10",
		SupportedAlgorithms:  []string{"NEA0", "NEA1", "NEA2", "NIA0", "NIA1", "NIA2"},
		AuthTimeout:          30,
		SupportedSlices:      []string{"SST:1,SD:010203", "SST:2,SD:112233"},
		MaxUEConnections:     10000,
		LoadBalanceThreshold: 80,
		T3510Timer:           15,
		T3511Timer:           10,
		T3513Timer:           6,
		T3560Timer:           6,
		NRFURI:               "http://127.0.0.1:8000",
		NFHeartbeatInterval:  30,
		SBICompatRouting:     false,
		LogLevel:             "info",
	}
}

// Load reads a YAML configuration file over the defaults. A missing file is
// an error; startup treats it as fatal.
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
	if c.AMFInstanceID == "" {
		return fmt.Errorf("amfInstanceId must not be empty")
	}
	if c.SBIPort <= 0 || c.SBIPort > 65535 {
		return fmt.Errorf("invalid sbiPort: %d", c.SBIPort)
	}
	if c.N2Port <= 0 || c.N2Port > 65535 {
		return fmt.Errorf("invalid n2Port: %d", c.N2Port)
	}
	if c.MaxUEConnections <= 0 {
		return fmt.Errorf("maxUeConnections must be positive")
	}
	if len(c.PLMNID) < 5 {
		return fmt.Errorf("invalid plmnId: %q", c.PLMNID)
	}
	for _, s := range c.SupportedSlices {
		if _, err := ParseSNSSAI(s); err != nil {
			return fmt.Errorf("invalid supportedSlices entry: %w", err)
		}
	}
	return nil
}

// GetGUAMI builds the Globally Unique AMF Identifier.
func (c *Config) GetGUAMI() string {
	return fmt.Sprintf("%s-%s-%s-%s", c.PLMNID, c.AMFRegionID, c.AMFSetID, c.AMFPointer)
}

// MCC returns the mobile country code portion of the PLMN ID.
func (c *Config) MCC() string { return c.PLMNID[:3] }

// MNC returns the mobile network code portion of the PLMN ID.
func (c *Config) MNC() string { return c.PLMNID[3:] }

// AllowedSlices parses supportedSlices; Validate guarantees it succeeds.
func (c *Config) AllowedSlices() []SNSSAI {
	out := make([]SNSSAI, 0, len(c.SupportedSlices))
	for _, s := range c.SupportedSlices {
		snssai, err := ParseSNSSAI(s)
		if err != nil {
			continue
		}
		out = append(out, snssai)
	}
	return out
}
