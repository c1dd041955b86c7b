package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.RXQueues)
	assert.Equal(t, "simulated", cfg.DataplaneType)
}

func TestValidateRejectsUnservedQueues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RXQueues = 4
	cfg.Workers = 3
	assert.Error(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero queues", func(c *Config) { c.RXQueues = 0 }},
		{"bad n3 address", func(c *Config) { c.N3Address = "nope" }},
		{"tiny mtu", func(c *Config) { c.MTU = 100 }},
		{"unknown dataplane", func(c *Config) { c.DataplaneType = "dpdk" }},
		{"xdp without object", func(c *Config) { c.DataplaneType = "xdp" }},
		{"zero queue depth", func(c *Config) { c.QueueDepth = 0 }},
		{"session bad ue ip", func(c *Config) {
			c.Sessions = []SessionConfig{{UEIP: "x", GNBIP: "192.168.1.100", DownlinkTEID: 1, UplinkTEID: 2}}
		}},
		{"session zero teid", func(c *Config) {
			c.Sessions = []SessionConfig{{UEIP: "10.0.0.2", GNBIP: "192.168.1.100"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upf.yaml")
	content := []byte(`rxQueues: 2
workers: 2
n3Address: 192.168.1.1
sessions:
  - ueIp: 10.0.0.2
    downlinkTeid: 0x12345678
    uplinkTeid: 0x87654321
    gnbIp: 192.168.1.100
    dscp: 10
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.RXQueues)
	require.Len(t, cfg.Sessions, 1)
	assert.Equal(t, "10.0.0.2", cfg.Sessions[0].UEIP)
	assert.Equal(t, uint32(0x12345678), cfg.Sessions[0].DownlinkTEID)
	assert.Equal(t, uint8(10), cfg.Sessions[0].DSCP)
}
