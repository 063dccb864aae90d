package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port          int      `yaml:"port"`
	SnapshotDir   string   `yaml:"snapshot_dir"`
	RetentionDays int      `yaml:"retention_days"`
	Leaky         *bool    `yaml:"leaky"`
	TargetURL     string   `yaml:"target_url"`
	TargetCommand []string `yaml:"target_command"`

	RequestCount      int    `yaml:"request_count"`
	SettleWaitSec     int    `yaml:"settle_wait_sec"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	StartupTimeoutSec int    `yaml:"startup_timeout_sec"`
	LogDir            string `yaml:"log_dir"`

	Thresholds Thresholds  `yaml:"thresholds"`
	Indicators []Indicator `yaml:"indicators"`
}

// TypeThreshold classifies the growth of one tracked object type.
// A delta above Critical is critical, above Moderate is moderate.
type TypeThreshold struct {
	Type     string `yaml:"type"`
	Moderate int64  `yaml:"moderate"`
	Critical int64  `yaml:"critical"`
}

// TierThresholds holds the two object families checked independently
// during classification.
type TierThresholds struct {
	HTTP    []TypeThreshold `yaml:"http"`
	General []TypeThreshold `yaml:"general"`
}

type Thresholds struct {
	Burst  TierThresholds `yaml:"burst"`
	Settle TierThresholds `yaml:"settle"`
}

// Indicator is a per-type live-count limit reported by the probe
// endpoint as a leak indicator when exceeded.
type Indicator struct {
	Type  string `yaml:"type"`
	Limit uint64 `yaml:"limit"`
}

// Tracked object type names. The header/response/request trio is the
// HTTP family; buffer/closure/goroutine is the general family.
const (
	TypeHTTPHeader   = "http.header"
	TypeHTTPResponse = "http.response"
	TypeHTTPRequest  = "http.request"
	TypeBuffer       = "buffer"
	TypeClosure      = "closure"
	TypeGoroutine    = "goroutine"
)

// LoadConfig reads a YAML config from path. An empty path yields an
// all-defaults config so the harness runs without any file present.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 3000
	}
	if c.SnapshotDir == "" {
		c.SnapshotDir = "./snapshots"
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 7
	}
	if c.Leaky == nil {
		leaky := true
		c.Leaky = &leaky
	}
	if c.TargetURL == "" {
		c.TargetURL = fmt.Sprintf("http://127.0.0.1:%d", c.Port)
	}
	if c.RequestCount <= 0 {
		c.RequestCount = 1000
	}
	if c.SettleWaitSec <= 0 {
		c.SettleWaitSec = 120
	}
	if c.RequestTimeoutSec <= 0 {
		c.RequestTimeoutSec = 5
	}
	if c.StartupTimeoutSec <= 0 {
		c.StartupTimeoutSec = 10
	}
	if c.LogDir == "" {
		c.LogDir = "./logs"
	}
	if len(c.Thresholds.Burst.HTTP) == 0 {
		c.Thresholds.Burst.HTTP = []TypeThreshold{
			{Type: TypeHTTPHeader, Moderate: 100, Critical: 500},
			{Type: TypeHTTPResponse, Moderate: 100, Critical: 500},
			{Type: TypeHTTPRequest, Moderate: 100, Critical: 500},
		}
	}
	if len(c.Thresholds.Burst.General) == 0 {
		c.Thresholds.Burst.General = []TypeThreshold{
			{Type: TypeBuffer, Moderate: 1000, Critical: 5000},
			{Type: TypeClosure, Moderate: 5000, Critical: 10000},
			{Type: TypeGoroutine, Moderate: 10000, Critical: 20000},
		}
	}
	if len(c.Thresholds.Settle.HTTP) == 0 {
		c.Thresholds.Settle.HTTP = []TypeThreshold{
			{Type: TypeHTTPHeader, Moderate: 10, Critical: 50},
			{Type: TypeHTTPResponse, Moderate: 10, Critical: 50},
			{Type: TypeHTTPRequest, Moderate: 10, Critical: 50},
		}
	}
	if len(c.Thresholds.Settle.General) == 0 {
		c.Thresholds.Settle.General = []TypeThreshold{
			{Type: TypeBuffer, Moderate: 100, Critical: 1000},
			{Type: TypeClosure, Moderate: 500, Critical: 5000},
			{Type: TypeGoroutine, Moderate: 1000, Critical: 10000},
		}
	}
	if len(c.Indicators) == 0 {
		c.Indicators = []Indicator{
			{Type: TypeHTTPHeader, Limit: 100},
			{Type: TypeHTTPResponse, Limit: 100},
			{Type: TypeHTTPRequest, Limit: 1000},
			{Type: TypeGoroutine, Limit: 10000},
			{Type: TypeBuffer, Limit: 50000},
			{Type: TypeClosure, Limit: 20000},
		}
	}
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive")
	}
	if c.RequestCount <= 0 {
		return fmt.Errorf("request_count must be positive")
	}
	if c.RequestTimeoutSec <= 0 {
		return fmt.Errorf("request_timeout_sec must be positive")
	}
	if c.StartupTimeoutSec <= 0 {
		return fmt.Errorf("startup_timeout_sec must be positive")
	}
	for _, tier := range []TierThresholds{c.Thresholds.Burst, c.Thresholds.Settle} {
		entries := append(append([]TypeThreshold{}, tier.HTTP...), tier.General...)
		for _, th := range entries {
			if th.Type == "" {
				return fmt.Errorf("threshold entry missing type")
			}
			if th.Moderate <= 0 || th.Critical <= 0 {
				return fmt.Errorf("thresholds for %s must be positive", th.Type)
			}
			if th.Critical < th.Moderate {
				return fmt.Errorf("critical threshold for %s below moderate", th.Type)
			}
		}
	}
	return nil
}

// LeakyEnabled reports whether the target server should retain
// per-request objects. Defaults to true.
func (c *Config) LeakyEnabled() bool {
	return c.Leaky == nil || *c.Leaky
}

func (c *Config) SettleWait() time.Duration {
	return time.Duration(c.SettleWaitSec) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func (c *Config) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutSec) * time.Second
}
