package config

import "time"

// Config represents the complete arbiter configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Pool     PoolConfig     `yaml:"pool"`
	Router   RouterConfig   `yaml:"router"`
	Registry RegistryConfig `yaml:"registry,omitempty"`
	Bridge   BridgeConfig   `yaml:"bridge,omitempty"`
	API      APIConfig      `yaml:"api,omitempty"`
	Storage  StorageConfig  `yaml:"storage"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// PoolConfig defines worker pool and queue settings.
type PoolConfig struct {
	Workers       int           `yaml:"workers"`
	QueueCapacity int           `yaml:"queue_capacity"`
	JobTimeout    time.Duration `yaml:"job_timeout"`
	// SubmitWait bounds how long a submit waits for queue space before the
	// caller is told to back off.
	SubmitWait     time.Duration `yaml:"submit_wait"`
	HistorySize    int           `yaml:"history_size"`
	EventBufferCap int           `yaml:"event_buffer_cap"`
}

// RouterConfig defines routing heuristics. The constants mirror the shape of
// the scoring formulas but none of them is load-bearing; all are tunable.
type RouterConfig struct {
	LengthNorm      int          `yaml:"length_norm"`
	MaxTier         int          `yaml:"max_tier"`
	MaxCapabilities int          `yaml:"max_capabilities"`
	MaxComponents   int          `yaml:"max_components"`
	Bands           []BandConfig `yaml:"bands,omitempty"`
}

// BandConfig maps a complexity band to a contiguous tier range.
type BandConfig struct {
	UpTo     float64 `yaml:"up_to"` // exclusive upper bound; last band is inclusive
	TierLow  int     `yaml:"tier_low"`
	TierHigh int     `yaml:"tier_high"`
}

// RegistryConfig defines where the capability manifest is loaded from.
// An empty path means the built-in registry.
type RegistryConfig struct {
	Manifest string `yaml:"manifest,omitempty"`
}

// BridgeConfig defines the external intelligence process.
type BridgeConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Command         string        `yaml:"command"`
	Args            []string      `yaml:"args,omitempty"`
	StartupDeadline time.Duration `yaml:"startup_deadline"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// StorageConfig defines job log storage settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "arbiter",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Pool: PoolConfig{
			Workers:        8,
			QueueCapacity:  64,
			JobTimeout:     5 * time.Second,
			SubmitWait:     250 * time.Millisecond,
			HistorySize:    1000,
			EventBufferCap: 100,
		},
		Router: RouterConfig{
			LengthNorm:      1000,
			MaxTier:         33,
			MaxCapabilities: 8,
			MaxComponents:   5,
			Bands: []BandConfig{
				{UpTo: 0.3, TierLow: 1, TierHigh: 9},
				{UpTo: 0.6, TierLow: 10, TierHigh: 19},
				{UpTo: 0.8, TierLow: 20, TierHigh: 26},
				{UpTo: 1.0, TierLow: 27, TierHigh: 33},
			},
		},
		Bridge: BridgeConfig{
			Enabled:         false,
			StartupDeadline: 2 * time.Second,
			CallTimeout:     5 * time.Second,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Storage: StorageConfig{
			Path: "./data/arbiter.db",
		},
	}
}
