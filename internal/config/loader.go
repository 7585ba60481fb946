package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Missing keys fall back to
// Defaults; the result is validated before it is returned.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		// Directory provided - look for config.yaml inside
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", absPath, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $ARBITER_CONFIG, ~/.config/arbiter/config.yaml, /etc/arbiter/config.yaml, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if path := os.Getenv("ARBITER_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "arbiter", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/arbiter/config.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	localConfig := "./config.yaml"
	if _, err := os.Stat(localConfig); err == nil {
		return localConfig, nil
	}

	return "", fmt.Errorf("no config found (checked: $ARBITER_CONFIG, ~/.config/arbiter, /etc/arbiter, ./config.yaml)")
}

// interpolateEnv replaces ${VAR} references with environment values.
// Unset variables are left as-is so validation can report them.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks a Config for fatal-at-startup errors.
func Validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Pool.Workers <= 0 {
		return fmt.Errorf("pool.workers must be positive (got %d)", cfg.Pool.Workers)
	}
	if cfg.Pool.QueueCapacity <= 0 {
		return fmt.Errorf("pool.queue_capacity must be positive (got %d)", cfg.Pool.QueueCapacity)
	}
	if cfg.Pool.JobTimeout <= 0 {
		return fmt.Errorf("pool.job_timeout must be positive")
	}
	if cfg.Pool.HistorySize <= 0 {
		return fmt.Errorf("pool.history_size must be positive")
	}

	if cfg.Router.LengthNorm <= 0 {
		return fmt.Errorf("router.length_norm must be positive")
	}
	if cfg.Router.MaxTier <= 0 {
		return fmt.Errorf("router.max_tier must be positive")
	}
	if cfg.Router.MaxCapabilities <= 0 || cfg.Router.MaxComponents <= 0 {
		return fmt.Errorf("router.max_capabilities and router.max_components must be positive")
	}
	if err := validateBands(cfg.Router.Bands, cfg.Router.MaxTier); err != nil {
		return err
	}

	if cfg.Bridge.Enabled {
		if cfg.Bridge.Command == "" {
			return fmt.Errorf("bridge.command is required when bridge.enabled is true")
		}
		if cfg.Bridge.StartupDeadline <= 0 {
			return fmt.Errorf("bridge.startup_deadline must be positive")
		}
		if cfg.Bridge.CallTimeout <= 0 {
			return fmt.Errorf("bridge.call_timeout must be positive")
		}
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api.enabled is true")
	}

	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	return nil
}

// validateBands checks band edges are ascending, cover (0,1], and reference
// tiers within [1, maxTier].
func validateBands(bands []BandConfig, maxTier int) error {
	if len(bands) == 0 {
		return fmt.Errorf("router.bands must not be empty")
	}

	sorted := sort.SliceIsSorted(bands, func(i, j int) bool {
		return bands[i].UpTo < bands[j].UpTo
	})
	if !sorted {
		return fmt.Errorf("router.bands must be in ascending up_to order")
	}

	for i, b := range bands {
		if b.UpTo <= 0 || b.UpTo > 1 {
			return fmt.Errorf("router.bands[%d].up_to must be in (0, 1] (got %v)", i, b.UpTo)
		}
		if b.TierLow < 1 || b.TierHigh > maxTier || b.TierLow > b.TierHigh {
			return fmt.Errorf("router.bands[%d]: tier range [%d, %d] invalid for max_tier %d",
				i, b.TierLow, b.TierHigh, maxTier)
		}
	}

	if bands[len(bands)-1].UpTo != 1 {
		return fmt.Errorf("router.bands must end at up_to: 1")
	}

	return nil
}
