package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses the configuration file. Files ending in .toml are read as TOML,
// everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data, applies defaults and validates the result
func Parse(data []byte, isTOML bool) (*Config, error) {
	cfg := &Config{}
	if isTOML {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.CriticalRetryInterval == 0 {
		cfg.CriticalRetryInterval = DefaultCriticalRetryInterval
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.DedupCacheSize == 0 {
		cfg.DedupCacheSize = DefaultDedupCacheSize
	}
	if cfg.Reachability != nil && cfg.Reachability.Host == "" {
		cfg.Reachability.Host = DefaultReachabilityHost
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got '%s'", u.Scheme)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.ConnectTimeout < 0 {
		return fmt.Errorf("connectTimeout must be non-negative")
	}
	if cfg.HeartbeatInterval < 0 {
		return fmt.Errorf("heartbeatInterval must be non-negative")
	}
	if cfg.WriteTimeout < 0 {
		return fmt.Errorf("writeTimeout must be non-negative")
	}
	if cfg.ReadLimit < 0 {
		return fmt.Errorf("readLimit must be non-negative")
	}
	if cfg.CriticalRetryInterval < 0 {
		return fmt.Errorf("criticalRetryInterval must be non-negative")
	}
	if cfg.FailureThreshold < 0 {
		return fmt.Errorf("failureThreshold must be non-negative")
	}
	if cfg.DedupCacheSize < 0 {
		return fmt.Errorf("dedupCacheSize must be non-negative")
	}
	if cfg.PingMessage != "" && !json.Valid([]byte(cfg.PingMessage)) {
		return fmt.Errorf("pingMessage must be valid JSON")
	}

	if cfg.Reachability != nil && cfg.Reachability.Enabled {
		if cfg.Reachability.Interval < 0 || cfg.Reachability.Timeout < 0 {
			return fmt.Errorf("reachability.interval and reachability.timeout must be non-negative")
		}
	}

	if cfg.Scripts != nil && cfg.Scripts.Timeout < 0 {
		return fmt.Errorf("scripts.timeout must be non-negative")
	}

	names := make(map[string]bool)
	for i, ep := range cfg.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoints[%d]: name is required", i)
		}
		if names[ep.Name] {
			return fmt.Errorf("endpoints[%d]: duplicate endpoint name '%s'", i, ep.Name)
		}
		names[ep.Name] = true

		if len(ep.Match) == 0 {
			return fmt.Errorf("endpoint '%s': at least one match is required", ep.Name)
		}
		for j, m := range ep.Match {
			if m.Path == "" {
				return fmt.Errorf("endpoint '%s', match[%d]: path is required", ep.Name, j)
			}
		}
	}

	return nil
}
