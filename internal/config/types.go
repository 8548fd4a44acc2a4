package config

import "time"

// Config represents the main configuration structure
type Config struct {
	URL                   string              `json:"url" toml:"url"`
	LogLevel              string              `json:"logLevel" toml:"logLevel"`
	LogFile               string              `json:"logFile" toml:"logFile"`                             // rotating JSON log file; stdout console when empty
	ConnectTimeout        int                 `json:"connectTimeout" toml:"connectTimeout"`               // ms
	HeartbeatInterval     int                 `json:"heartbeatInterval" toml:"heartbeatInterval"`         // ms
	WriteTimeout          int                 `json:"writeTimeout" toml:"writeTimeout"`                   // ms
	ReadLimit             int64               `json:"readLimit" toml:"readLimit"`                         // bytes, 0 means no limit
	CriticalRetryInterval int                 `json:"criticalRetryInterval" toml:"criticalRetryInterval"` // ms
	FailureThreshold      int                 `json:"failureThreshold" toml:"failureThreshold"`
	PingMessage           string              `json:"pingMessage" toml:"pingMessage"`
	DedupCacheSize        int                 `json:"dedupCacheSize" toml:"dedupCacheSize"`
	AdminAddr             string              `json:"adminAddr" toml:"adminAddr"` // admin HTTP listener; disabled when empty
	Reachability          *ReachabilityConfig `json:"reachability,omitempty" toml:"reachability"`
	Scripts               *ScriptConfig       `json:"scripts,omitempty" toml:"scripts"`
	Endpoints             []EndpointConfig    `json:"endpoints" toml:"endpoints"`
}

// ReachabilityConfig represents network reachability probing configuration
type ReachabilityConfig struct {
	Enabled  bool   `json:"enabled" toml:"enabled"`
	Host     string `json:"host" toml:"host"`         // host:port dialed over TCP
	Interval int    `json:"interval" toml:"interval"` // ms
	Timeout  int    `json:"timeout" toml:"timeout"`   // ms
}

// ScriptConfig represents JavaScript endpoint configuration
type ScriptConfig struct {
	Enabled   bool   `json:"enabled" toml:"enabled"`
	Directory string `json:"directory" toml:"directory"` // path to scripts directory
	Timeout   int    `json:"timeout" toml:"timeout"`     // per-call timeout in milliseconds
}

// EndpointConfig represents a declarative endpoint
type EndpointConfig struct {
	Name        string        `json:"name" toml:"name"`
	Subscribe   string        `json:"subscribe" toml:"subscribe"`
	Unsubscribe string        `json:"unsubscribe" toml:"unsubscribe"`
	Match       []MatchConfig `json:"match" toml:"match"`
	ValuePath   string        `json:"valuePath" toml:"valuePath"`
	DedupPath   string        `json:"dedupPath" toml:"dedupPath"`
}

// MatchConfig is one field predicate; an empty equals only requires the field to exist
type MatchConfig struct {
	Path   string `json:"path" toml:"path"`
	Equals string `json:"equals" toml:"equals"`
}

// Default values
const (
	DefaultLogLevel              = "info"
	DefaultConnectTimeout        = 5000  // ms
	DefaultHeartbeatInterval     = 5000  // ms
	DefaultWriteTimeout          = 10000 // ms
	DefaultCriticalRetryInterval = 10000 // ms
	DefaultFailureThreshold      = 3
	DefaultDedupCacheSize        = 1000
	DefaultReachabilityHost      = "8.8.8.8:53"
	DefaultReachabilityInterval  = 5000 // ms
	DefaultReachabilityTimeout   = 2000 // ms
	DefaultScriptDirectory       = "./scripts"
	DefaultScriptTimeout         = 100 // ms
)

// GetConnectTimeoutDuration returns connect timeout as time.Duration
func (c *Config) GetConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Millisecond
}

// GetHeartbeatIntervalDuration returns heartbeat interval as time.Duration
func (c *Config) GetHeartbeatIntervalDuration() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Millisecond
}

// GetWriteTimeoutDuration returns write timeout as time.Duration
func (c *Config) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Millisecond
}

// GetCriticalRetryIntervalDuration returns the critical cooldown as time.Duration
func (c *Config) GetCriticalRetryIntervalDuration() time.Duration {
	return time.Duration(c.CriticalRetryInterval) * time.Millisecond
}

// IsReachabilityEnabled returns true if reachability probing is configured and enabled
func (c *Config) IsReachabilityEnabled() bool {
	return c.Reachability != nil && c.Reachability.Enabled
}

// GetReachabilityIntervalDuration returns the probe interval as time.Duration
func (c *Config) GetReachabilityIntervalDuration() time.Duration {
	if c.Reachability == nil || c.Reachability.Interval == 0 {
		return time.Duration(DefaultReachabilityInterval) * time.Millisecond
	}
	return time.Duration(c.Reachability.Interval) * time.Millisecond
}

// GetReachabilityTimeoutDuration returns the probe timeout as time.Duration
func (c *Config) GetReachabilityTimeoutDuration() time.Duration {
	if c.Reachability == nil || c.Reachability.Timeout == 0 {
		return time.Duration(DefaultReachabilityTimeout) * time.Millisecond
	}
	return time.Duration(c.Reachability.Timeout) * time.Millisecond
}

// IsScriptsEnabled returns true if script endpoints are configured and enabled
func (c *Config) IsScriptsEnabled() bool {
	return c.Scripts != nil && c.Scripts.Enabled
}

// GetScriptDirectory returns the scripts directory path
func (c *Config) GetScriptDirectory() string {
	if c.Scripts == nil || c.Scripts.Directory == "" {
		return DefaultScriptDirectory
	}
	return c.Scripts.Directory
}

// GetScriptTimeoutDuration returns script call timeout as time.Duration
func (c *Config) GetScriptTimeoutDuration() time.Duration {
	if c.Scripts == nil || c.Scripts.Timeout == 0 {
		return time.Duration(DefaultScriptTimeout) * time.Millisecond
	}
	return time.Duration(c.Scripts.Timeout) * time.Millisecond
}
