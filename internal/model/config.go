// Package model defines the command model and the statusd configuration.
package model

type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Queue         QueueConfig         `yaml:"queue"`
	Store         StoreConfig         `yaml:"store"`
	Redis         RedisConfig         `yaml:"redis"`
	Remote        RemoteConfig        `yaml:"remote"`
	Alarm         AlarmConfig         `yaml:"alarm"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	Logging       LoggingConfig       `yaml:"logging"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Listeners     ListenersConfig     `yaml:"listeners"`
}

type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Created string `yaml:"created"`
}

type QueueConfig struct {
	Capacity    int `yaml:"capacity"`
	RetryBudget int `yaml:"retry_budget"`
}

type StoreConfig struct {
	// Backend is "file" (default) or "redis".
	Backend string `yaml:"backend"`
	// Name prefixes the persisted queue records (<name>_main, <name>_retry).
	Name string `yaml:"name"`
}

type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	KeyPrefix  string `yaml:"key_prefix"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type RemoteConfig struct {
	BaseURL         string  `yaml:"base_url"`
	Token           string  `yaml:"token"`
	Account         string  `yaml:"account"`
	TimeoutSec      int     `yaml:"timeout_sec"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	Burst           int     `yaml:"burst"`

	// ProbeAddr is dialed to decide whether the host is online. Defaults to
	// the host of BaseURL.
	ProbeAddr   string `yaml:"probe_addr"`
	ProbeTTLSec int    `yaml:"probe_ttl_sec"`
	IDTable     string `yaml:"id_table"`
}

type AlarmConfig struct {
	DefaultIntervalSec int `yaml:"default_interval_sec"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
	ExitWhenIdle       bool   `yaml:"exit_when_idle"`
	HTTPAddr           string `yaml:"http_addr"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type NotificationsConfig struct {
	Desktop bool `yaml:"desktop"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ListenersConfig struct {
	Feed            bool   `yaml:"feed"`
	FeedPath        string `yaml:"feed_path"`
	Journal         bool   `yaml:"journal"`
	JournalChecksum bool   `yaml:"journal_checksum"`
}

const (
	DefaultQueueCapacity   = 100
	DefaultRetryBudget     = 9
	DefaultFetchFrequency  = 180
	DefaultShutdownTimeout = 30
)

// ApplyDefaults fills zero values with the built-in defaults.
func (c *Config) ApplyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "statusd"
	}
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = DefaultQueueCapacity
	}
	if c.Queue.RetryBudget <= 0 {
		c.Queue.RetryBudget = DefaultRetryBudget
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
	if c.Store.Name == "" {
		c.Store.Name = c.Service.Name
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "statusd:"
	}
	if c.Redis.TimeoutSec <= 0 {
		c.Redis.TimeoutSec = 5
	}
	if c.Remote.TimeoutSec <= 0 {
		c.Remote.TimeoutSec = 30
	}
	if c.Remote.Burst <= 0 {
		c.Remote.Burst = 1
	}
	if c.Remote.ProbeTTLSec <= 0 {
		c.Remote.ProbeTTLSec = 10
	}
	if c.Alarm.DefaultIntervalSec <= 0 {
		c.Alarm.DefaultIntervalSec = DefaultFetchFrequency
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = DefaultShutdownTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "file"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Listeners.FeedPath == "" {
		c.Listeners.FeedPath = "/feed"
	}
}
