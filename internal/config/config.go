package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PCoreConfig holds the single-threaded coordinator loop settings.
type PCoreConfig struct {
	LoopInterval           time.Duration `yaml:"loop_interval"`            // Target idle-yield interval (default: 100us)
	VMHeartbeatTimeout     time.Duration `yaml:"vm_heartbeat_timeout"`     // VM considered dead after this silence (default: 30s)
	EngineHeartbeatTimeout time.Duration `yaml:"engine_heartbeat_timeout"` // Engine considered dead after this silence (default: 10s)
	EnginePingInterval     time.Duration `yaml:"engine_ping_interval"`     // Not read: engine pings follow dispatcher.StalenessWindow (default: 5s)
}

// IDPoolConfig holds the recycle pool capacity settings.
type IDPoolConfig struct {
	MaxProcesses int `yaml:"max_processes"` // Upper bound on concurrently registered VM processes
	MaxEngines   int `yaml:"max_engines"`    // Upper bound on concurrently registered engines
}

// DispatcherConfig holds thread dispatch policy settings.
type DispatcherConfig struct {
	CrossProcessPolicy string        `yaml:"cross_process_policy"` // fifo, shortest_first, capability_matched
	DispatchInterval   time.Duration `yaml:"dispatch_interval"`    // Not read: dispatch runs once every loop tick
	MaxDispatchRetries int           `yaml:"max_dispatch_retries"` // Bounded re-queue attempts after an engine RPC failure before ErrNoEligibleEngine
}

// EngineClientConfig holds HTTP client settings for talking to engines.
type EngineClientConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"` // Per-call timeout (default: 30s)
	MaxRetries     int           `yaml:"max_retries"`      // Bounded retry count for every engine RPC (ping, fill, generate, free_context)
	BackoffBase    time.Duration `yaml:"backoff_base"`     // Initial backoff delay
	BackoffMax     time.Duration `yaml:"backoff_max"`      // Backoff ceiling
}

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`      // Default: false
	Exporter    string  `yaml:"exporter"`     // otlp-http (alias otlp), stdout
	Endpoint    string  `yaml:"endpoint"`     // localhost:4318
	ServiceName string  `yaml:"service_name"` // parrotd
	SampleRate  float64 `yaml:"sample_rate"`  // 1.0
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `yaml:"enabled"`           // Default: true
	Namespace        string    `yaml:"namespace"`         // parrot
	HistogramBuckets []float64 `yaml:"histogram_buckets"` // Latency buckets in ms
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`            // debug, info, warn, error
	Format         string `yaml:"format"`           // text, json
	IncludeTraceID bool   `yaml:"include_trace_id"` // Correlate with traces
}

// ObservabilityConfig holds all observability-related settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// RateLimitConfig holds submit_call edge rate limiting settings.
type RateLimitConfig struct {
	Enabled   bool            `yaml:"enabled"`     // Default: false
	RedisAddr string          `yaml:"redis_addr"`  // Backing store for the token bucket; empty uses in-process fallback
	Default   TierLimitConfig `yaml:"default"`     // The single tier, applied per caller key (pid, else client IP)
}

// TierLimitConfig holds rate limit settings for a tier.
type TierLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // Token refill rate
	BurstSize         int     `yaml:"burst_size"`          // Maximum tokens (burst capacity)
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	PCore         PCoreConfig         `yaml:"pcore"`
	IDPool        IDPoolConfig        `yaml:"id_pool"`
	Dispatcher    DispatcherConfig    `yaml:"dispatcher"`
	EngineClient  EngineClientConfig  `yaml:"engine_client"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	Observability ObservabilityConfig `yaml:"observability"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PCore: PCoreConfig{
			LoopInterval:           100 * time.Microsecond,
			VMHeartbeatTimeout:     30 * time.Second,
			EngineHeartbeatTimeout: 10 * time.Second,
			EnginePingInterval:     5 * time.Second,
		},
		IDPool: IDPoolConfig{
			MaxProcesses: 4096,
			MaxEngines:   256,
		},
		Dispatcher: DispatcherConfig{
			CrossProcessPolicy: "fifo",
			DispatchInterval:   0, // driven by the PCore loop tick, not its own timer
			MaxDispatchRetries: 3,
		},
		EngineClient: EngineClientConfig{
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
			BackoffBase:    50 * time.Millisecond,
			BackoffMax:     2 * time.Second,
		},
		Daemon: DaemonConfig{
			HTTPAddr: ":9494",
			LogLevel: "info",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "parrotd",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "parrot",
				HistogramBuckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:   false,
			RedisAddr: "",
			Default: TierLimitConfig{
				RequestsPerSecond: 50,
				BurstSize:         100,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file, starting from defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("PARROT_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("PARROT_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}

	if v := os.Getenv("PARROT_PCORE_LOOP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PCore.LoopInterval = d
		}
	}
	if v := os.Getenv("PARROT_VM_HEARTBEAT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PCore.VMHeartbeatTimeout = d
		}
	}
	if v := os.Getenv("PARROT_ENGINE_HEARTBEAT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PCore.EngineHeartbeatTimeout = d
		}
	}
	if v := os.Getenv("PARROT_ENGINE_PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PCore.EnginePingInterval = d
		}
	}

	if v := os.Getenv("PARROT_MAX_PROCESSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IDPool.MaxProcesses = n
		}
	}
	if v := os.Getenv("PARROT_MAX_ENGINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IDPool.MaxEngines = n
		}
	}

	if v := os.Getenv("PARROT_DISPATCHER_POLICY"); v != "" {
		cfg.Dispatcher.CrossProcessPolicy = v
	}

	if v := os.Getenv("PARROT_ENGINE_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.EngineClient.RequestTimeout = d
		}
	}
	if v := os.Getenv("PARROT_ENGINE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EngineClient.MaxRetries = n
		}
	}

	// Observability overrides
	if v := os.Getenv("PARROT_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("PARROT_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("PARROT_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("PARROT_TRACING_SERVICE_NAME"); v != "" {
		cfg.Observability.Tracing.ServiceName = v
	}
	if v := os.Getenv("PARROT_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("PARROT_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("PARROT_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("PARROT_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("PARROT_LOG_INCLUDE_TRACE_ID"); v != "" {
		cfg.Observability.Logging.IncludeTraceID = parseBool(v)
	}

	// Rate limit overrides
	if v := os.Getenv("PARROT_RATELIMIT_ENABLED"); v != "" {
		cfg.RateLimit.Enabled = parseBool(v)
	}
	if v := os.Getenv("PARROT_RATELIMIT_REDIS_ADDR"); v != "" {
		cfg.RateLimit.RedisAddr = v
	}
	if v := os.Getenv("PARROT_RATELIMIT_DEFAULT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.Default.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("PARROT_RATELIMIT_DEFAULT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Default.BurstSize = n
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
