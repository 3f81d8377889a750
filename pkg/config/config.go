package config

import (
	"fmt"
	"os"
	"time"

	"liveroom/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Backend struct {
		BaseURL        string        `yaml:"base_url"`
		APIKey         string        `yaml:"api_key"`
		GatewayURL     string        `yaml:"gateway_url"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		MaxRetries     int           `yaml:"max_retries"`
	} `yaml:"backend"`

	Transport struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		PortRangeMin   uint16        `yaml:"port_range_min"`
		PortRangeMax   uint16        `yaml:"port_range_max"`
	} `yaml:"transport"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"`
	} `yaml:"rate_limiting"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret    string        `yaml:"jwt_secret"`
		RoomTokenTTL time.Duration `yaml:"room_token_ttl"`
	} `yaml:"auth"`

	Session struct {
		CallRingTimeout    time.Duration `yaml:"call_ring_timeout"`
		HostGracePeriod    time.Duration `yaml:"host_grace_period"`
		QualityThreshold   time.Duration `yaml:"quality_threshold"`
		MessagesPerSecond  float64       `yaml:"messages_per_second"`
		MessageBurst       int           `yaml:"message_burst"`
		NoiseFilterEnabled bool          `yaml:"noise_filter_enabled"`
	} `yaml:"session"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must not be empty")
	}
	if err := validation.ValidateURL(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if c.Backend.GatewayURL != "" {
		if err := validation.ValidateURL(c.Backend.GatewayURL); err != nil {
			return fmt.Errorf("backend.gateway_url: %w", err)
		}
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("backend.request_timeout must be > 0")
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("backend.max_retries must be >= 0")
	}

	if c.Redis.Address == "" {
		return fmt.Errorf("redis.address must not be empty")
	}
	if c.Redis.PoolSize <= 0 {
		return fmt.Errorf("redis.pool_size must be > 0")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.RoomTokenTTL <= 0 {
		return fmt.Errorf("auth.room_token_ttl must be > 0")
	}

	if c.Session.CallRingTimeout <= 0 {
		return fmt.Errorf("session.call_ring_timeout must be > 0")
	}
	if c.Session.HostGracePeriod <= 0 {
		return fmt.Errorf("session.host_grace_period must be > 0")
	}
	if c.Session.QualityThreshold <= 0 {
		return fmt.Errorf("session.quality_threshold must be > 0")
	}
	if c.Session.MessagesPerSecond <= 0 {
		return fmt.Errorf("session.messages_per_second must be > 0")
	}
	if c.Session.MessageBurst <= 0 {
		return fmt.Errorf("session.message_burst must be > 0")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when enabled")
		}
	}

	if c.Transport.PortRangeMax < c.Transport.PortRangeMin {
		return fmt.Errorf("transport.port_range_max must be >= transport.port_range_min")
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Tracing.Enabled {
		if c.Tracing.ServiceName == "" {
			return fmt.Errorf("tracing.service_name must not be empty when tracing is enabled")
		}
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing is enabled")
		}
		if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in (0, 1]")
		}
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file falls back to defaults.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Backend.BaseURL = "http://localhost:9000"
	cfg.Backend.GatewayURL = "https://localhost:7880"
	cfg.Backend.RequestTimeout = 10 * time.Second
	cfg.Backend.MaxRetries = 3

	cfg.Transport.ConnectTimeout = 15 * time.Second

	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100
	cfg.RateLimiting.MaxConcurrent = 256

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.RoomTokenTTL = 6 * time.Hour

	cfg.Session.CallRingTimeout = 60 * time.Second
	cfg.Session.HostGracePeriod = 30 * time.Second
	cfg.Session.QualityThreshold = 5 * time.Second
	cfg.Session.MessagesPerSecond = 10
	cfg.Session.MessageBurst = 20
	cfg.Session.NoiseFilterEnabled = false

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "liveroom"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("LIVEROOM_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if url := os.Getenv("LIVEROOM_BACKEND_URL"); url != "" {
		c.Backend.BaseURL = url
	}
	if addr := os.Getenv("LIVEROOM_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if level := os.Getenv("LIVEROOM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("LIVEROOM_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if key := os.Getenv("LIVEROOM_BACKEND_API_KEY"); key != "" {
		c.Backend.APIKey = key
	}
	if url := os.Getenv("LIVEROOM_GATEWAY_URL"); url != "" {
		c.Backend.GatewayURL = url
	}
}
