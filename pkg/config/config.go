package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Control struct {
		Port              int           `yaml:"port"` // 0 disables the channel
		MaxClients        int           `yaml:"max_clients"`
		PollInterval      time.Duration `yaml:"poll_interval"`
		KeepAliveIdle     time.Duration `yaml:"keepalive_idle"`
		KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
		KeepAliveCount    int           `yaml:"keepalive_count"`
	} `yaml:"control"`

	Media struct {
		Port          int           `yaml:"port"` // 0 disables the channel
		Boundary      string        `yaml:"boundary"`
		FrameInterval time.Duration `yaml:"frame_interval"`
		MaxSessions   int           `yaml:"max_sessions"` // 0 means unlimited
		Source        string        `yaml:"source"`       // "pattern" or "files"
		FrameDir      string        `yaml:"frame_dir"`
		Width         int           `yaml:"width"`
		Height        int           `yaml:"height"`
		Quality       int           `yaml:"quality"`
		ReadTimeout   time.Duration `yaml:"read_timeout"`
	} `yaml:"media"`

	Overlay struct {
		Enabled      bool          `yaml:"enabled"`
		MaxClients   int           `yaml:"max_clients"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		DemoInterval time.Duration `yaml:"demo_interval"` // 0 disables the demo announcer
	} `yaml:"overlay"`

	Monitoring struct {
		PrometheusEnabled  bool          `yaml:"prometheus_enabled"`
		ThroughputInterval time.Duration `yaml:"throughput_interval"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Server struct {
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Control
	if c.Control.Port < 0 || c.Control.Port > 65535 {
		return fmt.Errorf("control.port must be in [0, 65535]")
	}
	if c.Control.Port > 0 {
		if c.Control.MaxClients <= 0 {
			return fmt.Errorf("control.max_clients must be > 0")
		}
		if c.Control.PollInterval <= 0 {
			return fmt.Errorf("control.poll_interval must be > 0")
		}
		if c.Control.KeepAliveIdle <= 0 || c.Control.KeepAliveInterval <= 0 {
			return fmt.Errorf("control keepalive idle and interval must be > 0")
		}
		if c.Control.KeepAliveCount <= 0 {
			return fmt.Errorf("control.keepalive_count must be > 0")
		}
	}

	// Media
	if c.Media.Port < 0 || c.Media.Port > 65535 {
		return fmt.Errorf("media.port must be in [0, 65535]")
	}
	if c.Media.Port > 0 {
		if c.Media.Boundary == "" {
			return fmt.Errorf("media.boundary must not be empty")
		}
		if c.Media.FrameInterval <= 0 {
			return fmt.Errorf("media.frame_interval must be > 0")
		}
		if c.Media.MaxSessions < 0 {
			return fmt.Errorf("media.max_sessions must be >= 0")
		}
		switch c.Media.Source {
		case "pattern":
			if c.Media.Width <= 0 || c.Media.Height <= 0 {
				return fmt.Errorf("media width and height must be > 0")
			}
			if c.Media.Quality < 1 || c.Media.Quality > 100 {
				return fmt.Errorf("media.quality must be in [1, 100]")
			}
		case "files":
			if c.Media.FrameDir == "" {
				return fmt.Errorf("media.frame_dir must be set when media.source=files")
			}
		default:
			return fmt.Errorf("media.source must be \"pattern\" or \"files\"")
		}
	}

	// Overlay
	if c.Overlay.Enabled {
		if c.Media.Port == 0 {
			return fmt.Errorf("overlay channel requires media.port > 0 (it shares the media server)")
		}
		if c.Overlay.MaxClients <= 0 {
			return fmt.Errorf("overlay.max_clients must be > 0")
		}
		if c.Overlay.WriteTimeout <= 0 {
			return fmt.Errorf("overlay.write_timeout must be > 0")
		}
	}

	// Monitoring
	if c.Monitoring.ThroughputInterval <= 0 {
		return fmt.Errorf("monitoring.throughput_interval must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Server
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
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

// DefaultConfig returns configuration with sane defaults. Channel defaults
// mirror the vehicle firmware this gateway fronts: control on 8080 with four
// client slots, media on 8081 at ~10 frames/sec, overlay on /ws with eight
// client slots.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Control.Port = 8080
	cfg.Control.MaxClients = 4
	cfg.Control.PollInterval = 100 * time.Millisecond
	cfg.Control.KeepAliveIdle = 5 * time.Second
	cfg.Control.KeepAliveInterval = 5 * time.Second
	cfg.Control.KeepAliveCount = 3

	cfg.Media.Port = 8081
	cfg.Media.Boundary = "123456789000000000000987654321"
	cfg.Media.FrameInterval = 100 * time.Millisecond
	cfg.Media.MaxSessions = 4
	cfg.Media.Source = "pattern"
	cfg.Media.Width = 1280
	cfg.Media.Height = 720
	cfg.Media.Quality = 80
	cfg.Media.ReadTimeout = 10 * time.Second

	cfg.Overlay.Enabled = true
	cfg.Overlay.MaxClients = 8
	cfg.Overlay.WriteTimeout = 10 * time.Second
	cfg.Overlay.DemoInterval = 0

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.ThroughputInterval = time.Second

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "roverlink"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Server.ShutdownTimeout = 30 * time.Second

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if port := os.Getenv("ROVERLINK_CONTROL_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Control.Port = p
		}
	}
	if port := os.Getenv("ROVERLINK_MEDIA_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Media.Port = p
		}
	}
	if level := os.Getenv("ROVERLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if url := os.Getenv("ROVERLINK_JAEGER_URL"); url != "" {
		c.Tracing.JaegerURL = url
	}
}
