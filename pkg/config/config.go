package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"Flowcast/pkg/util"
)

// Location pins a store location for the weather and holiday providers.
type Location struct {
	Lat     float64 `yaml:"lat"`
	Lon     float64 `yaml:"lon"`
	Country string  `yaml:"country"`
}

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Storage struct {
		// Type selects the lock/cart record backend: "memory" or "redis".
		Type      string        `yaml:"type"`
		RecordTTL time.Duration `yaml:"record_ttl"`
	} `yaml:"storage"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Inventory struct {
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url"`
		Products       []string      `yaml:"products"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"inventory"`
	Forecast struct {
		Model            string        `yaml:"model"` // "seasonal" or "linear"
		MinMultiplier    float64       `yaml:"min_multiplier"`
		Z                float64       `yaml:"z"`
		HorizonGrowth    float64       `yaml:"horizon_growth"`
		VolatilityWindow int           `yaml:"volatility_window"`
		VolatilityFloor  float64       `yaml:"volatility_floor"`
		MinHistory       int           `yaml:"min_history"`
		HistoryWindow    time.Duration `yaml:"history_window"`
		RetryMax         int           `yaml:"retry_max"`
		RetryBackoff     time.Duration `yaml:"retry_backoff"`
		Linear           struct {
			Version      string             `yaml:"version"`
			Intercept    float64            `yaml:"intercept"`
			Coefficients map[string]float64 `yaml:"coefficients"`
		} `yaml:"linear"`
	} `yaml:"forecast"`
	Lock struct {
		TTL           time.Duration `yaml:"ttl"`
		SweepSchedule string        `yaml:"sweep_schedule"` // cron expression
	} `yaml:"lock"`
	Weather struct {
		BaseURL  string        `yaml:"base_url"`
		Timeout  time.Duration `yaml:"timeout"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"weather"`
	Holiday struct {
		BaseURL  string        `yaml:"base_url"`
		APIKey   string        `yaml:"api_key"`
		Timeout  time.Duration `yaml:"timeout"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"holiday"`
	Locations map[string]Location `yaml:"locations"`
	Redis     struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("SERVER_PORT"); v != "" {
		c.Server.Port = util.ParseIntDefault(v, c.Server.Port)
	}
	if v := os.Getenv("INVENTORY_API_KEY"); v != "" {
		c.Inventory.APIKey = v
	}
	if v := os.Getenv("PRODUCTS"); v != "" {
		c.Inventory.Products = strings.Split(v, ",")
	}
	if v := os.Getenv("STORAGE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("HOLIDAY_API_KEY"); v != "" {
		c.Holiday.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Storage.Type == "" {
		return fmt.Errorf("storage.type is required")
	}
	if c.Storage.Type != "memory" && c.Storage.Type != "redis" {
		return fmt.Errorf("storage.type must be 'memory' or 'redis', got '%s'", c.Storage.Type)
	}
	if c.Storage.Type == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("storage.type 'redis' requires redis.enabled")
	}
	if c.Forecast.Model != "" && c.Forecast.Model != "seasonal" && c.Forecast.Model != "linear" {
		return fmt.Errorf("forecast.model must be 'seasonal' or 'linear', got '%s'", c.Forecast.Model)
	}
	if c.Forecast.Model == "linear" && len(c.Forecast.Linear.Coefficients) == 0 {
		return fmt.Errorf("forecast.model 'linear' requires forecast.linear.coefficients")
	}
	for name, loc := range c.Locations {
		if loc.Country == "" {
			return fmt.Errorf("locations.%s.country is required", name)
		}
	}
	return nil
}
