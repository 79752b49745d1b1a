package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "chargeops/backend/libs/config"
)

const defaultPort = "8086"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config defines station-ops configuration.
type Config struct {
	HTTP struct {
		Port                   string `yaml:"port" env:"STATION_OPS_HTTP_PORT"`
		ShutdownTimeoutSeconds int    `yaml:"shutdownTimeoutSeconds" env:"STATION_OPS_HTTP_SHUTDOWN_TIMEOUT"`
	} `yaml:"http"`
	JWT struct {
		Secret string `yaml:"secret" env:"STATION_OPS_JWT_SECRET"`
	} `yaml:"jwt"`
	Storage struct {
		Driver string `yaml:"driver" env:"STATION_OPS_STORAGE_DRIVER"`
		DSN    string `yaml:"dsn" env:"STATION_OPS_POSTGRES_DSN"`
	} `yaml:"storage"`
	Redis struct {
		Addr     string `yaml:"addr" env:"STATION_OPS_REDIS_ADDR"`
		Password string `yaml:"password" env:"STATION_OPS_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"STATION_OPS_REDIS_DB"`
		PoolSize int    `yaml:"poolSize" env:"STATION_OPS_REDIS_POOL_SIZE"`
		TTL      int    `yaml:"ttlSeconds" env:"STATION_OPS_REDIS_TTL"`
	} `yaml:"redis"`
	AMQP struct {
		URL      string `yaml:"url" env:"STATION_OPS_AMQP_URL"`
		Exchange string `yaml:"exchange" env:"STATION_OPS_AMQP_EXCHANGE"`
	} `yaml:"amqp"`
	Sessions struct {
		TimezoneOffsetHours int     `yaml:"timezoneOffsetHours" env:"STATION_OPS_TZ_OFFSET_HOURS"`
		MinLeadMinutes      int     `yaml:"minLeadMinutes" env:"STATION_OPS_MIN_LEAD_MINUTES"`
		TaxRate             float64 `yaml:"taxRate" env:"STATION_OPS_TAX_RATE"`
		DefaultUnitPrice    float64 `yaml:"defaultUnitPrice" env:"STATION_OPS_DEFAULT_UNIT_PRICE"`
		Currency            string  `yaml:"currency" env:"STATION_OPS_CURRENCY"`
		QRTTLSeconds        int     `yaml:"qrTtlSeconds" env:"STATION_OPS_QR_TTL"`
	} `yaml:"sessions"`
	Control struct {
		RestartDelaySeconds int `yaml:"restartDelaySeconds" env:"STATION_OPS_RESTART_DELAY"`
	} `yaml:"control"`
	Concurrency struct {
		LockWaitMillis   int `yaml:"lockWaitMillis" env:"STATION_OPS_LOCK_WAIT_MS"`
		OpTimeoutSeconds int `yaml:"opTimeoutSeconds" env:"STATION_OPS_OP_TIMEOUT"`
	} `yaml:"concurrency"`
	Cache struct {
		MetricsTTLSeconds int `yaml:"metricsTtlSeconds" env:"STATION_OPS_METRICS_TTL"`
	} `yaml:"cache"`
	WebSocket struct {
		PingSeconds         int `yaml:"pingSeconds" env:"STATION_OPS_WS_PING"`
		WriteTimeoutSeconds int `yaml:"writeTimeoutSeconds" env:"STATION_OPS_WS_WRITE_TIMEOUT"`
	} `yaml:"websocket"`
}

func defaults() *Config {
	cfg := &Config{}
	cfg.HTTP.Port = defaultPort
	cfg.HTTP.ShutdownTimeoutSeconds = 10
	cfg.Storage.Driver = DriverMemory
	cfg.Redis.TTL = 86400
	cfg.AMQP.Exchange = "station-ops.events"
	cfg.Sessions.TimezoneOffsetHours = 7
	cfg.Sessions.MinLeadMinutes = 30
	cfg.Sessions.DefaultUnitPrice = 1
	cfg.Sessions.Currency = "VND"
	cfg.Sessions.QRTTLSeconds = 900
	cfg.Control.RestartDelaySeconds = 5
	cfg.Concurrency.LockWaitMillis = 2000
	cfg.Concurrency.OpTimeoutSeconds = 10
	cfg.Cache.MetricsTTLSeconds = 5
	cfg.WebSocket.PingSeconds = 30
	cfg.WebSocket.WriteTimeoutSeconds = 10
	return cfg
}

// Load reads configuration from path (CONFIG_FILE when empty) and env overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	var err error
	if strings.TrimSpace(path) == "" {
		err = libconfig.LoadConfig(cfg)
	} else {
		err = libconfig.LoadConfigFrom(path, cfg)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("config: database dsn required for postgres storage")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Sessions.TimezoneOffsetHours < -12 || c.Sessions.TimezoneOffsetHours > 14 {
		return fmt.Errorf("config: timezone offset %d out of range", c.Sessions.TimezoneOffsetHours)
	}
	if c.Sessions.TaxRate < 0 {
		return errors.New("config: tax rate must not be negative")
	}
	if strings.TrimSpace(c.AMQP.URL) != "" && strings.TrimSpace(c.AMQP.Exchange) == "" {
		return errors.New("config: amqp exchange required")
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = defaultPort
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c *Config) ShutdownTimeout() time.Duration {
	return seconds(c.HTTP.ShutdownTimeoutSeconds, 10*time.Second)
}

// Zone returns the fixed civil zone of the same-day booking rule.
func (c *Config) Zone() *time.Location {
	offset := c.Sessions.TimezoneOffsetHours
	name := fmt.Sprintf("UTC%+d", offset)
	if offset == 0 {
		name = "UTC"
	}
	return time.FixedZone(name, offset*60*60)
}

// MinLead returns the minimum lead time of scheduled bookings.
func (c *Config) MinLead() time.Duration {
	if c.Sessions.MinLeadMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Sessions.MinLeadMinutes) * time.Minute
}

// QRTTL returns the default lifetime of issued QR tokens.
func (c *Config) QRTTL() time.Duration {
	return seconds(c.Sessions.QRTTLSeconds, 15*time.Minute)
}

// RestartDelay returns the delay before a restarting post becomes available.
func (c *Config) RestartDelay() time.Duration {
	return seconds(c.Control.RestartDelaySeconds, 5*time.Second)
}

// LockWait returns the row lock wait bound.
func (c *Config) LockWait() time.Duration {
	if c.Concurrency.LockWaitMillis <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Concurrency.LockWaitMillis) * time.Millisecond
}

// OpTimeout returns the per-operation timeout. Zero disables it.
func (c *Config) OpTimeout() time.Duration {
	return seconds(c.Concurrency.OpTimeoutSeconds, 0)
}

// MetricsTTL returns the capacity cache lifetime.
func (c *Config) MetricsTTL() time.Duration {
	return seconds(c.Cache.MetricsTTLSeconds, 5*time.Second)
}

// ActiveSessionTTL returns ttl as duration.
func (c *Config) ActiveSessionTTL() time.Duration {
	return seconds(c.Redis.TTL, 24*time.Hour)
}

// PingInterval returns the websocket ping period.
func (c *Config) PingInterval() time.Duration {
	return seconds(c.WebSocket.PingSeconds, 30*time.Second)
}

// WriteTimeout returns the websocket write deadline.
func (c *Config) WriteTimeout() time.Duration {
	return seconds(c.WebSocket.WriteTimeoutSeconds, 10*time.Second)
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
