package blockctl

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default connection parameters. The controller exposes the control
// protocol and the data stream on two separate TCP ports.
const (
	DefaultControlPort = 8888
	DefaultDataPort    = 8889

	DefaultConnectTimeout  = 5 * time.Second
	DefaultExchangeTimeout = 10 * time.Second
	DefaultMaxConns        = 4
)

// Config holds the connection parameters for one controller session.
// The zero value is not usable; start from DefaultConfig.
type Config struct {
	// Host is the controller hostname or IP address. Required.
	Host string

	// ControlPort is the TCP port of the control protocol.
	// Defaults to DefaultControlPort.
	ControlPort int

	// DataPort is the TCP port of the capture data stream.
	// Defaults to DefaultDataPort.
	DataPort int

	// ConnectTimeout bounds socket establishment.
	ConnectTimeout time.Duration

	// ExchangeTimeout bounds a single control exchange when the
	// caller's context carries no deadline of its own. Zero means no
	// limit.
	ExchangeTimeout time.Duration

	// MaxConns is the maximum number of pooled control connections a
	// Client opens. Bulk introspection parallelizes across them.
	MaxConns int32

	// MaxConnLifetime retires pooled connections older than this.
	// Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime retires pooled connections idle longer than
	// this. Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often a Client probes idle pooled
	// connections with an identity query. Zero disables probing.
	HealthCheckInterval time.Duration

	// Pool selects the control connection pool implementation.
	// Nil uses the channel-based pool.
	Pool func(constructor func(ctx context.Context) (*ControlConnection, error), maxSize int32) (Pool, error)

	// NewCircuitBreaker, when set, wraps every exchange the Client
	// performs in a circuit breaker. Nil disables breaking.
	NewCircuitBreaker func(host string) CircuitBreaker

	// Dialer overrides the net.Dialer used for both connections.
	Dialer *net.Dialer
}

// DefaultConfig returns a Config for host with documented defaults.
func DefaultConfig(host string) Config {
	return Config{
		Host:            host,
		ControlPort:     DefaultControlPort,
		DataPort:        DefaultDataPort,
		ConnectTimeout:  DefaultConnectTimeout,
		ExchangeTimeout: DefaultExchangeTimeout,
		MaxConns:        DefaultMaxConns,
	}
}

// yamlConfig mirrors the file form of Config. Durations are Go duration
// strings ("5s", "1m30s"); YAML has no native duration scalar.
type yamlConfig struct {
	Host                string `yaml:"host"`
	ControlPort         int    `yaml:"control_port"`
	DataPort            int    `yaml:"data_port"`
	ConnectTimeout      string `yaml:"connect_timeout"`
	ExchangeTimeout     string `yaml:"exchange_timeout"`
	MaxConns            int32  `yaml:"max_conns"`
	MaxConnLifetime     string `yaml:"max_conn_lifetime"`
	MaxConnIdleTime     string `yaml:"max_conn_idle_time"`
	HealthCheckInterval string `yaml:"health_check_interval"`
}

// LoadConfig reads a YAML config file and fills in defaults for any
// omitted parameter.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("blockctl: reading config: %w", err)
	}

	var file yamlConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("blockctl: parsing config %s: %w", path, err)
	}
	if file.Host == "" {
		return Config{}, fmt.Errorf("blockctl: config %s: host is required", path)
	}

	cfg := DefaultConfig(file.Host)
	if file.ControlPort != 0 {
		cfg.ControlPort = file.ControlPort
	}
	if file.DataPort != 0 {
		cfg.DataPort = file.DataPort
	}
	if file.MaxConns != 0 {
		cfg.MaxConns = file.MaxConns
	}

	durations := []struct {
		value string
		name  string
		dst   *time.Duration
	}{
		{file.ConnectTimeout, "connect_timeout", &cfg.ConnectTimeout},
		{file.ExchangeTimeout, "exchange_timeout", &cfg.ExchangeTimeout},
		{file.MaxConnLifetime, "max_conn_lifetime", &cfg.MaxConnLifetime},
		{file.MaxConnIdleTime, "max_conn_idle_time", &cfg.MaxConnIdleTime},
		{file.HealthCheckInterval, "health_check_interval", &cfg.HealthCheckInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("blockctl: config %s: bad %s: %w", path, d.name, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

// ControlAddr returns the host:port of the control interface.
func (c Config) ControlAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.ControlPort))
}

// DataAddr returns the host:port of the data interface.
func (c Config) DataAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.DataPort))
}

func (c Config) dialer() *net.Dialer {
	if c.Dialer != nil {
		return c.Dialer
	}
	return &net.Dialer{Timeout: c.ConnectTimeout}
}
