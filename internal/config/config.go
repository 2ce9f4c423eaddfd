package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/dongle-server/dongle-server/internal/ami"
	"github.com/dongle-server/dongle-server/internal/models"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Trace     TraceConfig     `yaml:"trace"`
	AMI       AMIConfig       `yaml:"ami"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Users     []models.User   `yaml:"users"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// MQTTConfig represents the home-automation broker the forwarder publishes to
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// WebhookConfig represents the HTTP endpoint dongle events are posted to
type WebhookConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers"`
	Timeout  time.Duration     `yaml:"timeout"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TraceConfig enables span output
type TraceConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AMIConfig represents the Asterisk manager connection
type AMIConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username"`
	Secret         string        `yaml:"secret"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	LoginTimeout   time.Duration `yaml:"login_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// DiscoveryConfig represents device discovery and state polling
type DiscoveryConfig struct {
	Interval      time.Duration `yaml:"interval"`
	StateInterval time.Duration `yaml:"state_interval"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
}

// BridgeConfig represents the bridge daemon
type BridgeConfig struct {
	MetricsAddr   string        `yaml:"metrics_addr"`
	StateCacheTTL time.Duration `yaml:"state_cache_ttl"`
}

// Load reads the configuration file, applies environment overrides and
// defaults, and validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply environment overrides
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if host := os.Getenv("AMI_HOST"); host != "" {
		c.AMI.Host = host
	}

	if port := os.Getenv("AMI_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("parse AMI_PORT: %w", err)
		}
		c.AMI.Port = p
	}

	if user := os.Getenv("AMI_USERNAME"); user != "" {
		c.AMI.Username = user
	}

	if secret := os.Getenv("AMI_SECRET"); secret != "" {
		c.AMI.Secret = secret
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
		c.MQTT.Enabled = true
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "dongle-server"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if len(c.API.AllowedOrigins) == 0 {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.API.RequestTimeout == 0 {
		c.API.RequestTimeout = 30 * time.Second
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.NATS.RequestTimeout == 0 {
		c.NATS.RequestTimeout = 15 * time.Second
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "dongle-server"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "dongle"
	}
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = 1
	}

	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = 10 * time.Second
	}

	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.AMI.Port == 0 {
		c.AMI.Port = ami.DefaultPort
	}
	if c.AMI.ConnectTimeout == 0 {
		c.AMI.ConnectTimeout = ami.DefaultConnectTimeout
	}
	if c.AMI.LoginTimeout == 0 {
		c.AMI.LoginTimeout = ami.DefaultLoginTimeout
	}
	if c.AMI.CommandTimeout == 0 {
		c.AMI.CommandTimeout = ami.DefaultCommandTimeout
	}

	if c.Discovery.Interval == 0 {
		c.Discovery.Interval = time.Hour
	}
	if c.Discovery.StateInterval == 0 {
		c.Discovery.StateInterval = time.Minute
	}
	if c.Discovery.BackoffMax == 0 {
		c.Discovery.BackoffMax = 5 * time.Minute
	}

	if c.Bridge.MetricsAddr == "" {
		c.Bridge.MetricsAddr = ":9108"
	}
	if c.Bridge.StateCacheTTL == 0 {
		c.Bridge.StateCacheTTL = 2 * c.Discovery.StateInterval
	}
}

// Validate checks values that have no usable default
func (c *Config) Validate() error {
	var errs []error
	if c.AMI.Host == "" {
		errs = append(errs, errors.New("ami.host is required"))
	}
	if c.AMI.Port <= 0 || c.AMI.Port > 65535 {
		errs = append(errs, fmt.Errorf("ami.port %d out of range", c.AMI.Port))
	}
	if c.AMI.CommandTimeout > c.AMI.LoginTimeout {
		errs = append(errs, errors.New("ami.command_timeout must not exceed ami.login_timeout"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d out of range", c.MQTT.QoS))
	}
	for i, u := range c.Users {
		if u.Email == "" || u.PasswordHash == "" {
			errs = append(errs, fmt.Errorf("users[%d]: email and password_hash are required", i))
		}
	}
	return errors.Join(errs...)
}

// SessionConfig returns the AMI session parameters
func (c *AMIConfig) SessionConfig() ami.Config {
	return ami.Config{
		Host:           c.Host,
		Port:           c.Port,
		Username:       c.Username,
		Secret:         c.Secret,
		ConnectTimeout: c.ConnectTimeout,
		LoginTimeout:   c.LoginTimeout,
		CommandTimeout: c.CommandTimeout,
	}
}

// LogSummary writes the effective configuration without secrets
func (c *Config) LogSummary() {
	log.Info().
		Str("server", c.Server.Name).
		Str("version", c.Server.Version).
		Str("ami", fmt.Sprintf("%s:%d", c.AMI.Host, c.AMI.Port)).
		Str("ami_user", c.AMI.Username).
		Dur("command_timeout", c.AMI.CommandTimeout).
		Dur("discovery_interval", c.Discovery.Interval).
		Dur("state_interval", c.Discovery.StateInterval).
		Str("nats", c.NATS.URL).
		Bool("mqtt", c.MQTT.Enabled).
		Bool("webhook", c.Webhook.Endpoint != "").
		Int("users", len(c.Users)).
		Msg("Configuration loaded")
}
