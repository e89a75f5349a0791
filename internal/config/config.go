package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TrustMode selects how the gateway's TLS certificate is verified.
type TrustMode string

const (
	// TrustSystem verifies against the system CA pool.
	TrustSystem TrustMode = "system"
	// TrustCustom verifies against a PEM CA bundle from CAFile.
	TrustCustom TrustMode = "custom"
	// TrustInsecure skips verification. Logged as a warning at startup.
	TrustInsecure TrustMode = "insecure"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Freebox FreeboxConfig `yaml:"freebox"`
	Poll    PollConfig    `yaml:"poll"`
	API     APIConfig     `yaml:"api"`
	JWT     JWTConfig     `yaml:"jwt"`
	Admin   AdminConfig   `yaml:"admin"`
	Storage StorageConfig `yaml:"storage"`
	NATS    NATSConfig    `yaml:"nats"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig represents server identity configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// FreeboxConfig represents the gateway connection configuration
type FreeboxConfig struct {
	Host       string    `yaml:"host"`
	Port       int       `yaml:"port"`
	APIVersion string    `yaml:"api_version"`
	TrustMode  TrustMode `yaml:"trust_mode"`
	CAFile     string    `yaml:"ca_file"`

	AppID      string `yaml:"app_id"`
	AppName    string `yaml:"app_name"`
	AppVersion string `yaml:"app_version"`
	DeviceName string `yaml:"device_name"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// PollConfig represents the poll coordinator configuration
type PollConfig struct {
	Interval       time.Duration `yaml:"interval"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}

// APIConfig represents the local REST API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// JWTConfig represents JWT configuration for the local API
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// AdminConfig represents the bootstrap admin user
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StorageConfig represents credential/user storage configuration
type StorageConfig struct {
	// Backend is "file" or "postgres".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
}

// NATSConfig represents optional NATS forwarding configuration
type NATSConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
}

// MQTTConfig represents optional MQTT forwarding configuration
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	TLS         bool   `yaml:"tls"`
	Retain      bool   `yaml:"retain"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("FREEBOX_HOST"); host != "" {
		c.Freebox.Host = host
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Storage.DSN = dsn
		c.Storage.Backend = "postgres"
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if mqttURL := os.Getenv("MQTT_BROKER_URL"); mqttURL != "" {
		c.MQTT.BrokerURL = mqttURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// setDefaults fills unset fields with working defaults
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "freebox-bridge"
	}

	if c.Freebox.Port == 0 {
		c.Freebox.Port = 443
	}
	if c.Freebox.APIVersion == "" {
		c.Freebox.APIVersion = "v6"
	}
	if c.Freebox.TrustMode == "" {
		c.Freebox.TrustMode = TrustSystem
	}
	if c.Freebox.AppID == "" {
		c.Freebox.AppID = "freebox-bridge"
	}
	if c.Freebox.AppName == "" {
		c.Freebox.AppName = "Freebox Bridge"
	}
	if c.Freebox.AppVersion == "" {
		c.Freebox.AppVersion = c.Server.Version
	}
	if c.Freebox.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "freebox-bridge"
		}
		c.Freebox.DeviceName = hostname
	}
	if c.Freebox.RequestTimeout == 0 {
		c.Freebox.RequestTimeout = 10 * time.Second
	}

	if c.Poll.Interval == 0 {
		c.Poll.Interval = 10 * time.Second
	}
	if c.Poll.CommandTimeout == 0 {
		c.Poll.CommandTimeout = 30 * time.Second
	}
	if c.Poll.RetryAttempts == 0 {
		c.Poll.RetryAttempts = 3
	}
	if c.Poll.RetryBackoff == 0 {
		c.Poll.RetryBackoff = 500 * time.Millisecond
	}

	if c.API.Port == 0 {
		c.API.Port = 8099
	}

	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "freebox-bridge.json"
	}

	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "freebox"
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "freebox"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects configurations the bridge cannot run with
func (c *Config) Validate() error {
	if c.Freebox.Host == "" {
		return fmt.Errorf("freebox.host is required")
	}

	switch c.Freebox.TrustMode {
	case TrustSystem, TrustInsecure:
	case TrustCustom:
		if c.Freebox.CAFile == "" {
			return fmt.Errorf("freebox.ca_file is required with trust_mode custom")
		}
	default:
		return fmt.Errorf("invalid freebox.trust_mode: %s", c.Freebox.TrustMode)
	}

	switch c.Storage.Backend {
	case "file":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required with backend postgres")
		}
	default:
		return fmt.Errorf("invalid storage.backend: %s", c.Storage.Backend)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}

	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required when mqtt is enabled")
	}

	return nil
}
