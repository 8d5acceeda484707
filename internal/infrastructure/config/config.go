package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend modes.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config is the root configuration structure for the sidecar host.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Security  SecurityConfig  `yaml:"security"`
}

// BackendConfig describes how the backend sidecar is launched, probed and logged.
type BackendConfig struct {
	// Mode is "development" or "production". Empty means the build default.
	Mode string `yaml:"mode"`

	// Host and Port are passed to the backend and used for health probes.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// HealthPath is the readiness endpoint path.
	HealthPath string `yaml:"health_path"`

	// HealthHosts are the equivalent host forms probed on every poll, in order.
	// The loopback literal and its hostname alias are both tried because some
	// local resolvers disagree about which one the backend is reachable on.
	HealthHosts []string `yaml:"health_hosts"`

	ReadyTimeout   time.Duration `yaml:"ready_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ProjectDir is the source checkout used in development mode.
	// Default: current working directory.
	ProjectDir string `yaml:"project_dir"`

	// BackendDir is the backend source directory, relative to ProjectDir.
	BackendDir string `yaml:"backend_dir"`

	// ResourceDir holds bundled binaries in production mode.
	// Default: directory of the host executable.
	ResourceDir string `yaml:"resource_dir"`

	// RunnerCandidates overrides the package runner search list.
	// "~/" is expanded to the user's home directory.
	RunnerCandidates []string `yaml:"runner_candidates"`

	// EntryPoint is the ASGI application passed to uvicorn.
	EntryPoint string `yaml:"entry_point"`

	// LogDir overrides the platform log directory.
	LogDir string `yaml:"log_dir"`

	LogFile       string `yaml:"log_file"`
	AppIdentifier string `yaml:"app_identifier"`

	TailLines int `yaml:"tail_lines"`
	TailChars int `yaml:"tail_chars"`

	// WatchLog pushes log-updated events to the frontend.
	WatchLog bool `yaml:"watch_log"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig contains SQLite settings for the launch history.
// An empty path disables the history.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains the frontend-facing HTTP server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket settings. Intervals are in seconds.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// MQTTConfig contains the optional MQTT event mirror settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains the optional launch metrics settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// SecurityConfig contains frontend authentication settings.
type SecurityConfig struct {
	// AuthEnabled requires a bearer token on every backend route.
	AuthEnabled bool `yaml:"auth_enabled"`

	// JWTSecret signs the session token. Empty means a random per-run secret.
	JWTSecret string `yaml:"jwt_secret"`

	// TokenFile receives the session token (mode 0600) for the local GUI.
	TokenFile string `yaml:"token_file"`

	// TokenTTL is the session token lifetime in minutes. 0 means no expiry.
	TokenTTL int `yaml:"token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern ALPROJ_SECTION_KEY,
// for example ALPROJ_BACKEND_PORT or ALPROJ_DATABASE_PATH.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

// LoadDefaults returns the built-in configuration with environment overrides.
// Used when the host runs without a config file, which is the normal case
// for a packaged desktop install.
func LoadDefaults() (*Config, error) {
	return finish(defaultConfig())
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config matching the desktop host's conventions.
func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Host:           "127.0.0.1",
			Port:           8765,
			HealthPath:     "/api/health",
			HealthHosts:    []string{"127.0.0.1", "localhost"},
			ReadyTimeout:   180 * time.Second,
			PollInterval:   500 * time.Millisecond,
			RequestTimeout: 5 * time.Second,
			BackendDir:     "backend",
			EntryPoint:     "app.main:app",
			LogFile:        "backend-sidecar.log",
			AppIdentifier:  "alproj-gui",
			TailLines:      80,
			TailChars:      4000,
			WatchLog:       true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Database: DatabaseConfig{
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8770,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "alproj-host",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     50,
			FlushInterval: 10,
		},
		Security: SecurityConfig{
			AuthEnabled: true,
		},
	}
}

// applyEnvOverrides applies ALPROJ_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	// Backend
	if v := os.Getenv("ALPROJ_BACKEND_MODE"); v != "" {
		cfg.Backend.Mode = v
	}
	if v := os.Getenv("ALPROJ_BACKEND_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Backend.Port = port
		}
	}
	if v := os.Getenv("ALPROJ_BACKEND_PROJECT_DIR"); v != "" {
		cfg.Backend.ProjectDir = v
	}
	if v := os.Getenv("ALPROJ_BACKEND_RESOURCE_DIR"); v != "" {
		cfg.Backend.ResourceDir = v
	}
	if v := os.Getenv("ALPROJ_BACKEND_LOG_DIR"); v != "" {
		cfg.Backend.LogDir = v
	}

	// Logging
	if v := os.Getenv("ALPROJ_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Database
	if v := os.Getenv("ALPROJ_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("ALPROJ_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ALPROJ_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("ALPROJ_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ALPROJ_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ALPROJ_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("ALPROJ_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("ALPROJ_JWT_SECRET"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("ALPROJ_TOKEN_FILE"); v != "" {
		cfg.Security.TokenFile = v
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	b := c.Backend
	switch b.Mode {
	case "", ModeDevelopment, ModeProduction:
	default:
		errs = append(errs, fmt.Sprintf("backend.mode %q must be %q or %q", b.Mode, ModeDevelopment, ModeProduction))
	}
	if b.Host == "" {
		errs = append(errs, "backend.host is required")
	}
	if b.Port < 1 || b.Port > 65535 {
		errs = append(errs, "backend.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(b.HealthPath, "/") {
		errs = append(errs, "backend.health_path must start with /")
	}
	if len(b.HealthHosts) == 0 {
		errs = append(errs, "backend.health_hosts must list at least one host")
	}
	if b.ReadyTimeout <= 0 {
		errs = append(errs, "backend.ready_timeout must be positive")
	}
	if b.PollInterval <= 0 {
		errs = append(errs, "backend.poll_interval must be positive")
	}
	if b.RequestTimeout <= 0 {
		errs = append(errs, "backend.request_timeout must be positive")
	}
	if b.LogFile == "" {
		errs = append(errs, "backend.log_file is required")
	}
	if b.AppIdentifier == "" {
		errs = append(errs, "backend.app_identifier is required")
	}
	if b.TailLines < 1 || b.TailChars < 1 {
		errs = append(errs, "backend.tail_lines and backend.tail_chars must be positive")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	} else if c.API.Port == b.Port {
		errs = append(errs, "api.port must differ from backend.port")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// An explicit secret must be strong; an empty one is replaced at runtime.
	const minJWTSecretLength = 32
	if s := c.Security.JWTSecret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt_secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// HealthURLs returns the readiness URLs in probe order.
func (b BackendConfig) HealthURLs() []string {
	urls := make([]string, 0, len(b.HealthHosts))
	for _, h := range b.HealthHosts {
		urls = append(urls, fmt.Sprintf("http://%s:%d%s", h, b.Port, b.HealthPath))
	}
	return urls
}
