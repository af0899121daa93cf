// Package config handles configuration loading, validation, and persistence
// for the crawlspace limbo server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultPort       = 25565
	DefaultAPIPort    = 5080
	DefaultMaxPlayers = 500
)

// Config is the root configuration structure for crawlspace.
type Config struct {
	mu   sync.RWMutex
	path string

	Settings
}

// Settings is the persisted part of Config.
type Settings struct {
	Server   ServerConfig   `json:"server"`
	World    WorldConfig    `json:"world"`
	API      APIConfig      `json:"api"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Redis    RedisConfig    `json:"redis"`
	Database DatabaseConfig `json:"database"`
	Timers   TimerConfig    `json:"timers"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig holds the game listener settings.
type ServerConfig struct {
	Address              string `json:"address"`
	Port                 int    `json:"port"`
	MaxPlayers           int    `json:"max_players"`
	MOTD                 string `json:"motd"`
	CompressionThreshold int    `json:"compression_threshold"`
	Encryption           bool   `json:"encryption"`

	// New connections accepted per IP per second; 0 disables the throttle.
	ConnectionRateLimit int `json:"connection_rate_limit"`

	// Velocity modern forwarding is enabled when the secret is non-empty.
	VelocitySecret string `json:"velocity_secret"`
}

// WorldConfig describes the world that is preloaded at startup.
type WorldConfig struct {
	Directory    string  `json:"directory"`
	SpawnX       float64 `json:"spawn_x"`
	SpawnY       float64 `json:"spawn_y"`
	SpawnZ       float64 `json:"spawn_z"`
	BorderRadius int     `json:"border_radius"`
	BlocksReport string  `json:"blocks_report"`
	Void         bool    `json:"void"`
}

// APIConfig holds the admin HTTP API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Address        string   `json:"address"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// RedisConfig holds the optional presence mirror settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Instance string `json:"instance"`
}

// DatabaseConfig holds the session audit log settings.
type DatabaseConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
	PruneTime     string `json:"prune_time"`
}

// TimerConfig holds protocol deadlines and background task intervals.
type TimerConfig struct {
	KeepAliveIntervalSec int `json:"keep_alive_interval_sec"`
	KeepAliveTimeoutSec  int `json:"keep_alive_timeout_sec"`
	LoginTimeoutSec      int `json:"login_timeout_sec"`
	HeartbeatIntervalSec int `json:"heartbeat_interval_sec"`
	SweepIntervalSec     int `json:"sweep_interval_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Core is the validated, immutable view of the configuration that the
// listener and connection state machine consume.
type Core struct {
	Address              string
	Port                 int
	MaxPlayers           int
	MOTD                 string
	WorldDir             string
	BlocksReport         string
	Void                 bool
	SpawnX               float64
	SpawnY               float64
	SpawnZ               float64
	BorderRadius         int
	CompressionThreshold int
	Encryption           bool
	VelocitySecret       []byte
	ConnectionRateLimit  int

	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	LoginTimeout      time.Duration
}

// BindAddress returns host:port for the game listener.
func (c Core) BindAddress() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{Settings: Settings{
		Server: ServerConfig{
			Address:              "[::]",
			Port:                 DefaultPort,
			MaxPlayers:           DefaultMaxPlayers,
			MOTD:                 "Limbo",
			CompressionThreshold: 256,
			ConnectionRateLimit:  10,
		},
		World: WorldConfig{
			SpawnY:       100,
			BorderRadius: 10,
		},
		API: APIConfig{
			Enabled:      true,
			Address:      "127.0.0.1",
			Port:         DefaultAPIPort,
			RateLimitRPS: 50,
		},
		MQTT: MQTTConfig{
			Port:        1883,
			TopicPrefix: "crawlspace",
		},
		Redis: RedisConfig{
			Address:  "127.0.0.1:6379",
			Instance: "default",
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "data/crawlspace.db",
			RetentionDays: 30,
			PruneTime:     "04:00",
		},
		Timers: TimerConfig{
			KeepAliveIntervalSec: 10,
			KeepAliveTimeoutSec:  15,
			LoginTimeoutSec:      5,
			HeartbeatIntervalSec: 30,
			SweepIntervalSec:     60,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg.Settings); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c.Settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// Core returns the value object handed to the protocol core.
func (c *Config) Core() Core {
	c.mu.RLock()
	defer c.mu.RUnlock()

	core := Core{
		Address:              c.Server.Address,
		Port:                 c.Server.Port,
		MaxPlayers:           c.Server.MaxPlayers,
		MOTD:                 c.Server.MOTD,
		WorldDir:             c.World.Directory,
		BlocksReport:         c.World.BlocksReport,
		Void:                 c.World.Void,
		SpawnX:               c.World.SpawnX,
		SpawnY:               c.World.SpawnY,
		SpawnZ:               c.World.SpawnZ,
		BorderRadius:         c.World.BorderRadius,
		CompressionThreshold: c.Server.CompressionThreshold,
		Encryption:           c.Server.Encryption,
		ConnectionRateLimit:  c.Server.ConnectionRateLimit,
		KeepAliveInterval:    seconds(c.Timers.KeepAliveIntervalSec, 10),
		KeepAliveTimeout:     seconds(c.Timers.KeepAliveTimeoutSec, 15),
		LoginTimeout:         seconds(c.Timers.LoginTimeoutSec, 5),
	}
	if c.Server.VelocitySecret != "" {
		core.VelocitySecret = []byte(c.Server.VelocitySecret)
	}
	return core
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

// Snapshot returns a copy of the persisted settings.
func (c *Config) Snapshot() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := c.Settings
	snap.API.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	return snap
}

// Redacted returns a snapshot with secrets blanked, for display.
func (c *Config) Redacted() Settings {
	snap := c.Snapshot()
	if snap.Server.VelocitySecret != "" {
		snap.Server.VelocitySecret = "********"
	}
	if snap.API.Token != "" {
		snap.API.Token = "********"
	}
	if snap.Redis.Password != "" {
		snap.Redis.Password = "********"
	}
	return snap
}

// UpdateField updates one field of a section by its JSON key. Changes to the
// server and world sections take effect on the next restart.
func (c *Config) UpdateField(section, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var target interface{}
	switch section {
	case "server":
		target = &c.Server
	case "world":
		target = &c.World
	case "api":
		target = &c.API
	case "mqtt":
		target = &c.MQTT
	case "redis":
		target = &c.Redis
	case "database":
		target = &c.Database
	case "timers":
		target = &c.Timers
	case "logging":
		target = &c.Logging
	default:
		return fmt.Errorf("unknown config section %q", section)
	}

	data, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("failed to marshal section %s: %w", section, err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to decode section %s: %w", section, err)
	}
	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown field %s.%s", section, key)
	}

	m[key] = value

	updated, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to update field %s.%s: %w", section, key, err)
	}
	if err := json.Unmarshal(updated, target); err != nil {
		return fmt.Errorf("failed to update field %s.%s: %w", section, key, err)
	}
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.World.Directory == "" && !c.World.Void
}
