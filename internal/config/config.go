// Package config handles configuration loading, validation, and persistence
// for the rcond RCON server daemon.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"

	// DefaultRconPort is the conventional Source-engine RCON port.
	DefaultRconPort = 27015
	DefaultAPIPort  = 5800
)

// Shutdown policies for sessions that are still open when the daemon stops.
const (
	ShutdownDrain = "drain" // stop accepting, leave open sessions alone
	ShutdownForce = "force" // close every open session immediately
)

// Config is the root configuration structure for rcond.
type Config struct {
	mu   sync.RWMutex
	path string

	Rcon            RconConfig      `json:"rcon"`
	ApplicationData ApplicationData `json:"application_data"`
}

// RconConfig contains the RCON listener settings.
type RconConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`

	// HandshakeTimeoutSec bounds how long a new connection may take to
	// submit its AUTH frame before being dropped.
	HandshakeTimeoutSec int `json:"handshake_timeout_sec"`

	// WriteTimeoutSec bounds each individual frame write.
	WriteTimeoutSec int `json:"write_timeout_sec"`
}

// ApplicationData contains daemon application configuration.
type ApplicationData struct {
	Sweeper        SweeperConfig `json:"sweeper"`
	ShutdownPolicy string        `json:"shutdown_policy"`
	API            APIConfig     `json:"api"`
	MQTT           MQTTConfig    `json:"mqtt"`
	Audit          AuditConfig   `json:"audit"`
	Logging        LoggingConfig `json:"logging"`
}

// SweeperConfig controls the unreplied-request sweeper.
type SweeperConfig struct {
	IntervalSec int `json:"interval_sec"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	AuthDisabled   bool     `json:"auth_disabled"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// AuditConfig holds command audit log settings.
type AuditConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"db_path"`
	RetentionDays int    `json:"retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Rcon: RconConfig{
			Host:                "0.0.0.0",
			Port:                DefaultRconPort,
			HandshakeTimeoutSec: 30,
			WriteTimeoutSec:     10,
		},
		ApplicationData: ApplicationData{
			Sweeper: SweeperConfig{
				IntervalSec: 60,
			},
			ShutdownPolicy: ShutdownDrain,
			API: APIConfig{
				Enabled:      true,
				Host:         "127.0.0.1",
				Port:         DefaultAPIPort,
				AuthDisabled: true,
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    8883,
				UseTLS:  true,
			},
			Audit: AuditConfig{
				Enabled:       true,
				DBPath:        "config/audit.db",
				RetentionDays: 30,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
				Console:    true,
			},
		},
	}
}

// Load reads configuration from a JSON file, creating a default one on
// first run.
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

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

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

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetRcon returns a copy of the RCON listener configuration.
func (c *Config) GetRcon() RconConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Rcon
}

// SetRcon updates the RCON listener configuration.
func (c *Config) SetRcon(data RconConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Rcon = data
}

// GetApplicationData returns a copy of the application configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
