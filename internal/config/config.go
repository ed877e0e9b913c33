// Package config handles configuration loading, validation, and persistence
// for the lanlink node.
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
	DefaultAPIPort    = 5000
	DefaultLinkPort   = 27015
	DefaultSimHz      = 60
)

// Config is the root configuration structure for lanlink.
type Config struct {
	mu   sync.RWMutex
	path string

	NodeData        NodeData        `json:"node_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// NodeData contains the avatar identity and link settings replicated to
// the arena session.
type NodeData struct {
	// Identity
	Callsign string `json:"node_callsign"`
	Team     int    `json:"node_team"`
	TeamMode bool   `json:"node_team_mode"`

	// Link
	Port          int      `json:"lan_port"`
	BroadcastAddr string   `json:"lan_broadcast_addr"`
	UseChecksum   bool     `json:"lan_use_checksum"`
	Enabled       bool     `json:"lan_enabled"`
	StaticPeers   []string `json:"lan_static_peers"`

	// Local loop
	SimHz   int   `json:"sim_tick_hz"`
	APIPort int   `json:"api_port"`
	Pilot   Pilot `json:"pilot"`
}

// Pilot configures the built-in avatar driver used when no external
// frontend is feeding commands.
type Pilot struct {
	Mode         string  `json:"mode"` // "idle", "wander", "aggressive", "orbit"
	MoveSpeed    float64 `json:"move_speed"`
	FireInterval float64 `json:"fire_interval_sec"`
	ArenaSize    float64 `json:"arena_size"`
}

// ApplicationData contains shell configuration.
type ApplicationData struct {
	Timers      TimerConfig       `json:"timers"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Database    DatabaseConfig    `json:"database"`
	Webhook     WebhookConfig     `json:"webhook"`
	MQTT        MQTTConfig        `json:"mqtt"`
	Security    SecurityConfig    `json:"security"`
	Logging     LoggingConfig     `json:"logging"`
}

// TimerConfig holds health check and task interval settings.
type TimerConfig struct {
	GeneralHealthInterval int `json:"general_health_interval_sec"`
	DiskCheckInterval     int `json:"disk_check_interval_sec"`
	JitterCheckInterval   int `json:"jitter_check_interval_sec"`
	StatsPollingInterval  int `json:"stats_polling_interval_sec"`
	HeartbeatInterval     int `json:"heartbeat_interval_sec"`
	TaskCleanupInterval   int `json:"task_cleanup_interval_sec"`
}

// MaintenanceConfig holds journal cleanup settings.
type MaintenanceConfig struct {
	Enabled       bool   `json:"enabled"`
	CleanupTime   string `json:"cleanup_time"`
	RetentionDays int    `json:"retention_days"`
	VacuumAfter   bool   `json:"vacuum_after"`
}

// DatabaseConfig holds journal storage settings.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// WebhookConfig holds outbound webhook notification settings.
type WebhookConfig struct {
	URL           string `json:"url"`
	NotifyOnStall bool   `json:"notify_on_stall"`
	NotifyOnPeers bool   `json:"notify_on_peers"`
	NotifyOnFeed  bool   `json:"notify_on_feed"`
	NotifyOnDisk  bool   `json:"notify_on_disk"`
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

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	IPWhitelist    []string `json:"ip_whitelist"`
	AuthDisabled   bool     `json:"auth_disabled"`
	APIToken       string   `json:"api_token"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NodeData: NodeData{
			Team:          0,
			TeamMode:      false,
			Port:          DefaultLinkPort,
			BroadcastAddr: "255.255.255.255",
			UseChecksum:   true,
			Enabled:       true,
			SimHz:         DefaultSimHz,
			APIPort:       DefaultAPIPort,
			Pilot: Pilot{
				Mode:         "wander",
				MoveSpeed:    3.5,
				FireInterval: 1.2,
				ArenaSize:    60,
			},
		},
		ApplicationData: ApplicationData{
			Timers: TimerConfig{
				GeneralHealthInterval: 60,
				DiskCheckInterval:     3600,
				JitterCheckInterval:   120,
				StatsPollingInterval:  10,
				HeartbeatInterval:     60,
				TaskCleanupInterval:   1800,
			},
			Maintenance: MaintenanceConfig{
				Enabled:       true,
				CleanupTime:   "04:00",
				RetentionDays: 7,
				VacuumAfter:   true,
			},
			Database: DatabaseConfig{
				Path: filepath.Join("data", "journal.db"),
			},
			Webhook: WebhookConfig{
				NotifyOnStall: true,
				NotifyOnPeers: false,
				NotifyOnDisk:  true,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				BrokerURL:   "localhost",
				Port:        1883,
				TopicPrefix: "lanlink",
			},
			Security: SecurityConfig{
				RateLimitRPS: 100,
				AuthDisabled: true,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
		},
	}
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

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	// This ensures config.json always reflects the complete set of options.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Ensure config directory exists
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetNodeData returns a copy of the node configuration.
func (c *Config) GetNodeData() NodeData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.NodeData
}

// SetNodeData updates the node configuration.
func (c *Config) SetNodeData(data NodeData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.NodeData = data
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// UpdateNodeField updates a specific field in node data.
func (c *Config) UpdateNodeField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Marshal current node data to map
	data, _ := json.Marshal(c.NodeData)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	// Update field
	m[key] = value

	// Unmarshal back
	updated, _ := json.Marshal(m)
	if err := json.Unmarshal(updated, &c.NodeData); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}

	return nil
}

// UpdateAppField updates a specific field in application data.
func (c *Config) UpdateAppField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.ApplicationData)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	m[key] = value

	updated, _ := json.Marshal(m)
	if err := json.Unmarshal(updated, &c.ApplicationData); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
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
	return c.NodeData.Callsign == ""
}
