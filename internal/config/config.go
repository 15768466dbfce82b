// Package config handles configuration loading, validation, and persistence
// for the brawler server and client.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/match"
)

const (
	DefaultConfigDir     = "config"
	DefaultConfigFile    = "config.json"
	DefaultGamePort      = 14769
	DefaultDiscoveryPort = 14770
	DefaultAPIPort       = 5000
	DefaultMaxPeers      = 16
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Server    ServerConfig    `json:"server"`
	Match     MatchConfig     `json:"match"`
	Client    ClientConfig    `json:"client"`
	Discovery DiscoveryConfig `json:"discovery"`
	Storage   StorageConfig   `json:"storage"`
	Timers    TimerConfig     `json:"timers"`
	Webhook   WebhookConfig   `json:"webhook"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Security  SecurityConfig  `json:"security"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig contains game server settings.
type ServerConfig struct {
	Name           string `json:"name"`
	GamePort       int    `json:"game_port"`
	APIPort        int    `json:"api_port"`
	MaxPeers       int    `json:"max_peers"`
	IdleTimeoutSec int    `json:"idle_timeout_sec"`
	MaxTickLag     int    `json:"max_tick_lag"`
}

// MatchConfig holds the match rules. Durations are in milliseconds.
type MatchConfig struct {
	CountdownMs           int     `json:"countdown_ms"`
	KillIntervalMs        int     `json:"kill_interval_ms"`
	GoldenSpawnDelayMs    int     `json:"golden_spawn_delay_ms"`
	GoldenPulseIntervalMs int     `json:"golden_pulse_interval_ms"`
	FirstCollectibleMs    int     `json:"first_collectible_ms"`
	CollectibleIntervalMs int     `json:"collectible_interval_ms"`
	MaxCollectibles       int     `json:"max_collectibles"`
	CollectionRadius      float32 `json:"collection_radius"`
	StealRadius           float32 `json:"steal_radius"`
	StealCooldownMs       int     `json:"steal_cooldown_ms"`
	MinPlayers            int     `json:"min_players"`
	BrawlerSpeed          float32 `json:"brawler_speed"`
	ArenaWidth            float32 `json:"arena_width"`
	ArenaHeight           float32 `json:"arena_height"`
	Seed                  int64   `json:"seed"`
}

// ClientConfig holds headless client settings.
type ClientConfig struct {
	PlayerName      string `json:"player_name"`
	ServerHost      string `json:"server_host"`
	ServerPort      int    `json:"server_port"`
	ConnectAttempts int    `json:"connect_attempts"`
	ConnectRetryMs  int    `json:"connect_retry_ms"`
	SnapshotBuffer  int    `json:"snapshot_buffer"`
}

// DiscoveryConfig holds LAN discovery settings.
type DiscoveryConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// StorageConfig holds match result persistence settings.
type StorageConfig struct {
	DatabasePath  string `json:"database_path"`
	RetentionDays int    `json:"retention_days"`
	PruneTime     string `json:"prune_time"`
}

// TimerConfig holds health check and task interval settings.
type TimerConfig struct {
	HealthInterval    int `json:"health_interval_sec"`
	HeartbeatInterval int `json:"heartbeat_interval_sec"`
	LagCheckInterval  int `json:"lag_check_interval_sec"`
	StatsInterval     int `json:"stats_interval_sec"`
	StreamIntervalMs  int `json:"stream_interval_ms"`
}

// WebhookConfig holds operator notification settings.
type WebhookConfig struct {
	URL              string `json:"url"`
	Username         string `json:"username"`
	NotifyOnMatchEnd bool   `json:"notify_on_match_end"`
	NotifyOnLag      bool   `json:"notify_on_lag"`
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

// SecurityConfig holds API security settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	IPWhitelist    []string `json:"ip_whitelist"`
	AuthDisabled   bool     `json:"auth_disabled"`
	AdminToken     string   `json:"admin_token"`
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
	cfg := &Config{
		Server: ServerConfig{
			Name:           "Brawler Arena",
			GamePort:       DefaultGamePort,
			APIPort:        DefaultAPIPort,
			MaxPeers:       DefaultMaxPeers,
			IdleTimeoutSec: 30,
			MaxTickLag:     10,
		},
		Client: ClientConfig{
			ServerHost:      "127.0.0.1",
			ServerPort:      DefaultGamePort,
			ConnectAttempts: 50,
			ConnectRetryMs:  100,
			SnapshotBuffer:  8,
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			Port:    DefaultDiscoveryPort,
		},
		Storage: StorageConfig{
			DatabasePath:  filepath.Join(DefaultConfigDir, "brawler.db"),
			RetentionDays: 30,
			PruneTime:     "04:00",
		},
		Timers: TimerConfig{
			HealthInterval:    60,
			HeartbeatInterval: 60,
			LagCheckInterval:  120,
			StatsInterval:     10,
			StreamIntervalMs:  500,
		},
		Webhook: WebhookConfig{
			Username:         "Brawler",
			NotifyOnMatchEnd: true,
			NotifyOnLag:      true,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "localhost",
			Port:        1883,
			TopicPrefix: "brawler",
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
	}
	cfg.Match = MatchConfigFrom(match.DefaultSettings())
	return cfg
}

// Load reads configuration from a JSON file, creating it with defaults when
// missing.
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
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so the file carries every option known to this build.
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

// GetServer returns a copy of the server section.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetMatch returns a copy of the match rules.
func (c *Config) GetMatch() MatchConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Match
}

// SetMatch replaces the match rules.
func (c *Config) SetMatch(m MatchConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Match = m
}

// GetClient returns a copy of the client section.
func (c *Config) GetClient() ClientConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Client
}

// SetClient replaces the client section.
func (c *Config) SetClient(cl ClientConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Client = cl
}

// GetDiscovery returns a copy of the discovery section.
func (c *Config) GetDiscovery() DiscoveryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Discovery
}

// GetStorage returns a copy of the storage section.
func (c *Config) GetStorage() StorageConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Storage
}

// GetTimers returns a copy of the timer section.
func (c *Config) GetTimers() TimerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Timers
}

// GetWebhook returns a copy of the webhook section.
func (c *Config) GetWebhook() WebhookConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Webhook
}

// GetMQTT returns a copy of the MQTT section.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetSecurity returns a copy of the security section.
func (c *Config) GetSecurity() SecurityConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Security
}

// GetLogging returns a copy of the logging section.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// UpdateField sets one JSON key inside a top-level section.
func (c *Config) UpdateField(section, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var target interface{}
	switch section {
	case "server":
		target = &c.Server
	case "match":
		target = &c.Match
	case "client":
		target = &c.Client
	case "discovery":
		target = &c.Discovery
	case "storage":
		target = &c.Storage
	case "timers":
		target = &c.Timers
	case "webhook":
		target = &c.Webhook
	case "mqtt":
		target = &c.MQTT
	case "security":
		target = &c.Security
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
		return fmt.Errorf("failed to read section %s: %w", section, err)
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

// IsFirstRun returns true if the client has not been set up yet.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Client.PlayerName == ""
}

// Settings converts the configured rules to match settings.
func (m MatchConfig) Settings() match.Settings {
	s := match.DefaultSettings()
	s.Countdown = ms(m.CountdownMs)
	s.KillInterval = ms(m.KillIntervalMs)
	s.GoldenSpawnDelay = ms(m.GoldenSpawnDelayMs)
	s.GoldenPulseInterval = ms(m.GoldenPulseIntervalMs)
	s.FirstCollectible = ms(m.FirstCollectibleMs)
	s.CollectibleInterval = ms(m.CollectibleIntervalMs)
	s.MaxCollectibles = m.MaxCollectibles
	s.CollectionRadius = m.CollectionRadius
	s.StealRadius = m.StealRadius
	s.StealCooldown = ms(m.StealCooldownMs)
	s.MinPlayers = m.MinPlayers
	s.BrawlerSpeed = m.BrawlerSpeed
	s.ArenaWidth = m.ArenaWidth
	s.ArenaHeight = m.ArenaHeight
	s.Seed = m.Seed
	return s
}

// MatchConfigFrom is the inverse of MatchConfig.Settings.
func MatchConfigFrom(s match.Settings) MatchConfig {
	return MatchConfig{
		CountdownMs:           int(s.Countdown.Milliseconds()),
		KillIntervalMs:        int(s.KillInterval.Milliseconds()),
		GoldenSpawnDelayMs:    int(s.GoldenSpawnDelay.Milliseconds()),
		GoldenPulseIntervalMs: int(s.GoldenPulseInterval.Milliseconds()),
		FirstCollectibleMs:    int(s.FirstCollectible.Milliseconds()),
		CollectibleIntervalMs: int(s.CollectibleInterval.Milliseconds()),
		MaxCollectibles:       s.MaxCollectibles,
		CollectionRadius:      s.CollectionRadius,
		StealRadius:           s.StealRadius,
		StealCooldownMs:       int(s.StealCooldown.Milliseconds()),
		MinPlayers:            s.MinPlayers,
		BrawlerSpeed:          s.BrawlerSpeed,
		ArenaWidth:            s.ArenaWidth,
		ArenaHeight:           s.ArenaHeight,
		Seed:                  s.Seed,
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
