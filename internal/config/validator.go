package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	validateServer(cfg, result)
	validateMatch(&cfg.Match, result)
	validateClient(&cfg.Client, result)
	validateStorage(&cfg.Storage, result)
	validateTimers(&cfg.Timers, result)
	validateServices(cfg, result)

	return result
}

// ValidateClient checks only the settings the headless client uses.
func ValidateClient(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}
	validateClient(&cfg.Client, result)
	if strings.TrimSpace(cfg.Client.PlayerName) == "" {
		result.AddError("client.player_name", "player name is required")
	}
	return result
}

// ValidateMatch checks a match section on its own, as the API does before
// applying new settings.
func ValidateMatch(m MatchConfig) *ValidationResult {
	result := &ValidationResult{}
	validateMatch(&m, result)
	return result
}

func validateServer(cfg *Config, result *ValidationResult) {
	srv := &cfg.Server
	if strings.TrimSpace(srv.Name) == "" {
		result.AddWarning("server.name", "server name is empty, discovery will show a blank entry")
	}

	validatePort(srv.GamePort, "server.game_port", result)
	validatePort(srv.APIPort, "server.api_port", result)
	if cfg.Discovery.Enabled {
		validatePort(cfg.Discovery.Port, "discovery.port", result)
	}

	// Game traffic and discovery are both UDP; the API is TCP.
	if cfg.Discovery.Enabled && srv.GamePort == cfg.Discovery.Port {
		result.AddError("discovery.port", "port conflict detected: discovery and game ports must differ")
	}

	if srv.MaxPeers < 1 {
		result.AddError("server.max_peers", "must allow at least 1 peer")
	}
	if srv.MaxPeers > 64 {
		result.AddWarning("server.max_peers",
			fmt.Sprintf("high peer count (%d) may overload a single match", srv.MaxPeers))
	}
	if srv.IdleTimeoutSec > 0 && srv.IdleTimeoutSec < 5 {
		result.AddWarning("server.idle_timeout_sec", "idle timeout less than 5 seconds may drop slow clients")
	}
	if srv.MaxTickLag < 1 {
		result.AddError("server.max_tick_lag", "must be at least 1 tick")
	}
}

func validateMatch(m *MatchConfig, result *ValidationResult) {
	positive := map[string]int{
		"match.countdown_ms":             m.CountdownMs,
		"match.kill_interval_ms":         m.KillIntervalMs,
		"match.golden_pulse_interval_ms": m.GoldenPulseIntervalMs,
		"match.collectible_interval_ms":  m.CollectibleIntervalMs,
	}
	for field, v := range positive {
		if v <= 0 {
			result.AddError(field, "must be greater than 0")
		}
	}
	nonNegative := map[string]int{
		"match.golden_spawn_delay_ms": m.GoldenSpawnDelayMs,
		"match.first_collectible_ms":  m.FirstCollectibleMs,
		"match.steal_cooldown_ms":     m.StealCooldownMs,
		"match.max_collectibles":      m.MaxCollectibles,
	}
	for field, v := range nonNegative {
		if v < 0 {
			result.AddError(field, "must not be negative")
		}
	}

	if m.CollectionRadius <= 0 {
		result.AddError("match.collection_radius", "must be greater than 0")
	}
	if m.StealRadius < 0 {
		result.AddError("match.steal_radius", "must not be negative")
	}
	if m.MinPlayers < 1 {
		result.AddError("match.min_players", "must be at least 1")
	}
	if m.BrawlerSpeed <= 0 {
		result.AddError("match.brawler_speed", "must be greater than 0")
	}
	if m.ArenaWidth <= 0 || m.ArenaHeight <= 0 {
		result.AddError("match.arena", "arena dimensions must be greater than 0")
	}
	if m.KillIntervalMs > 0 && time.Duration(m.KillIntervalMs)*time.Millisecond < 5*time.Second {
		result.AddWarning("match.kill_interval_ms", "eliminations faster than every 5 seconds leave little time to score")
	}
}

func validateClient(cl *ClientConfig, result *ValidationResult) {
	if strings.TrimSpace(cl.ServerHost) == "" {
		result.AddError("client.server_host", "server host is required")
	} else if net.ParseIP(cl.ServerHost) == nil && strings.ContainsAny(cl.ServerHost, " /:") {
		result.AddError("client.server_host", fmt.Sprintf("invalid host: %s", cl.ServerHost))
	}
	validatePort(cl.ServerPort, "client.server_port", result)
	if cl.ConnectAttempts < 1 {
		result.AddError("client.connect_attempts", "must try at least once")
	}
	if cl.ConnectRetryMs < 10 {
		result.AddWarning("client.connect_retry_ms", "retry period less than 10ms gives the server no time to answer")
	}
	if cl.SnapshotBuffer < 1 {
		result.AddError("client.snapshot_buffer", "must keep at least 1 snapshot")
	}
}

func validateStorage(s *StorageConfig, result *ValidationResult) {
	if strings.TrimSpace(s.DatabasePath) == "" {
		result.AddError("storage.database_path", "database path is required")
	}
	if s.RetentionDays < 1 {
		result.AddError("storage.retention_days", "retention days must be at least 1")
	}
	if _, err := time.Parse("15:04", s.PruneTime); err != nil {
		result.AddError("storage.prune_time", fmt.Sprintf("invalid time %q (expected HH:MM)", s.PruneTime))
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.HeartbeatInterval < 10 {
		result.AddWarning("timers.heartbeat_interval",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
	if timers.HealthInterval < 1 {
		result.AddError("timers.health_interval", "must be at least 1 second")
	}
	if timers.LagCheckInterval < 1 {
		result.AddError("timers.lag_check_interval", "must be at least 1 second")
	}
	if timers.StreamIntervalMs < 50 {
		result.AddWarning("timers.stream_interval_ms", "stream interval less than 50ms floods websocket clients")
	}
}

func validateServices(cfg *Config, result *ValidationResult) {
	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	sec := &cfg.Security
	if sec.TLSEnabled {
		if strings.TrimSpace(sec.TLSCertFile) == "" {
			result.AddError("security.tls_cert_file", "TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(sec.TLSKeyFile) == "" {
			result.AddError("security.tls_key_file", "TLS key file is required when TLS is enabled")
		}
	}
	if !sec.AuthDisabled && len(sec.AdminToken) < 16 {
		result.AddError("security.admin_token", "admin token of at least 16 characters is required when auth is enabled")
	}
	if sec.RateLimitRPS < 1 {
		result.AddWarning("security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	if url := cfg.Webhook.URL; url != "" && !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		result.AddError("webhook.url", "webhook URL must be http or https")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a UDP port is free for the game host.
func IsPortAvailable(port int) bool {
	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
