package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// MaxBorderRadius bounds the preloaded square; it matches world.MaxRadius.
const MaxBorderRadius = 64

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
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

// Err joins every validation error into one error, or returns nil.
func (r *ValidationResult) Err() error {
	if r.IsValid() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}
	s := cfg.Snapshot()

	validateServer(&s.Server, result)
	validateWorld(&s.World, result)
	validateAPI(&s.API, s.Server.Port, result)

	if s.MQTT.Enabled {
		if strings.TrimSpace(s.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if s.MQTT.Port < 1 || s.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	if s.Redis.Enabled && strings.TrimSpace(s.Redis.Address) == "" {
		result.AddError("redis.address", "Redis address is required when enabled")
	}

	if s.Database.Enabled {
		if strings.TrimSpace(s.Database.Path) == "" {
			result.AddError("database.path", "database path is required when enabled")
		}
		if s.Database.RetentionDays < 1 {
			result.AddError("database.retention_days", "retention days must be at least 1")
		}
		if _, err := time.Parse("15:04", s.Database.PruneTime); err != nil {
			result.AddError("database.prune_time", "prune time must be HH:MM")
		}
	}

	validateTimers(&s.Timers, result)
	return result
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	validatePort(s.Port, "server.port", result)

	if s.MaxPlayers < 1 {
		result.AddError("server.max_players", "must allow at least 1 player")
	}
	if s.ConnectionRateLimit < 0 {
		result.AddError("server.connection_rate_limit", "must be 0 (disabled) or a positive count")
	}
	if s.CompressionThreshold < -1 {
		result.AddError("server.compression_threshold", "must be -1 (disabled) or a byte count")
	}
	if s.Encryption && s.VelocitySecret != "" {
		result.AddWarning("server.encryption",
			"encryption behind a Velocity proxy is redundant, the proxy already encrypts")
	}
	if len(s.MOTD) > 256 {
		result.AddWarning("server.motd", "long MOTD will be truncated by most clients")
	}
}

func validateWorld(w *WorldConfig, result *ValidationResult) {
	if w.BorderRadius < 1 || w.BorderRadius > MaxBorderRadius {
		result.AddError("world.border_radius",
			fmt.Sprintf("border radius %d out of range (1-%d)", w.BorderRadius, MaxBorderRadius))
	}
	if w.SpawnY < 0 || w.SpawnY > 256 {
		result.AddWarning("world.spawn_y", "spawn is outside the world height")
	}

	if w.Void {
		return
	}
	if strings.TrimSpace(w.Directory) == "" {
		result.AddError("world.directory", "world directory is required unless void is set")
	} else if _, err := os.Stat(w.Directory); os.IsNotExist(err) {
		result.AddError("world.directory",
			fmt.Sprintf("directory does not exist: %s", w.Directory))
	}
	if w.BlocksReport != "" {
		if _, err := os.Stat(w.BlocksReport); os.IsNotExist(err) {
			result.AddError("world.blocks_report",
				fmt.Sprintf("block report does not exist: %s", w.BlocksReport))
		}
	}
}

func validateAPI(a *APIConfig, gamePort int, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)
	if a.Port == gamePort {
		result.AddError("api.port", "port conflict detected: API and game ports must differ")
	}

	if a.TLSEnabled {
		if strings.TrimSpace(a.TLSCertFile) == "" {
			result.AddError("api.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(a.TLSKeyFile) == "" {
			result.AddError("api.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}

	if a.Token == "" && a.Address != "127.0.0.1" && a.Address != "localhost" {
		result.AddWarning("api.token",
			"API is reachable from the network without a token, control routes are open")
	}
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validateTimers(t *TimerConfig, result *ValidationResult) {
	if t.KeepAliveTimeoutSec <= t.KeepAliveIntervalSec {
		result.AddError("timers.keep_alive_timeout_sec",
			"keep-alive timeout must be longer than the keep-alive interval")
	}
	if t.LoginTimeoutSec < 1 {
		result.AddError("timers.login_timeout_sec", "login timeout must be at least 1s")
	}
	if t.HeartbeatIntervalSec < 5 {
		result.AddWarning("timers.heartbeat_interval_sec",
			"heartbeat interval less than 5s may cause excessive traffic")
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

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
