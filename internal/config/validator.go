package config

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
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
	result := &ValidationResult{}

	validateNodeData(&cfg.NodeData, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateNodeData(data *NodeData, result *ValidationResult) {
	// Required fields
	if strings.TrimSpace(data.Callsign) == "" {
		result.AddError("node_data.node_callsign", "callsign is required")
	}
	if len(data.Callsign) > 11 {
		result.AddError("node_data.node_callsign",
			"callsign longer than 11 characters would be truncated on the wire")
	}

	if data.Team != 0 && data.Team != 1 {
		result.AddError("node_data.node_team", "team must be 0 or 1")
	}

	// Port validation
	validatePort(data.Port, "node_data.lan_port", result)
	validatePort(data.APIPort, "node_data.api_port", result)
	if data.Port == data.APIPort {
		result.AddError("node_data.ports", "link port and API port must differ")
	}

	if strings.TrimSpace(data.BroadcastAddr) != "" {
		if ip := net.ParseIP(data.BroadcastAddr); ip == nil || ip.To4() == nil {
			result.AddError("node_data.lan_broadcast_addr",
				fmt.Sprintf("not an IPv4 address: %s", data.BroadcastAddr))
		}
	}

	for _, peer := range data.StaticPeers {
		if _, err := netip.ParseAddrPort(peer); err != nil {
			result.AddError("node_data.lan_static_peers",
				fmt.Sprintf("invalid peer address %q: must be host:port", peer))
		}
	}

	// Tick rate
	if data.SimHz < 10 {
		result.AddError("node_data.sim_tick_hz", "tick rate below 10 Hz starves the broadcast scheduler")
	}
	if data.SimHz > 240 {
		result.AddWarning("node_data.sim_tick_hz",
			fmt.Sprintf("high tick rate (%d Hz) burns CPU for no protocol benefit", data.SimHz))
	}

	// Pilot
	switch data.Pilot.Mode {
	case "", "idle", "wander", "aggressive", "orbit":
	default:
		result.AddError("node_data.pilot.mode",
			fmt.Sprintf("unknown pilot mode %q (idle, wander, aggressive, orbit)", data.Pilot.Mode))
	}
	if data.Pilot.MoveSpeed < 0 {
		result.AddError("node_data.pilot.move_speed", "move speed cannot be negative")
	}
	if data.Pilot.FireInterval > 0 && data.Pilot.FireInterval < 0.6 {
		result.AddWarning("node_data.pilot.fire_interval_sec",
			"fire interval below the 0.6s damage cooldown wastes shots")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	// Timer validation
	validateTimers(&data.Timers, result)

	// Maintenance
	if data.Maintenance.Enabled {
		if data.Maintenance.RetentionDays < 1 {
			result.AddError("application_data.maintenance.retention_days",
				"retention days must be at least 1")
		}
		if _, err := parseClockTime(data.Maintenance.CleanupTime); err != nil {
			result.AddError("application_data.maintenance.cleanup_time",
				fmt.Sprintf("invalid cleanup time %q: expected HH:MM", data.Maintenance.CleanupTime))
		}
	}

	// Database
	if strings.TrimSpace(data.Database.Path) == "" {
		result.AddError("application_data.database.path", "journal database path is required")
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	// Security
	if data.Security.TLSEnabled {
		if strings.TrimSpace(data.Security.TLSCertFile) == "" {
			result.AddError("application_data.security.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(data.Security.TLSKeyFile) == "" {
			result.AddError("application_data.security.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	// Webhook
	if data.Webhook.URL != "" && !strings.HasPrefix(data.Webhook.URL, "https://") {
		result.AddWarning("application_data.webhook.url",
			"webhook URL is not HTTPS, notifications will travel in the clear")
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.HeartbeatInterval < 10 {
		result.AddWarning("timers.heartbeat_interval",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
	if timers.StatsPollingInterval < 1 {
		result.AddWarning("timers.stats_polling_interval",
			"stats polling disabled, summary endpoints will serve stale data")
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

// parseClockTime parses an "HH:MM" wall-clock time into minutes since
// midnight.
func parseClockTime(s string) (int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, err
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("out of range: %s", s)
	}
	return hh*60 + mm, nil
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
