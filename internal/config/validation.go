package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"yqhp/conductor/pkg/types"
)

// maxFrameLength is the largest length a 4-byte frame header can declare.
const maxFrameLength = 1<<32 - 1

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// addError adds a validation error.
func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateProtocolConfig(&cfg.Protocol)
	v.validateConductorConfig(&cfg.Conductor)
	v.validatePlayerConfig(&cfg.Player)
	v.validateReporterConfigs(cfg.Reporters)
	v.validateLoggingConfig(&cfg.Logging)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// validateProtocolConfig validates the wire protocol settings.
func (v *Validator) validateProtocolConfig(cfg *ProtocolConfig) {
	if cfg.MaxMessageSize <= 0 {
		v.addError("protocol.max_message_size", "max message size must be positive")
	} else if int64(cfg.MaxMessageSize) > maxFrameLength {
		v.addError("protocol.max_message_size", fmt.Sprintf("max message size must not exceed %d bytes", maxFrameLength))
	}

	if cfg.IOTimeout <= 0 {
		v.addError("protocol.io_timeout", "I/O timeout must be positive")
	}
	if cfg.DialTimeout < 0 {
		v.addError("protocol.dial_timeout", "dial timeout must be non-negative")
	}
}

// validateConductorConfig validates the orchestrator settings.
func (v *Validator) validateConductorConfig(cfg *ConductorConfig) {
	if cfg.Parallelism < 1 {
		v.addError("conductor.parallelism", "parallelism must be at least 1")
	}

	if cfg.ListenHost != "" && !validHost(cfg.ListenHost) {
		v.addError("conductor.listen_host", fmt.Sprintf("invalid host '%s'", cfg.ListenHost))
	}

	validFormats := map[string]bool{
		"text": true,
		"json": true,
		"csv":  true,
	}
	if cfg.Format == "" {
		v.addError("conductor.format", "report format is required")
	} else if !validFormats[strings.ToLower(cfg.Format)] {
		v.addError("conductor.format", fmt.Sprintf("invalid report format '%s', must be one of: text, json, csv", cfg.Format))
	}
}

// validatePlayerConfig validates the worker agent settings.
func (v *Validator) validatePlayerConfig(cfg *PlayerConfig) {
	if cfg.Bind == "" {
		v.addError("player.bind", "bind address is required")
	} else if !validHost(cfg.Bind) {
		v.addError("player.bind", fmt.Sprintf("invalid bind address '%s'", cfg.Bind))
	}

	if !types.ValidPort(cfg.Port) {
		v.addError("player.port", fmt.Sprintf("port %d out of range 1-65535", cfg.Port))
	}

	if cfg.StatusAddress != "" && !validListenAddress(cfg.StatusAddress) {
		v.addError("player.status_address", "invalid status address format, expected host:port or :port")
	}

	if cfg.ResultRetries < 0 {
		v.addError("player.result_retries", "result retries must be non-negative")
	}
	if cfg.RetryInterval < 0 {
		v.addError("player.retry_interval", "retry interval must be non-negative")
	}
}

// validateReporterConfigs checks reporter types and the settings each type needs.
func (v *Validator) validateReporterConfigs(reporters []ReporterConfig) {
	for i, r := range reporters {
		field := fmt.Sprintf("reporters[%d]", i)
		switch strings.ToLower(strings.TrimSpace(r.Type)) {
		case "":
			v.addError(field+".type", "reporter type is required")
		case "console", "json", "csv":
		case "webhook":
			if url, _ := r.Config["url"].(string); r.Enabled && url == "" {
				v.addError(field+".config.url", "webhook reporter requires a url")
			}
		default:
			v.addError(field+".type", fmt.Sprintf("unknown reporter type '%s', must be one of: console, json, csv, webhook", r.Type))
		}
	}
}

// validateLoggingConfig validates the logging configuration.
func (v *Validator) validateLoggingConfig(cfg *LoggingConfig) {
	validLevels := map[string]bool{
		"debug":   true,
		"info":    true,
		"warn":    true,
		"warning": true,
		"error":   true,
	}
	if cfg.Level == "" {
		v.addError("logging.level", "log level is required")
	} else if !validLevels[strings.ToLower(cfg.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", cfg.Level))
	}
}

// hostLabel matches one RFC 1123 hostname label.
var hostLabel = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

// validHost accepts an IP literal or a hostname.
func validHost(host string) bool {
	if net.ParseIP(host) != nil {
		return true
	}
	if host == "" || len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if !hostLabel.MatchString(label) {
			return false
		}
	}
	return true
}

// validListenAddress accepts host:port or :port. Port 0 lets the system pick.
func validListenAddress(addr string) bool {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil || portStr == "" {
		return false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return false
	}
	return host == "" || validHost(host)
}

// Validate validates the configuration and returns any errors.
// This is a convenience method on Config.
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}

// LoadAndValidate loads configuration from a file and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
