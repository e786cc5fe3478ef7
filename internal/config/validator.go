package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

const minSecretLength = 16

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateTimeout checks a millisecond timeout.
func (v *Validator) ValidateTimeout(name string, ms int) error {
	if ms <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, ms)
	}
	return nil
}

// ValidatePort validates a TCP port.
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("gateway port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateSharedSecret accepts an empty secret (auth disabled) or one long
// enough to resist guessing.
func (v *Validator) ValidateSharedSecret(secret string) error {
	if secret != "" && len(secret) < minSecretLength {
		return fmt.Errorf("gateway shared_secret must be at least %d characters", minSecretLength)
	}
	return nil
}

// ValidateCron validates a five-field cron expression or descriptor.
func (v *Validator) ValidateCron(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid history prune_schedule %q: %w", expr, err)
	}
	return nil
}

// ValidateSampleRatio validates the trace sampling ratio.
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("tracing sample_ratio must be between 0 and 1, got %f", ratio)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateTimeout("executor.default_timeout_ms", cfg.Executor.DefaultTimeoutMs); err != nil {
		errors = append(errors, err)
	}
	if cfg.Executor.MaxConcurrency <= 0 {
		errors = append(errors, fmt.Errorf("executor.max_concurrency must be positive, got %d", cfg.Executor.MaxConcurrency))
	}
	if err := v.ValidateTimeout("executor.approval_timeout_ms", cfg.Executor.ApprovalTimeoutMs); err != nil {
		errors = append(errors, err)
	}
	for id, ms := range cfg.Executor.ToolTimeoutsMs {
		if err := v.ValidateTimeout("executor.tool_timeouts_ms."+id, ms); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Catalog.DebounceMs < 0 {
		errors = append(errors, fmt.Errorf("catalog.debounce_ms must be >= 0"))
	}

	if cfg.History.Enabled {
		if cfg.History.RetentionDays <= 0 {
			errors = append(errors, fmt.Errorf("history.retention_days must be positive, got %d", cfg.History.RetentionDays))
		}
		if err := v.ValidateCron(cfg.History.PruneSchedule); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidatePort(cfg.Gateway.Port); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateSharedSecret(cfg.Gateway.SharedSecret); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if cfg.Tracing.Enabled {
		if err := v.ValidateSampleRatio(cfg.Tracing.SampleRatio); err != nil {
			errors = append(errors, err)
		}
	}

	return errors
}
