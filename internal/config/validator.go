package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidateCronExpr validates a standard five-field cron expression.
func ValidateCronExpr(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	return nil
}

// ValidateSharedSecret checks gateway shared secret strength. An empty secret
// is allowed (auth disabled for local development) but a short one is not.
func ValidateSharedSecret(secret string) error {
	if secret == "" {
		return nil
	}
	if len(secret) < 16 {
		return fmt.Errorf("gateway shared secret must be at least 16 characters")
	}
	return nil
}
