package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds the daemon's own settings alongside the common
// cfg.Registerable and cfg.Validatable interfaces. The memory-service
// URL and token are not here: they live in the user-editable settings file.
type Config struct {
	TickInterval          time.Duration
	CaptureHelper         string
	SettingsPath          string
	ControlPort           int
	ControlToken          string
	JournalPath           string
	DatabaseURL           string
	SlackWebhookURL       string
	DispatchWorkers       int
	DispatchQueue         int
	DrainSeconds          int
	ShutdownBudgetSeconds int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.DurationVar(&c.TickInterval, "tick-interval", 2*time.Second, "scheduler tick period (100ms..1m)")
	fs.StringVar(&c.CaptureHelper, "capture-helper", "", "path to the ambient-capture helper (empty = next to the binary, then PATH)")
	fs.StringVar(&c.SettingsPath, "settings-path", "", "settings file location (empty = user config dir)")
	fs.IntVar(&c.ControlPort, "control-port", 7717, "local control API TCP port on 127.0.0.1 (1..65535)")
	fs.StringVar(&c.ControlToken, "control-token", "", "bearer token required by the control API (empty = no auth)")
	fs.StringVar(&c.JournalPath, "journal-path", "", "SQLite capture journal file (empty = in-memory)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL capture journal URL, takes the place of -journal-path")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for suggestion notifications")
	fs.IntVar(&c.DispatchWorkers, "dispatch-workers", 2, "concurrent capture submissions (1..16)")
	fs.IntVar(&c.DispatchQueue, "dispatch-queue", 64, "pending captures kept before the oldest is dropped (1..10000)")
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 5, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 15, "total seconds for component shutdown after drain (1..300)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	if c.TickInterval < 100*time.Millisecond || c.TickInterval > time.Minute {
		errs = append(errs, fmt.Errorf("invalid TICK_INTERVAL %s (must be 100ms..1m)", c.TickInterval))
	}

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.ControlPort <= 0 || c.ControlPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid CONTROL_PORT %d (must be 1..65535)", c.ControlPort))
	}

	if c.DispatchWorkers < 1 || c.DispatchWorkers > 16 {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_WORKERS %d (must be 1..16)", c.DispatchWorkers))
	}
	if c.DispatchQueue < 1 || c.DispatchQueue > 10000 {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_QUEUE %d (must be 1..10000)", c.DispatchQueue))
	}

	// One journal backend at most
	if c.DatabaseURL != "" && c.JournalPath != "" {
		errs = append(errs, errors.New("DATABASE_URL and JOURNAL_PATH are mutually exclusive"))
	}
	if c.DatabaseURL != "" && !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		errs = append(errs, errors.New("DATABASE_URL must be a postgres:// or postgresql:// URL"))
	}

	if c.SlackWebhookURL != "" {
		u, err := url.Parse(c.SlackWebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, errors.New("SLACK_WEBHOOK_URL must be an absolute http(s) URL"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
