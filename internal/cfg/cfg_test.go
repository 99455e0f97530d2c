package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
	"time"
)

// validBase returns a Config with all fields set to valid values.
func validBase() Config {
	return Config{
		TickInterval:          2 * time.Second,
		ControlPort:           7717,
		DispatchWorkers:       2,
		DispatchQueue:         64,
		DrainSeconds:          5,
		ShutdownBudgetSeconds: 15,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c != validBase() {
		t.Errorf("defaults = %+v, want %+v", c, validBase())
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-tick-interval", "500ms",
		"-capture-helper", "/opt/ambient/ambient-capture",
		"-settings-path", "/tmp/settings.yaml",
		"-control-port", "9090",
		"-control-token", "ctl",
		"-journal-path", "/tmp/journal.db",
		"-slack-webhook-url", "https://hooks.slack.com/services/T/B/X",
		"-dispatch-workers", "4",
		"-dispatch-queue", "128",
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	want := Config{
		TickInterval:          500 * time.Millisecond,
		CaptureHelper:         "/opt/ambient/ambient-capture",
		SettingsPath:          "/tmp/settings.yaml",
		ControlPort:           9090,
		ControlToken:          "ctl",
		JournalPath:           "/tmp/journal.db",
		SlackWebhookURL:       "https://hooks.slack.com/services/T/B/X",
		DispatchWorkers:       4,
		DispatchQueue:         128,
		DrainSeconds:          30,
		ShutdownBudgetSeconds: 120,
	}
	if c != want {
		t.Errorf("config = %+v, want %+v", c, want)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	with := func(mut func(*Config)) Config {
		c := validBase()
		mut(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "minimum valid values",
			cfg: Config{
				TickInterval: 100 * time.Millisecond, ControlPort: 1, DispatchWorkers: 1, DispatchQueue: 1,
				DrainSeconds: 1, ShutdownBudgetSeconds: 2,
			},
			wantErr: false,
		},
		{
			name: "maximum valid values",
			cfg: Config{
				TickInterval: time.Minute, ControlPort: 65535, DispatchWorkers: 16, DispatchQueue: 10000,
				DrainSeconds: 299, ShutdownBudgetSeconds: 300,
			},
			wantErr: false,
		},
		// TickInterval boundaries
		{
			name:      "tick too fast",
			cfg:       with(func(c *Config) { c.TickInterval = 99 * time.Millisecond }),
			wantErr:   true,
			errSubstr: []string{"TICK_INTERVAL"},
		},
		{
			name:      "tick too slow",
			cfg:       with(func(c *Config) { c.TickInterval = time.Minute + time.Second }),
			wantErr:   true,
			errSubstr: []string{"TICK_INTERVAL"},
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       with(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       with(func(c *Config) { c.DrainSeconds = 301; c.ShutdownBudgetSeconds = 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:    "drain at upper bound",
			cfg:     with(func(c *Config) { c.DrainSeconds = 300; c.ShutdownBudgetSeconds = 300 }),
			wantErr: true, // budget must be greater than drain
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget zero",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget above max",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 301 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			cfg:       with(func(c *Config) { c.DrainSeconds = 60; c.ShutdownBudgetSeconds = 60 }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:    "budget is drain plus one",
			cfg:     with(func(c *Config) { c.DrainSeconds = 60; c.ShutdownBudgetSeconds = 61 }),
			wantErr: false,
		},
		// ControlPort boundaries
		{
			name:      "port zero",
			cfg:       with(func(c *Config) { c.ControlPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"CONTROL_PORT"},
		},
		{
			name:      "port above max",
			cfg:       with(func(c *Config) { c.ControlPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"CONTROL_PORT"},
		},
		// Dispatcher sizing
		{
			name:      "no workers",
			cfg:       with(func(c *Config) { c.DispatchWorkers = 0 }),
			wantErr:   true,
			errSubstr: []string{"DISPATCH_WORKERS"},
		},
		{
			name:      "too many workers",
			cfg:       with(func(c *Config) { c.DispatchWorkers = 17 }),
			wantErr:   true,
			errSubstr: []string{"DISPATCH_WORKERS"},
		},
		{
			name:      "queue zero",
			cfg:       with(func(c *Config) { c.DispatchQueue = 0 }),
			wantErr:   true,
			errSubstr: []string{"DISPATCH_QUEUE"},
		},
		// Journal backends
		{
			name:    "sqlite journal",
			cfg:     with(func(c *Config) { c.JournalPath = "/tmp/j.db" }),
			wantErr: false,
		},
		{
			name:    "postgres journal",
			cfg:     with(func(c *Config) { c.DatabaseURL = "postgres://localhost/ambient" }),
			wantErr: false,
		},
		{
			name: "both journals",
			cfg: with(func(c *Config) {
				c.JournalPath = "/tmp/j.db"
				c.DatabaseURL = "postgresql://localhost/ambient"
			}),
			wantErr:   true,
			errSubstr: []string{"mutually exclusive"},
		},
		{
			name:      "database url wrong scheme",
			cfg:       with(func(c *Config) { c.DatabaseURL = "mysql://localhost/ambient" }),
			wantErr:   true,
			errSubstr: []string{"DATABASE_URL"},
		},
		// Slack
		{
			name:    "slack https",
			cfg:     with(func(c *Config) { c.SlackWebhookURL = "https://hooks.slack.com/services/x" }),
			wantErr: false,
		},
		{
			name:      "slack relative",
			cfg:       with(func(c *Config) { c.SlackWebhookURL = "hooks.slack.com/services/x" }),
			wantErr:   true,
			errSubstr: []string{"SLACK_WEBHOOK_URL"},
		},
		// Error accumulation: all fields invalid
		{
			name:      "all fields invalid",
			cfg:       Config{},
			wantErr:   true,
			errSubstr: []string{"TICK_INTERVAL", "DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "CONTROL_PORT", "DISPATCH_WORKERS", "DISPATCH_QUEUE"},
		},
		// Extreme values
		{
			name: "extreme negative values",
			cfg: Config{
				TickInterval: math.MinInt64, DrainSeconds: math.MinInt32, ShutdownBudgetSeconds: math.MinInt32,
				ControlPort: math.MinInt32, DispatchWorkers: math.MinInt32, DispatchQueue: math.MinInt32,
			},
			wantErr:   true,
			errSubstr: []string{"TICK_INTERVAL", "DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "CONTROL_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		tickMS                              int64
		drain, budget, port, workers, queue int
		journal, dbURL                      string
	}{
		{2000, 5, 15, 7717, 2, 64, "", ""},
		{100, 1, 2, 1, 1, 1, "/tmp/j.db", ""},
		{60000, 299, 300, 65535, 16, 10000, "", "postgres://h/db"},
		{0, 0, 0, 0, 0, 0, "", ""},
		{-1, -1, -1, -1, -1, -1, "", ""},
		{2000, 300, 300, 65535, 2, 64, "a", "postgres://h/db"},
		{2000, 150, 100, 8080, 2, 64, "", "mysql://h/db"},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, "", ""},
	}
	for _, s := range seeds {
		f.Add(s.tickMS, s.drain, s.budget, s.port, s.workers, s.queue, s.journal, s.dbURL)
	}

	f.Fuzz(func(t *testing.T, tickMS int64, drain, budget, port, workers, queue int, journal, dbURL string) {
		tick := time.Duration(tickMS) * time.Millisecond
		if tickMS > math.MaxInt64/int64(time.Millisecond) || tickMS < math.MinInt64/int64(time.Millisecond) {
			t.Skip("duration overflow")
		}
		c := Config{
			TickInterval:          tick,
			ControlPort:           port,
			JournalPath:           journal,
			DatabaseURL:           dbURL,
			DispatchWorkers:       workers,
			DispatchQueue:         queue,
			DrainSeconds:          drain,
			ShutdownBudgetSeconds: budget,
		}
		err := c.Validate()

		tickOK := tick >= 100*time.Millisecond && tick <= time.Minute
		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		crossOK := budget > drain
		portOK := port >= 1 && port <= 65535
		workersOK := workers >= 1 && workers <= 16
		queueOK := queue >= 1 && queue <= 10000
		journalOK := journal == "" || dbURL == ""
		dbOK := dbURL == "" || strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://")

		allValid := tickOK && drainOK && budgetOK && crossOK && portOK && workersOK && queueOK && journalOK && dbOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
