package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/intake/internal/postgres"
	"github.com/linnemanlabs/intake/internal/triage"
)

// Config holds the application settings that are not owned by a go-core
// package. It follows the common cfg.Registerable and cfg.Validatable shape.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	DatabaseURL   string
	DBMaxConns    int
	DBSlowQueryMs int

	ClaudeAPIKey string
	ClaudeModel  string

	SlackWebhookURL    string
	RedisURL           string
	RedisChannelPrefix string

	QueueThreshold  float64
	HighThreshold   float64
	MediumThreshold float64
	OverrideFloor   float64
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	def := triage.DefaultConfig()

	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "comma separated bearer tokens accepted on /api routes (empty = no auth)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 0, "maximum PostgreSQL pool connections (0 = pgxpool default)")
	fs.IntVar(&c.DBSlowQueryMs, "db-slow-query-ms", 0, "only log successful queries slower than this (0 = log all)")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "Anthropic API key for triage explanations (empty = explanations disabled)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model used for explanations")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for high-risk notifications")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for publishing queue events (empty = disabled)")
	fs.StringVar(&c.RedisChannelPrefix, "redis-channel-prefix", "intake", "prefix for Redis pub/sub channels")

	fs.Float64Var(&c.QueueThreshold, "queue-threshold", def.QueueThreshold, "department score at or above which a department is recommended (0..1)")
	fs.Float64Var(&c.HighThreshold, "high-threshold", def.HighThreshold, "risk score above which a visit is High risk (0..1)")
	fs.Float64Var(&c.MediumThreshold, "medium-threshold", def.MediumThreshold, "risk score above which a visit is Medium risk (0..1)")
	fs.Float64Var(&c.OverrideFloor, "override-floor", def.OverrideFloor, "minimum risk score when a safety override fires (0..1)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DBMaxConns < 0 || c.DBMaxConns > 1000 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 0..1000)", c.DBMaxConns))
	}
	if c.DBSlowQueryMs < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_MS %d (must be >= 0)", c.DBSlowQueryMs))
	}

	// a model is only needed when explanations are enabled
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if c.SlackWebhookURL != "" {
		if u, err := url.Parse(c.SlackWebhookURL); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid SLACK_WEBHOOK_URL %q (must be an http(s) URL)", c.SlackWebhookURL))
		}
	}
	if c.RedisURL != "" {
		if _, err := redis.ParseURL(c.RedisURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid REDIS_URL: %w", err))
		}
		if c.RedisChannelPrefix == "" {
			errs = append(errs, errors.New("REDIS_CHANNEL_PREFIX is required when REDIS_URL is set"))
		}
	}

	for _, th := range []struct {
		name string
		v    float64
	}{
		{"QUEUE_THRESHOLD", c.QueueThreshold},
		{"HIGH_THRESHOLD", c.HighThreshold},
		{"MEDIUM_THRESHOLD", c.MediumThreshold},
		{"OVERRIDE_FLOOR", c.OverrideFloor},
	} {
		if !(th.v > 0 && th.v < 1) {
			errs = append(errs, fmt.Errorf("invalid %s %v (must be in (0,1))", th.name, th.v))
		}
	}
	if c.MediumThreshold >= c.HighThreshold {
		errs = append(errs, fmt.Errorf("MEDIUM_THRESHOLD %v must be below HIGH_THRESHOLD %v", c.MediumThreshold, c.HighThreshold))
	}
	// an override must always land in High
	if c.OverrideFloor <= c.HighThreshold {
		errs = append(errs, fmt.Errorf("OVERRIDE_FLOOR %v must be above HIGH_THRESHOLD %v", c.OverrideFloor, c.HighThreshold))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Triage returns the engine configuration with the thresholds from flags
// applied on top of the defaults.
func (c *Config) Triage() triage.Config {
	tc := triage.DefaultConfig()
	tc.QueueThreshold = c.QueueThreshold
	tc.HighThreshold = c.HighThreshold
	tc.MediumThreshold = c.MediumThreshold
	tc.OverrideFloor = c.OverrideFloor
	return tc
}

// Postgres returns the pool options.
func (c *Config) Postgres() postgres.Options {
	return postgres.Options{
		MaxConns:  int32(c.DBMaxConns), //nolint:gosec // bounded to 0..1000 by Validate
		SlowQuery: time.Duration(c.DBSlowQueryMs) * time.Millisecond,
	}
}
