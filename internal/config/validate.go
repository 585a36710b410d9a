package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the configuration is complete for the given run
// mode. Modes: "serve" (API server plus workers), "research" (CLI
// pipeline commands), "status" (read-only commands).
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "serve", "research":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Queue.Path == "" {
			problems = append(problems, "queue.path is required")
		}
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "status":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported (sqlite, postgres)", c.Store.Driver))
	}
	if c.Stream.PollIntervalSecs < 0 {
		problems = append(problems, "stream.poll_interval_secs must be >= 0")
	}
	if c.Retention.JobStatusDays < 0 {
		problems = append(problems, "retention.job_status_days must be >= 0")
	}
	if t := c.Monitoring.FailureRateThreshold; t < 0 || t > 1 {
		problems = append(problems, "monitoring.failure_rate_threshold must be between 0 and 1")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for mode %q: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}
