package scheduler

import "time"

// Config controls job intervals.
type Config struct {
	ReporterInterval time.Duration
	SweepInterval    time.Duration
	JobTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReporterInterval: 5 * time.Minute,
		SweepInterval:    time.Hour,
		JobTimeout:       2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ReporterInterval <= 0 {
		c.ReporterInterval = defaults.ReporterInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
