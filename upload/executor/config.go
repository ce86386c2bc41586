package executor

// DefaultConcurrency is the number of operations kept in flight when no limit is configured.
const DefaultConcurrency = 5

// Config holds configuration for the executor.
type Config struct {
	// Concurrency is the maximum number of operations running at the same time.
	// Default: 5
	Concurrency int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: DefaultConcurrency,
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}
