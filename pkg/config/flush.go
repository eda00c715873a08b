package config

import "time"

// FlushConfig controls the buffer thresholds, the flush scheduler, and the
// background runner pool.
type FlushConfig struct {
	// MaxBufferTokens triggers a size-based flush when the idle token sum
	// of a user's buffer exceeds it.
	MaxBufferTokens int `yaml:"max_buffer_tokens"`

	// MaxProcessTokens bounds one batch: the pipeline keeps the newest
	// suffix of buffered blobs whose total stays within it.
	MaxProcessTokens int `yaml:"max_process_tokens"`

	// BufferFlushInterval is how long an idle entry may sit before the
	// sweeper schedules a background flush for its user.
	BufferFlushInterval time.Duration `yaml:"buffer_flush_interval"`

	// LockTTL is the distributed flush lock's expiry. Must comfortably
	// exceed one batch's expected duration; the runner renews it between
	// batches.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// LockWaitTimeout bounds how long a synchronous flush blocks waiting
	// for the lock before giving up with a conflict.
	LockWaitTimeout time.Duration `yaml:"lock_wait_timeout"`

	// LockRetryInterval is the poll interval while waiting for the lock.
	LockRetryInterval time.Duration `yaml:"lock_retry_interval"`

	// MaxIterations caps batches drained in one background run.
	MaxIterations int `yaml:"max_iterations"`

	// MaxTotalTime caps one background run's wall-clock time.
	MaxTotalTime time.Duration `yaml:"max_total_time"`

	// MaxConsecutiveErrors stops a background run after this many failed
	// batches in a row.
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`

	// RunnerCount is the number of background runner goroutines.
	RunnerCount int `yaml:"runner_count"`

	// DispatchBuffer is the bounded dispatch queue feeding the runners.
	DispatchBuffer int `yaml:"dispatch_buffer"`

	// SweepInterval is how often the sweeper scans for stale idle buffers
	// and orphaned processing entries.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// OrphanThreshold is how long an entry may stay processing before the
	// sweeper considers its flush dead and resets it to idle.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`

	// GracefulShutdownTimeout is the max time to wait for in-flight
	// background runs during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultFlushConfig returns the built-in flush defaults.
func DefaultFlushConfig() *FlushConfig {
	return &FlushConfig{
		MaxBufferTokens:         1024,
		MaxProcessTokens:        2048,
		BufferFlushInterval:     1 * time.Hour,
		LockTTL:                 5 * time.Minute,
		LockWaitTimeout:         30 * time.Second,
		LockRetryInterval:       200 * time.Millisecond,
		MaxIterations:           200,
		MaxTotalTime:            15 * time.Minute,
		MaxConsecutiveErrors:    5,
		RunnerCount:             4,
		DispatchBuffer:          256,
		SweepInterval:           5 * time.Minute,
		OrphanThreshold:         30 * time.Minute,
		GracefulShutdownTimeout: 2 * time.Minute,
	}
}
