package config

import "time"

// QueueConfig contains queue and worker pool configuration. These values
// control how jobs are polled, claimed, and processed by the dispatcher (C8).
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	// Each worker independently polls and claims jobs.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentJobs is the global limit of concurrent jobs being
	// processed across ALL replicas/pods. Enforced by database COUNT(*) check.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	// PollInterval is the base interval for checking pending jobs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// JobTimeout is the maximum time a job can run before it is eligible
	// for stale-lease recovery.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active jobs to
	// complete during shutdown. Should match JobTimeout.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// StaleLeaseCheckInterval is how often to scan for jobs whose lease
	// expired without the owning worker releasing it.
	StaleLeaseCheckInterval time.Duration `yaml:"stale_lease_check_interval"`

	// StaleLeaseThreshold is how long a claimed job can go without a
	// heartbeat before its lease is considered stale and recoverable.
	StaleLeaseThreshold time.Duration `yaml:"stale_lease_threshold"`

	// RetryBaseDelay and RetryMaxDelay bound the exponential backoff applied
	// between a job's failed attempts (capped, jittered).
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentJobs:       5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		JobTimeout:              15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		StaleLeaseCheckInterval: 5 * time.Minute,
		StaleLeaseThreshold:     5 * time.Minute,
		RetryBaseDelay:          2 * time.Second,
		RetryMaxDelay:           2 * time.Minute,
	}
}
