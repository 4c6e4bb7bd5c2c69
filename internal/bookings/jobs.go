package bookings

import (
	"context"
	"sync"
	"time"

	"stallbook/pkg/logger"
)

// JobProcessor runs the periodic expiry sweep
type JobProcessor struct {
	service Service
	config  *JobConfig
	done    chan struct{}
	once    sync.Once

	mu        sync.Mutex
	lastRun   time.Time
	lastCount int
	lastErr   error
}

// JobConfig contains configuration for background jobs
type JobConfig struct {
	SweepInterval time.Duration
}

// DefaultJobConfig returns default job configuration
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		SweepInterval: 1 * time.Minute,
	}
}

// NewJobProcessor creates a new job processor
func NewJobProcessor(service Service, config *JobConfig) *JobProcessor {
	if config == nil || config.SweepInterval <= 0 {
		config = DefaultJobConfig()
	}

	return &JobProcessor{
		service: service,
		config:  config,
		done:    make(chan struct{}),
	}
}

// Run sweeps on every tick until ctx is cancelled or Stop is called
func (jp *JobProcessor) Run(ctx context.Context) error {
	ticker := time.NewTicker(jp.config.SweepInterval)
	defer ticker.Stop()

	logger.GetDefault().InfoWithContext(ctx, "Started expiry sweeper", map[string]interface{}{
		"interval": jp.config.SweepInterval.String(),
	})

	// Reclaim anything that lapsed while the process was down
	jp.sweepOnce(ctx)

	for {
		select {
		case <-ticker.C:
			jp.sweepOnce(ctx)
		case <-jp.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop stops the sweeper loop
func (jp *JobProcessor) Stop() {
	jp.once.Do(func() {
		close(jp.done)
		logger.GetDefault().Info("Expiry sweeper stopped")
	})
}

func (jp *JobProcessor) sweepOnce(ctx context.Context) {
	count, err := jp.service.Sweep(ctx)

	jp.mu.Lock()
	jp.lastRun = time.Now()
	jp.lastCount = count
	jp.lastErr = err
	jp.mu.Unlock()

	if err != nil {
		logger.GetDefault().ErrorWithContext(ctx, "Error sweeping expired holds", err, nil)
	}
}

// GetJobStatus returns the status of background jobs
func (jp *JobProcessor) GetJobStatus() map[string]interface{} {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	status := map[string]interface{}{
		"sweep_interval": jp.config.SweepInterval.String(),
		"last_run":       jp.lastRun,
		"last_reclaimed": jp.lastCount,
		"status":         "running",
	}
	if jp.lastErr != nil {
		status["last_error"] = jp.lastErr.Error()
	}
	return status
}
