package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/pkg/logger"
)

// Dispatcher runs one pass of the digest pipeline.
type Dispatcher interface {
	Run(ctx context.Context, ref time.Time) (model.DispatchStats, error)
}

type DispatchRunnerConfig struct {
	PollInterval time.Duration
	// RunTimeout bounds a single pass. Zero means no bound beyond the parent context.
	RunTimeout time.Duration
}

// DispatchRunner triggers the pipeline on a fixed interval, for deployments that
// run a long-lived worker instead of an external cron.
type DispatchRunner struct {
	dispatcher Dispatcher
	config     DispatchRunnerConfig
	logger     *logger.Logger
	now        func() time.Time
}

func NewDispatchRunner(dispatcher Dispatcher, config DispatchRunnerConfig, log *logger.Logger) (*DispatchRunner, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be greater than 0, got %s", config.PollInterval)
	}
	if log == nil {
		log = logger.Nop()
	}

	return &DispatchRunner{
		dispatcher: dispatcher,
		config:     config,
		logger:     log,
		now:        time.Now,
	}, nil
}

// Start runs a pass immediately and then on every tick until ctx is done.
func (r *DispatchRunner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.logger.Info("Starting dispatch runner", "interval", r.config.PollInterval.String())
	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Shutting down dispatch runner")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *DispatchRunner) tick(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error(err, "Dispatch run failed")
	}
}

// RunOnce performs a single pass with the runner's clock as the reference instant.
func (r *DispatchRunner) RunOnce(ctx context.Context) (model.DispatchStats, error) {
	if r.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.RunTimeout)
		defer cancel()
	}
	return r.dispatcher.Run(ctx, r.now().UTC())
}
