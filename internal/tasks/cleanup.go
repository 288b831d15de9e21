package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const cleanupSchedule = "@every 24h"

// ExpiredNoteDeleter removes notes whose expiration has passed.
type ExpiredNoteDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupConfig wires the scheduled expiration sweep.
type CleanupConfig struct {
	Deleter ExpiredNoteDeleter
	Logger  *zap.Logger
	Timeout time.Duration
}

// Cleanup deletes expired notes once at startup and then every 24 hours.
type Cleanup struct {
	deleter ExpiredNoteDeleter
	logger  *zap.Logger
	timeout time.Duration
	cron    *cron.Cron
}

// NewCleanup constructs the cleanup scheduler.
func NewCleanup(cfg CleanupConfig) (*Cleanup, error) {
	if cfg.Deleter == nil {
		return nil, errors.New("tasks: expired note deleter required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Cleanup{
		deleter: cfg.Deleter,
		logger:  logger,
		timeout: timeout,
		cron:    cron.New(),
	}, nil
}

// Start runs one immediate sweep and schedules the recurring one.
func (c *Cleanup) Start() error {
	c.Sweep()
	if _, err := c.cron.AddFunc(cleanupSchedule, c.Sweep); err != nil {
		return err
	}
	c.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (c *Cleanup) Stop() {
	<-c.cron.Stop().Done()
}

// Sweep deletes all expired notes, logging the outcome.
func (c *Cleanup) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	deleted, err := c.deleter.DeleteExpired(ctx)
	if err != nil {
		c.logger.Error("expired note cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		c.logger.Info("expired notes removed", zap.Int64("count", deleted))
	}
}
