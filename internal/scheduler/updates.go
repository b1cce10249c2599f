// Package scheduler runs periodic background jobs for the skill hub.
//
// The UpdateChecker wraps a Refresher and calls it according to a cron
// schedule until the context passed to Start is cancelled:
//
//	checker, err := scheduler.NewUpdateChecker("@every 1h", installer, logger)
//	if err != nil {
//	    return err
//	}
//	checker.Start(ctx)
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"skillhub/backend/internal/logging"
)

// ErrInvalidSchedule is returned when the schedule cannot be parsed.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Refresher flags installations whose package has a newer version.
type Refresher interface {
	RefreshUpdates(ctx context.Context) (int, error)
}

// UpdateChecker periodically refreshes the update flags of live installations.
type UpdateChecker struct {
	spec      string
	schedule  cron.Schedule
	refresher Refresher
	logger    *logging.Logger
}

// NewUpdateChecker parses spec, which accepts five cron fields or a
// descriptor such as "@every 30m" or "@daily".
func NewUpdateChecker(spec string, refresher Refresher, logger *logging.Logger) (*UpdateChecker, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &UpdateChecker{
		spec:      spec,
		schedule:  schedule,
		refresher: refresher,
		logger:    logger.WithComponent("update-checker"),
	}, nil
}

// Start launches the scheduling loop and returns immediately.
func (u *UpdateChecker) Start(ctx context.Context) {
	u.logger.Info("update checker started", "schedule", u.spec, "next_run", u.NextRun())
	go u.loop(ctx)
}

// NextRun returns the next scheduled run time from now.
func (u *UpdateChecker) NextRun() time.Time {
	return u.schedule.Next(time.Now())
}

// RunOnce performs a single refresh and logs the outcome.
func (u *UpdateChecker) RunOnce(ctx context.Context) {
	started := time.Now()
	updated, err := u.refresher.RefreshUpdates(ctx)
	if err != nil {
		u.logger.Warn("update check failed", "error", err, "elapsed", time.Since(started))
		return
	}
	u.logger.Info("update check completed", "flagged", updated, "elapsed", time.Since(started))
}

func (u *UpdateChecker) loop(ctx context.Context) {
	for {
		nextRun := u.schedule.Next(time.Now())
		wait := time.Until(nextRun)

		u.logger.Debug("waiting for next update check", "next_run", nextRun, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			u.logger.Info("update checker shutting down")
			return
		case <-timer.C:
			u.RunOnce(ctx)
		}
	}
}
