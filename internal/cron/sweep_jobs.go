package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/lastbite/lastbite-backend/pkg/logger"
)

// Sweeper is the set of deadline sweeps the worker drives.
type Sweeper interface {
	SweepReservations(ctx context.Context, now time.Time) (int, error)
	SweepPickupCodes(ctx context.Context, now time.Time) (int, error)
	RetryFailedPayouts(ctx context.Context, now time.Time) (int, error)
}

type SweepJobParams struct {
	Logger  *logger.Logger
	Sweeper Sweeper
}

type sweepFunc func(ctx context.Context, now time.Time) (int, error)

type sweepJob struct {
	name  string
	logg  *logger.Logger
	sweep sweepFunc
	now   func() time.Time
}

// NewReservationExpiryJob fails holds whose reservation deadline passed.
func NewReservationExpiryJob(params SweepJobParams) (Job, error) {
	return newSweepJob("reservation-expiry", params, func(s Sweeper) sweepFunc { return s.SweepReservations })
}

// NewPickupCodeExpiryJob clears stale pickup codes.
func NewPickupCodeExpiryJob(params SweepJobParams) (Job, error) {
	return newSweepJob("pickup-code-expiry", params, func(s Sweeper) sweepFunc { return s.SweepPickupCodes })
}

// NewPayoutRetryJob re-drives scheduled and failed seller payouts.
func NewPayoutRetryJob(params SweepJobParams) (Job, error) {
	return newSweepJob("payout-retry", params, func(s Sweeper) sweepFunc { return s.RetryFailedPayouts })
}

// OutboxPruner deletes delivered outbox rows.
type OutboxPruner interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

const defaultOutboxRetention = 30 * 24 * time.Hour

// NewOutboxRetentionJob drops outbox rows delivered more than retention ago.
// Undelivered rows stay regardless of age.
func NewOutboxRetentionJob(logg *logger.Logger, pruner OutboxPruner, retention time.Duration) (Job, error) {
	if logg == nil || pruner == nil {
		return nil, fmt.Errorf("logger and outbox pruner required")
	}
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	return &sweepJob{
		name: "outbox-retention",
		logg: logg,
		sweep: func(ctx context.Context, now time.Time) (int, error) {
			deleted, err := pruner.DeletePublishedBefore(ctx, now.Add(-retention))
			return int(deleted), err
		},
		now: time.Now,
	}, nil
}

func newSweepJob(name string, params SweepJobParams, pick func(Sweeper) sweepFunc) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	return &sweepJob{
		name:  name,
		logg:  params.Logger,
		sweep: pick(params.Sweeper),
		now:   time.Now,
	}, nil
}

func (j *sweepJob) Name() string { return j.name }

func (j *sweepJob) Run(ctx context.Context) error {
	count, err := j.sweep(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	if count > 0 {
		j.logg.Info(j.logg.WithField(ctx, "processed", count), "sweep processed rows")
	}
	return nil
}
