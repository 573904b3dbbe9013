package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/lastbite/lastbite-backend/internal/transactions"
	"github.com/lastbite/lastbite-backend/pkg/logger"
	"github.com/lastbite/lastbite-backend/pkg/metrics"
)

const (
	defaultBatchSize         = 200
	defaultPayoutMaxAttempts = 3
	defaultPayoutLease       = 15 * time.Minute

	SweepReservations = "reservations"
	SweepPickupCodes  = "pickup_codes"
	SweepPayouts      = "payouts"
)

// ReservationExpirer fails a single expired hold.
type ReservationExpirer interface {
	Expire(ctx context.Context, transactionID uuid.UUID, now time.Time) (bool, error)
}

// PayoutRunner attempts a seller payout.
type PayoutRunner interface {
	PayoutSeller(ctx context.Context, transactionID uuid.UUID) (bool, error)
}

type ServiceParams struct {
	Transactions      transactions.Repository
	Reservations      ReservationExpirer
	Payouts           PayoutRunner
	Metrics           *metrics.MarketplaceMetrics
	Logger            *logger.Logger
	BatchSize         int
	PayoutMaxAttempts int

	// PayoutLease is how long a payout may sit in processing before it is
	// considered abandoned.
	PayoutLease time.Duration
}

// Service re-evaluates stored deadlines. Every method is safe to call
// concurrently and at any frequency; the per-row compare-and-set in the
// collaborators decides which caller acts.
type Service struct {
	transactions      transactions.Repository
	reservations      ReservationExpirer
	payouts           PayoutRunner
	metrics           *metrics.MarketplaceMetrics
	logg              *logger.Logger
	batchSize         int
	payoutMaxAttempts int
	payoutLease       time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Transactions == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation expirer required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout runner required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	attempts := params.PayoutMaxAttempts
	if attempts <= 0 {
		attempts = defaultPayoutMaxAttempts
	}
	lease := params.PayoutLease
	if lease <= 0 {
		lease = defaultPayoutLease
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		transactions:      params.Transactions,
		reservations:      params.Reservations,
		payouts:           params.Payouts,
		metrics:           params.Metrics,
		logg:              logg,
		batchSize:         batch,
		payoutMaxAttempts: attempts,
		payoutLease:       lease,
	}, nil
}

// SweepReservations fails every open hold whose deadline is before now and
// returns how many this call expired.
func (s *Service) SweepReservations(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	var (
		count int
		errs  error
	)
	for {
		rows, err := s.transactions.ListExpiredReservations(ctx, now, s.batchSize)
		if err != nil {
			return count, multierr.Append(errs, fmt.Errorf("list expired reservations: %w", err))
		}
		if len(rows) == 0 {
			break
		}
		progressed := 0
		for _, row := range rows {
			won, err := s.reservations.Expire(ctx, row.ID, now)
			if err != nil {
				s.logg.Error(s.logg.WithTransactionID(ctx, row.ID.String()), "expire reservation", err)
				errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", row.ID, err))
				continue
			}
			progressed++
			if won {
				count++
			}
		}
		// A batch where every row errored would be listed again forever.
		if len(rows) < s.batchSize || progressed == 0 {
			break
		}
	}
	s.metrics.AddSwept(SweepReservations, count)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"sweep": SweepReservations, "count": count}), "sweep complete")
	return count, errs
}

// SweepPickupCodes clears codes past their deadline; the holds stay open.
func (s *Service) SweepPickupCodes(ctx context.Context, now time.Time) (int, error) {
	cleared, err := s.transactions.ClearExpiredQRCodes(ctx, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("clear expired pickup codes: %w", err)
	}
	count := int(cleared)
	s.metrics.AddSwept(SweepPickupCodes, count)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"sweep": SweepPickupCodes, "count": count}), "sweep complete")
	return count, nil
}

// RetryFailedPayouts re-drives scheduled payouts, failed ones with attempts
// left and claims abandoned past the payout lease. It returns the number
// transferred by this call.
func (s *Service) RetryFailedPayouts(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.transactions.ListPayoutCandidates(ctx, s.payoutMaxAttempts, now.Add(-s.payoutLease), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list payout candidates: %w", err)
	}
	var (
		count int
		errs  error
	)
	for _, row := range rows {
		ok, err := s.payouts.PayoutSeller(ctx, row.ID)
		if err != nil {
			s.logg.Error(s.logg.WithTransactionID(ctx, row.ID.String()), "retry payout", err)
			errs = multierr.Append(errs, fmt.Errorf("payout %s: %w", row.ID, err))
			continue
		}
		if ok {
			count++
		}
	}
	s.metrics.AddSwept(SweepPayouts, count)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"sweep":      SweepPayouts,
		"candidates": len(rows),
		"count":      count,
		"at":         now.UTC(),
	})
	s.logg.Info(logCtx, "sweep complete")
	return count, errs
}
