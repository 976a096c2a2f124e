package reconcile

import (
	"context"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/adjemin-bridge/internal/store"
)

// TaskSweep is the asynq task type for the periodic reconciliation sweep.
const TaskSweep = "reconcile:sweep"

// NewSweepTask builds the periodic task enqueued by the scheduler.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TaskSweep, nil)
}

// StaleLister pages through payment attempts that never received a
// terminal IPN.
type StaleLister interface {
	ListStalePending(ctx context.Context, minAge time.Duration, limit int) ([]store.Attempt, error)
}

// Sweeper drives reconciliation for attempts the provider forgot to
// notify about: it queries the provider directly and feeds a synthetic
// notification through the same engine the webhook path uses.
type Sweeper struct {
	Attempts StaleLister
	Status   StatusQuerier
	Engine   *Engine
	MinAge   time.Duration
	Batch    int
	Logger   zerolog.Logger
}

// ProcessTask implements asynq.Handler for TaskSweep.
func (s *Sweeper) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	return s.Sweep(ctx)
}

// Sweep reconciles one batch of stale pending attempts.
func (s *Sweeper) Sweep(ctx context.Context) error {
	attempts, err := s.Attempts.ListStalePending(ctx, s.minAge(), s.batch())
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		return nil
	}
	s.Logger.Info().Int("count", len(attempts)).Msg("sweeping stale payment attempts")

	for _, att := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		verified := s.Status.Query(ctx, att.MerchantTransID)
		// The synthetic notification claims the status we just queried, so
		// the engine's cross-check passes by construction and its state
		// machine takes over.
		n := Notification{
			Items:           strconv.FormatInt(att.OrderID, 10),
			Status:          verified,
			MerchantTransID: att.MerchantTransID,
		}
		outcome := s.Engine.Reconcile(ctx, n)
		s.Logger.Info().
			Str("merchant_trans_id", att.MerchantTransID).
			Int64("order_id", att.OrderID).
			Str("status", verified).
			Str("outcome", outcome.Kind.label()).
			Msg("swept payment attempt")
	}
	return nil
}

func (s *Sweeper) minAge() time.Duration {
	if s.MinAge > 0 {
		return s.MinAge
	}
	return 30 * time.Minute
}

func (s *Sweeper) batch() int {
	if s.Batch > 0 {
		return s.Batch
	}
	return 100
}
