package reconcile

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/adjemin-bridge/internal/events"
	"github.com/noah-isme/adjemin-bridge/internal/lock"
	"github.com/noah-isme/adjemin-bridge/internal/obs"
	"github.com/noah-isme/adjemin-bridge/internal/order"
)

// Metadata keys persisted on the order for every reconciled notification.
const (
	MetaMerchantTransID = "_merchant_trans_id"
	MetaProviderStatus  = "_adjeminpay_status"
)

// StatusQuerier fetches the authoritative status for a merchant transaction
// id. Implementations must fail closed: uncertainty resolves to "FAILED",
// never an error.
type StatusQuerier interface {
	Query(ctx context.Context, merchantTransID string) string
}

// AttemptUpdater records the verified status on the payment-attempt ledger.
type AttemptUpdater interface {
	SetStatus(ctx context.Context, merchantTransID, status string) error
}

// OutcomeKind enumerates the terminal results of reconciling one
// notification.
type OutcomeKind int

const (
	// OutcomeAcked means the engine ran to completion and the provider
	// receives a JSON acknowledgement, whether or not the order changed.
	OutcomeAcked OutcomeKind = iota
	// OutcomeOrderMissing means the notification carried no resolvable
	// order reference; the provider receives an HTTP 500 error body.
	OutcomeOrderMissing
	// OutcomeAlreadyPaid means the order is settled; the notification is
	// dropped without mutation.
	OutcomeAlreadyPaid
	// OutcomeMismatch means the independently queried status disagreed with
	// the notification's claim; the notification is untrusted and dropped.
	OutcomeMismatch
	// OutcomeError means a store failure interrupted processing; the
	// provider gets a 500 so it redelivers.
	OutcomeError
)

// Ack is the JSON acknowledgement returned to the provider.
type Ack struct {
	Code            string `json:"code"`
	MerchantTransID string `json:"merchant_trans_id"`
	Status          string `json:"status"`
	Message         string `json:"message"`
}

// Outcome is the terminal result of processing one notification. Every
// abort path is an early return producing one of these.
type Outcome struct {
	Kind   OutcomeKind
	Ack    *Ack
	Params map[string]string
}

// Engine cross-checks provider notifications against an independent status
// query and drives the order state machine. The order's fate is decided
// only by the queried status, never by the webhook payload's own claim.
type Engine struct {
	Store    order.Store
	Status   StatusQuerier
	Attempts AttemptUpdater
	Events   *events.Bus
	Locker   *lock.Locker
	LockTTL  time.Duration
	Logger   zerolog.Logger

	// PaidCancelledHook runs when a previously cancelled order is paid
	// late, before the order is marked complete. Optional.
	PaidCancelledHook func(ctx context.Context, o order.Order, n Notification)
}

// Reconcile applies the full notification-processing pipeline and returns
// the terminal outcome for the HTTP layer to render.
func (e *Engine) Reconcile(ctx context.Context, n Notification) Outcome {
	ctx, span := otel.Tracer("reconcile.Engine").Start(ctx, "Engine.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("ipn.merchant_trans_id", n.MerchantTransID))

	if strings.TrimSpace(n.Items) == "" {
		return e.finish(Outcome{Kind: OutcomeOrderMissing, Params: n.Raw}, Status{})
	}
	o, err := e.Store.FindByReference(ctx, n.Items)
	if err != nil {
		e.Logger.Warn().Str("items", n.Items).Err(err).Msg("ipn references unknown order")
		return e.finish(Outcome{Kind: OutcomeOrderMissing, Params: n.Raw}, Status{})
	}
	span.SetAttributes(attribute.Int64("order.id", o.ID))

	outcome := Outcome{Kind: OutcomeError}
	verified := Status{}
	run := func(ctx context.Context) error {
		outcome, verified = e.reconcileLocked(ctx, o.ID, n)
		return nil
	}
	if e.Locker != nil {
		if err := e.Locker.WithLock(ctx, lock.OrderKey(o.ID), e.lockTTL(), run); err != nil {
			e.Logger.Error().Int64("order_id", o.ID).Err(err).Msg("order lock failed")
			return e.finish(Outcome{Kind: OutcomeError}, Status{})
		}
	} else {
		_ = run(ctx)
	}
	return e.finish(outcome, verified)
}

// reconcileLocked runs steps 2-5 of the pipeline under the per-order lock:
// the already-paid guard, the fraud cross-check, metadata persistence and
// the state transition.
func (e *Engine) reconcileLocked(ctx context.Context, orderID int64, n Notification) (Outcome, Status) {
	// Reload under the lock so a concurrent delivery that just settled the
	// order is visible to the guard.
	o, err := e.Store.Get(ctx, orderID)
	if err != nil {
		e.Logger.Error().Int64("order_id", orderID).Err(err).Msg("reload order")
		return Outcome{Kind: OutcomeError}, Status{}
	}

	if o.Paid() {
		e.Logger.Info().Int64("order_id", o.ID).Msg("order already settled, dropping notification")
		return Outcome{Kind: OutcomeAlreadyPaid}, Status{}
	}

	queried := e.Status.Query(ctx, n.MerchantTransID)
	if queried != n.Status {
		e.Logger.Warn().
			Int64("order_id", o.ID).
			Str("claimed", n.Status).
			Str("verified", queried).
			Msg("status mismatch, dropping untrusted notification")
		return Outcome{Kind: OutcomeMismatch}, ParseStatus(queried)
	}
	verified := ParseStatus(queried)

	// Reconciliation metadata is recorded regardless of which transition
	// (if any) applies below.
	if strings.TrimSpace(n.MerchantTransID) != "" {
		if err := e.Store.SetMetadata(ctx, o.ID, MetaMerchantTransID, n.MerchantTransID); err != nil {
			return Outcome{Kind: OutcomeError}, verified
		}
	}
	if strings.TrimSpace(verified.Raw) != "" {
		if err := e.Store.SetMetadata(ctx, o.ID, MetaProviderStatus, verified.Raw); err != nil {
			return Outcome{Kind: OutcomeError}, verified
		}
	}
	if e.Attempts != nil && strings.TrimSpace(n.MerchantTransID) != "" {
		if err := e.Attempts.SetStatus(ctx, n.MerchantTransID, verified.Raw); err != nil {
			e.Logger.Error().Str("merchant_trans_id", n.MerchantTransID).Err(err).Msg("update attempt status")
		}
	}

	if err := e.applyTransition(ctx, o, n, verified); err != nil {
		e.Logger.Error().Int64("order_id", o.ID).Err(err).Msg("apply order transition")
		return Outcome{Kind: OutcomeError}, verified
	}

	return Outcome{Kind: OutcomeAcked, Ack: &Ack{
		Code:            "OK",
		MerchantTransID: n.MerchantTransID,
		Status:          verified.Raw,
		Message:         ">>> " + verified.Raw,
	}}, verified
}

// applyTransition maps the verified status onto an order transition. The
// mapping is total: unknown statuses deliberately change nothing.
func (e *Engine) applyTransition(ctx context.Context, o order.Order, n Notification, verified Status) error {
	switch verified.Kind {
	case KindSuccessful:
		if o.Status == order.StatusCancelled {
			if e.PaidCancelledHook != nil {
				e.PaidCancelledHook(ctx, o, n)
			} else {
				e.Logger.Warn().Int64("order_id", o.ID).Msg("payment received for previously cancelled order")
			}
		}
		if err := e.Store.MarkPaidComplete(ctx, o.ID, n.MerchantTransID, "IPN payment completed"); err != nil {
			return err
		}
		e.emit(ctx, events.TopicOrderPaid, o, verified)
		e.emit(ctx, events.TopicCartEmptied, o, verified)
	case KindExpired:
		if err := e.markFailed(ctx, o, verified); err != nil {
			return err
		}
		e.emit(ctx, events.TopicPaymentExpired, o, verified)
	case KindCancelled, KindFailed:
		if err := e.markFailed(ctx, o, verified); err != nil {
			return err
		}
		e.emit(ctx, events.TopicPaymentFailed, o, verified)
	case KindUnknown:
		// Acknowledged but not acted on.
	}
	return nil
}

// markFailed routes expired and cancelled payments through the same
// failure transition as failed ones; the order model has no distinct
// terminal state for them.
func (e *Engine) markFailed(ctx context.Context, o order.Order, verified Status) error {
	note := "Payment " + verified.Raw + " via IPN."
	return e.Store.UpdateStatus(ctx, o.ID, order.StatusFailed, note)
}

func (e *Engine) emit(ctx context.Context, topic string, o order.Order, verified Status) {
	if e.Events == nil {
		return
	}
	_, err := e.Events.Emit(ctx, topic, strconv.FormatInt(o.ID, 10), map[string]any{
		"orderId": o.ID,
		"status":  verified.Raw,
	})
	if err != nil {
		e.Logger.Error().Str("topic", topic).Int64("order_id", o.ID).Err(err).Msg("emit event")
	}
}

func (e *Engine) finish(outcome Outcome, verified Status) Outcome {
	if obs.ReconcileOutcomeTotal != nil {
		obs.ReconcileOutcomeTotal.WithLabelValues(outcome.Kind.label(), verified.label()).Inc()
	}
	return outcome
}

func (e *Engine) lockTTL() time.Duration {
	if e.LockTTL > 0 {
		return e.LockTTL
	}
	return 30 * time.Second
}

func (k OutcomeKind) label() string {
	switch k {
	case OutcomeAcked:
		return "acked"
	case OutcomeOrderMissing:
		return "order_missing"
	case OutcomeAlreadyPaid:
		return "already_paid"
	case OutcomeMismatch:
		return "mismatch"
	default:
		return "error"
	}
}
