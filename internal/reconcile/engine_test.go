package reconcile

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/adjemin-bridge/internal/events"
	"github.com/noah-isme/adjemin-bridge/internal/order"
)

type fixedStatus struct {
	status  string
	queries int
}

func (f *fixedStatus) Query(context.Context, string) string {
	f.queries++
	return f.status
}

type capturePublisher struct {
	topics []string
}

func (c *capturePublisher) Publish(_ context.Context, ev events.Event) error {
	c.topics = append(c.topics, ev.Topic)
	return nil
}

func newTestEngine(store order.Store, status string) (*Engine, *fixedStatus, *capturePublisher) {
	q := &fixedStatus{status: status}
	pub := &capturePublisher{}
	e := &Engine{
		Store:  store,
		Status: q,
		Events: &events.Bus{Producer: "test", Publishers: []events.Publisher{pub}},
		Logger: zerolog.Nop(),
	}
	return e, q, pub
}

func pendingOrder(id int64) order.Order {
	return order.Order{ID: id, Status: order.StatusPending, Currency: "XOF", Total: 1500}
}

func TestReconcileSuccessfulPayment(t *testing.T) {
	store := order.NewMemoryStore(pendingOrder(42))
	engine, _, pub := newTestEngine(store, "SUCCESSFUL")

	outcome := engine.Reconcile(context.Background(), Notification{
		Items:           "42",
		Status:          "SUCCESSFUL",
		MerchantTransID: "order_42_abc",
	})

	require.Equal(t, OutcomeAcked, outcome.Kind)
	require.NotNil(t, outcome.Ack)
	require.Equal(t, "OK", outcome.Ack.Code)
	require.Equal(t, "order_42_abc", outcome.Ack.MerchantTransID)
	require.Equal(t, "SUCCESSFUL", outcome.Ack.Status)
	require.Equal(t, ">>> SUCCESSFUL", outcome.Ack.Message)

	o, err := store.Get(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, o.Status)
	require.Equal(t, "order_42_abc", o.TransactionRef)
	require.Equal(t, "order_42_abc", store.Metadata(42, MetaMerchantTransID))
	require.Equal(t, "SUCCESSFUL", store.Metadata(42, MetaProviderStatus))
	require.Contains(t, store.Notes(42), "IPN payment completed")
	require.Contains(t, pub.topics, events.TopicOrderPaid)
	require.Contains(t, pub.topics, events.TopicCartEmptied)
}

func TestReconcileStatusMismatchDropsNotification(t *testing.T) {
	store := order.NewMemoryStore(pendingOrder(42))
	engine, _, pub := newTestEngine(store, "FAILED")

	outcome := engine.Reconcile(context.Background(), Notification{
		Items:           "42",
		Status:          "SUCCESSFUL",
		MerchantTransID: "order_42_abc",
	})

	require.Equal(t, OutcomeMismatch, outcome.Kind)
	require.Nil(t, outcome.Ack)

	o, err := store.Get(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, o.Status, "order must not change on a mismatch")
	require.Empty(t, store.Metadata(42, MetaProviderStatus))
	require.Empty(t, pub.topics)
}

func TestReconcileAlreadyPaidOrderIsUntouched(t *testing.T) {
	paid := pendingOrder(42)
	paid.Status = order.StatusCompleted
	store := order.NewMemoryStore(paid)
	engine, q, pub := newTestEngine(store, "SUCCESSFUL")

	outcome := engine.Reconcile(context.Background(), Notification{
		Items:           "42",
		Status:          "SUCCESSFUL",
		MerchantTransID: "order_42_abc",
	})

	require.Equal(t, OutcomeAlreadyPaid, outcome.Kind)
	require.Zero(t, q.queries, "settled orders must not trigger a provider query")
	require.Empty(t, pub.topics)

	o, err := store.Get(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, order.StatusCompleted, o.Status)
}

func TestReconcileTerminalFailureStatuses(t *testing.T) {
	for _, status := range []string{"EXPIRED", "CANCELLED", "FAILED"} {
		t.Run(status, func(t *testing.T) {
			store := order.NewMemoryStore(pendingOrder(7))
			engine, _, pub := newTestEngine(store, status)

			outcome := engine.Reconcile(context.Background(), Notification{
				Items:           "7",
				Status:          status,
				MerchantTransID: "order_7_x",
			})

			require.Equal(t, OutcomeAcked, outcome.Kind)
			require.Equal(t, ">>> "+status, outcome.Ack.Message)

			o, err := store.Get(context.Background(), 7)
			require.NoError(t, err)
			require.Equal(t, order.StatusFailed, o.Status)
			require.Contains(t, store.Notes(7), "Payment "+status+" via IPN.")

			if status == "EXPIRED" {
				require.Contains(t, pub.topics, events.TopicPaymentExpired)
			} else {
				require.Contains(t, pub.topics, events.TopicPaymentFailed)
			}
		})
	}
}

func TestReconcileUnknownStatusAcksWithoutTransition(t *testing.T) {
	store := order.NewMemoryStore(pendingOrder(7))
	engine, _, pub := newTestEngine(store, "INITIATED")

	outcome := engine.Reconcile(context.Background(), Notification{
		Items:           "7",
		Status:          "INITIATED",
		MerchantTransID: "order_7_x",
	})

	require.Equal(t, OutcomeAcked, outcome.Kind)
	require.Equal(t, ">>> INITIATED", outcome.Ack.Message)

	o, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, o.Status, "unrecognised statuses must not move the order")
	require.Equal(t, "INITIATED", store.Metadata(7, MetaProviderStatus))
	require.Empty(t, pub.topics)
}

func TestReconcileMissingOrderReference(t *testing.T) {
	store := order.NewMemoryStore()
	engine, _, _ := newTestEngine(store, "SUCCESSFUL")

	outcome := engine.Reconcile(context.Background(), Notification{
		Status:          "SUCCESSFUL",
		MerchantTransID: "order_1_x",
		Raw:             map[string]string{"status": "SUCCESSFUL", "merchant_trans_id": "order_1_x"},
	})

	require.Equal(t, OutcomeOrderMissing, outcome.Kind)
	require.Equal(t, "SUCCESSFUL", outcome.Params["status"])
}

func TestReconcileUnknownOrderID(t *testing.T) {
	store := order.NewMemoryStore()
	engine, _, _ := newTestEngine(store, "SUCCESSFUL")

	outcome := engine.Reconcile(context.Background(), Notification{
		Items:           "999",
		Status:          "SUCCESSFUL",
		MerchantTransID: "order_999_x",
		Raw:             map[string]string{"items": "999"},
	})

	require.Equal(t, OutcomeOrderMissing, outcome.Kind)
	require.Equal(t, "999", outcome.Params["items"])
}

func TestReconcileLatePaymentForCancelledOrder(t *testing.T) {
	cancelled := pendingOrder(11)
	cancelled.Status = order.StatusCancelled
	store := order.NewMemoryStore(cancelled)
	engine, _, _ := newTestEngine(store, "SUCCESSFUL")

	var hooked bool
	engine.PaidCancelledHook = func(_ context.Context, o order.Order, _ Notification) {
		hooked = true
		require.Equal(t, int64(11), o.ID)
	}

	outcome := engine.Reconcile(context.Background(), Notification{
		Items:           "11",
		Status:          "SUCCESSFUL",
		MerchantTransID: "order_11_x",
	})

	require.Equal(t, OutcomeAcked, outcome.Kind)
	require.True(t, hooked, "hook must fire for late payment on a cancelled order")

	o, err := store.Get(context.Background(), 11)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, o.Status)
}
