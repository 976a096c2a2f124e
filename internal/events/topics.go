package events

// Topic constants for domain events emitted by the bridge.
const (
	TopicCheckoutCreated = "checkout.created"
	TopicOrderPaid       = "order.paid"
	TopicPaymentFailed   = "payment.failed"
	TopicPaymentExpired  = "payment.expired"
	TopicCartEmptied     = "cart.emptied"
)

// DefaultTopics returns the canonical list of topics the bridge publishes.
func DefaultTopics() []string {
	return []string{
		TopicCheckoutCreated,
		TopicOrderPaid,
		TopicPaymentFailed,
		TopicPaymentExpired,
		TopicCartEmptied,
	}
}
