package order

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when no order matches the supplied reference.
var ErrNotFound = errors.New("order: not found")

// Status enumerates the order states understood by the store.
type Status string

const (
	StatusPending    Status = "pending"
	StatusOnHold     Status = "on-hold"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// ParseStatus normalises a raw status string into a Status. Unrecognised
// values are passed through so the store can carry states owned by other
// systems.
func ParseStatus(raw string) Status {
	return Status(strings.ToLower(strings.TrimSpace(raw)))
}

// paidStatuses is the set of terminal success states. An order in one of
// these must never be marked paid again.
var paidStatuses = map[Status]struct{}{
	StatusProcessing: {},
	StatusCompleted:  {},
}

// Paid reports whether the status counts as a settled payment.
func (s Status) Paid() bool {
	_, ok := paidStatuses[s]
	return ok
}

// Order is a read model of an order row owned by the external order system.
// The bridge never constructs orders; it only reads them and drives status
// transitions through the Store.
type Order struct {
	ID               int64
	ParentID         int64
	UserID           int64
	Status           Status
	Currency         string
	Total            float64
	BillingEmail     string
	BillingFirstName string
	BillingLastName  string
	BillingPhone     string
	ReceivedURL      string
	CancelURL        string
	TransactionRef   string
	CreatedAt        time.Time
}

// Paid reports whether the order is already in a paid status.
func (o Order) Paid() bool {
	return o.Status.Paid()
}

// Store is the narrow collaborator interface the bridge consumes from the
// order system. Implementations must provide read-then-write consistency per
// order id.
type Store interface {
	// Get loads an order by its identifier.
	Get(ctx context.Context, id int64) (Order, error)
	// FindByReference resolves the order referenced by a provider
	// notification's items field.
	FindByReference(ctx context.Context, ref string) (Order, error)
	// UpdateStatus transitions the order and records a note.
	UpdateStatus(ctx context.Context, id int64, status Status, note string) error
	// MarkPaidComplete settles the order, storing the external transaction
	// reference alongside the completion note.
	MarkPaidComplete(ctx context.Context, id int64, transactionRef, note string) error
	// SetMetadata persists a metadata key/value pair on the order.
	SetMetadata(ctx context.Context, id int64, key, value string) error
}
