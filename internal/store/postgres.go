package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/adjemin-bridge/internal/order"
)

// Postgres implements the order-store collaborator interface over the order
// system's tables. The adapter is deliberately thin; order semantics are
// owned by the external system, this bridge only reads rows and drives
// status transitions.
type Postgres struct {
	Pool *pgxpool.Pool
}

const orderColumns = `id, parent_id, user_id, status, currency, total,
	billing_email, billing_first_name, billing_last_name, billing_phone,
	received_url, cancel_url, transaction_ref, created_at`

// Get loads an order by id.
func (p *Postgres) Get(ctx context.Context, id int64) (order.Order, error) {
	row := p.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// FindByReference resolves the order referenced by the IPN items field. The
// provider echoes back the numeric order id the checkout was created for.
func (p *Postgres) FindByReference(ctx context.Context, ref string) (order.Order, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(ref), 10, 64)
	if err != nil {
		return order.Order{}, order.ErrNotFound
	}
	return p.Get(ctx, id)
}

// UpdateStatus transitions the order and appends a note to its trail.
func (p *Postgres) UpdateStatus(ctx context.Context, id int64, status order.Status, note string) error {
	return p.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return order.ErrNotFound
		}
		return insertNote(ctx, tx, id, note)
	})
}

// MarkPaidComplete settles the order, storing the provider transaction
// reference. Orders transition to processing, matching the behaviour of the
// order system's own payment-complete path.
func (p *Postgres) MarkPaidComplete(ctx context.Context, id int64, transactionRef, note string) error {
	return p.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE orders SET status = $2, transaction_ref = $3, updated_at = now() WHERE id = $1`,
			id, string(order.StatusProcessing), transactionRef)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return order.ErrNotFound
		}
		return insertNote(ctx, tx, id, note)
	})
}

// SetMetadata upserts a metadata key/value pair on the order.
func (p *Postgres) SetMetadata(ctx context.Context, id int64, key, value string) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO order_meta (order_id, meta_key, meta_value) VALUES ($1, $2, $3)
		ON CONFLICT (order_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`,
		id, key, value)
	if err != nil {
		return fmt.Errorf("set order metadata: %w", err)
	}
	return nil
}

func (p *Postgres) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertNote(ctx context.Context, tx pgx.Tx, id int64, note string) error {
	if strings.TrimSpace(note) == "" {
		return nil
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`, id, note); err != nil {
		return fmt.Errorf("insert order note: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (order.Order, error) {
	var o order.Order
	var status string
	err := row.Scan(&o.ID, &o.ParentID, &o.UserID, &status, &o.Currency, &o.Total,
		&o.BillingEmail, &o.BillingFirstName, &o.BillingLastName, &o.BillingPhone,
		&o.ReceivedURL, &o.CancelURL, &o.TransactionRef, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Order{}, order.ErrNotFound
		}
		return order.Order{}, fmt.Errorf("scan order: %w", err)
	}
	o.Status = order.ParseStatus(status)
	return o, nil
}

// Attempt is one row of the payment-attempt ledger keyed by merchant
// transaction id.
type Attempt struct {
	MerchantTransID string
	OrderID         int64
	Amount          int64
	Currency        string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ErrAttemptNotFound is returned when no attempt matches the merchant
// transaction id.
var ErrAttemptNotFound = errors.New("store: payment attempt not found")

// Attempts persists the payment-attempt ledger.
type Attempts struct {
	Pool *pgxpool.Pool
}

// Record inserts a new pending attempt.
func (a *Attempts) Record(ctx context.Context, att Attempt) error {
	status := att.Status
	if status == "" {
		status = "PENDING"
	}
	_, err := a.Pool.Exec(ctx, `
		INSERT INTO payment_attempts (merchant_trans_id, order_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5)`,
		att.MerchantTransID, att.OrderID, att.Amount, att.Currency, status)
	if err != nil {
		return fmt.Errorf("record payment attempt: %w", err)
	}
	return nil
}

// Get loads an attempt by merchant transaction id.
func (a *Attempts) Get(ctx context.Context, merchantTransID string) (Attempt, error) {
	row := a.Pool.QueryRow(ctx, `
		SELECT merchant_trans_id, order_id, amount, currency, status, created_at, updated_at
		FROM payment_attempts WHERE merchant_trans_id = $1`, merchantTransID)
	var att Attempt
	if err := row.Scan(&att.MerchantTransID, &att.OrderID, &att.Amount, &att.Currency,
		&att.Status, &att.CreatedAt, &att.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attempt{}, ErrAttemptNotFound
		}
		return Attempt{}, fmt.Errorf("get payment attempt: %w", err)
	}
	return att, nil
}

// SetStatus records the latest known provider status for the attempt.
func (a *Attempts) SetStatus(ctx context.Context, merchantTransID, status string) error {
	tag, err := a.Pool.Exec(ctx, `
		UPDATE payment_attempts SET status = $2, updated_at = now()
		WHERE merchant_trans_id = $1`, merchantTransID, status)
	if err != nil {
		return fmt.Errorf("update payment attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// ListStalePending returns pending attempts older than minAge, oldest
// first, for the reconciliation sweep.
func (a *Attempts) ListStalePending(ctx context.Context, minAge time.Duration, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.Pool.Query(ctx, `
		SELECT merchant_trans_id, order_id, amount, currency, status, created_at, updated_at
		FROM payment_attempts
		WHERE status = 'PENDING' AND created_at < now() - $1::interval
		ORDER BY created_at ASC
		LIMIT $2`, fmt.Sprintf("%d seconds", int(minAge.Seconds())), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale attempts: %w", err)
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		var att Attempt
		if err := rows.Scan(&att.MerchantTransID, &att.OrderID, &att.Amount, &att.Currency,
			&att.Status, &att.CreatedAt, &att.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, att)
	}
	return out, rows.Err()
}
