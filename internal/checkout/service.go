package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/adjemin-bridge/internal/adjemin"
	"github.com/noah-isme/adjemin-bridge/internal/events"
	"github.com/noah-isme/adjemin-bridge/internal/obs"
	"github.com/noah-isme/adjemin-bridge/internal/order"
	"github.com/noah-isme/adjemin-bridge/internal/store"
)

// Gateway is the subset of the provider client the service needs.
type Gateway interface {
	CreateCheckout(ctx context.Context, token string, payload adjemin.CheckoutRequest) (string, error)
}

// AttemptRecorder persists the payment-attempt ledger entry for a new
// checkout session.
type AttemptRecorder interface {
	Record(ctx context.Context, att store.Attempt) error
}

// Session is the result of a successful checkout initiation.
type Session struct {
	RedirectURL     string
	MerchantTransID string
}

// Service builds provider checkout sessions for orders.
type Service struct {
	Store       order.Store
	Attempts    AttemptRecorder
	Gateway     Gateway
	Tokens      adjemin.Tokener
	Validate    *validator.Validate
	Events      *events.Bus
	WebhookURL  string
	Currency    string
	Designation string
	Logger      zerolog.Logger
}

// Initiate creates a hosted checkout session for the order and returns the
// URL the customer must be redirected to. Authentication and checkout
// failures propagate typed so the HTTP layer can surface a "payment could
// not be started" error; the order is left untouched on failure.
func (s *Service) Initiate(ctx context.Context, orderID int64) (Session, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "CheckoutService.Initiate")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	result := "error"
	defer func() {
		if obs.CheckoutTotal != nil {
			obs.CheckoutTotal.WithLabelValues(result).Inc()
		}
	}()

	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return Session{}, err
	}

	merchantTransID := newMerchantTransID(o.ID)
	transData, err := json.Marshal(orderContext(o))
	if err != nil {
		return Session{}, fmt.Errorf("encode order context: %w", err)
	}

	payload := adjemin.CheckoutRequest{
		// XOF carries no subunits; the order system hands us whole-unit
		// totals and fractions are dropped, matching the gateway contract.
		Amount:            int64(o.Total),
		CurrencyCode:      s.Currency,
		MerchantTransID:   merchantTransID,
		MerchantTransData: string(transData),
		Designation:       s.Designation,
		CustomerEmail:     o.BillingEmail,
		CustomerFirstname: o.BillingFirstName,
		CustomerLastname:  o.BillingLastName,
		WebhookURL:        s.WebhookURL,
		ReturnURL:         returnURL(o.ReceivedURL),
		CancelURL:         o.CancelURL,
	}
	if s.Validate != nil {
		if err := s.Validate.StructCtx(ctx, payload); err != nil {
			return Session{}, &adjemin.CheckoutError{Message: "invalid checkout payload", Err: err}
		}
	}

	token, err := s.Tokens.Token(ctx)
	if err != nil {
		span.RecordError(err)
		return Session{}, err
	}

	redirect, err := s.Gateway.CreateCheckout(ctx, token, payload)
	if err != nil {
		span.RecordError(err)
		return Session{}, err
	}

	if s.Attempts != nil {
		if err := s.Attempts.Record(ctx, store.Attempt{
			MerchantTransID: merchantTransID,
			OrderID:         o.ID,
			Amount:          payload.Amount,
			Currency:        payload.CurrencyCode,
			Status:          "PENDING",
		}); err != nil {
			// The session already exists upstream; losing the ledger row
			// degrades the sweep, not the payment itself.
			s.Logger.Error().Err(err).Str("merchant_trans_id", merchantTransID).Msg("record payment attempt")
		}
	}
	if s.Events != nil {
		if _, err := s.Events.Emit(ctx, events.TopicCheckoutCreated, fmt.Sprintf("%d", o.ID), map[string]any{
			"orderId":         o.ID,
			"merchantTransId": merchantTransID,
			"amount":          payload.Amount,
			"currency":        payload.CurrencyCode,
		}); err != nil {
			s.Logger.Error().Err(err).Int64("order_id", o.ID).Msg("emit checkout event")
		}
	}

	result = "success"
	s.Logger.Info().
		Int64("order_id", o.ID).
		Str("merchant_trans_id", merchantTransID).
		Msg("checkout session created")
	return Session{RedirectURL: redirect, MerchantTransID: merchantTransID}, nil
}

// newMerchantTransID builds the correlation key for one checkout attempt.
// The random suffix keeps concurrent attempts on the same order from
// colliding.
func newMerchantTransID(orderID int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("order_%d_%s", orderID, suffix)
}

// orderContext is the opaque blob echoed back by the provider with the
// notification.
func orderContext(o order.Order) map[string]any {
	return map[string]any{
		"order_id":           o.ID,
		"parent_id":          o.ParentID,
		"user_id":            o.UserID,
		"order_status":       string(o.Status),
		"currency":           o.Currency,
		"date_created":       o.CreatedAt.Format(time.RFC3339),
		"order_received_url": o.ReceivedURL,
		"billing_first_name": o.BillingFirstName,
		"billing_last_name":  o.BillingLastName,
		"billing_phone":      o.BillingPhone,
	}
}

// returnURL appends utm_nooverride so analytics attribute the conversion to
// the original campaign rather than the provider redirect.
func returnURL(received string) string {
	if strings.TrimSpace(received) == "" {
		return received
	}
	u, err := url.Parse(received)
	if err != nil {
		return received
	}
	q := u.Query()
	q.Set("utm_nooverride", "1")
	u.RawQuery = q.Encode()
	return u.String()
}

// ErrOrderNotFound reports whether the initiation failure was a missing order.
func ErrOrderNotFound(err error) bool {
	return errors.Is(err, order.ErrNotFound)
}
