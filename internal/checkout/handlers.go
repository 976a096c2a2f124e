package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/adjemin-bridge/internal/adjemin"
	"github.com/noah-isme/adjemin-bridge/internal/common"
	"github.com/noah-isme/adjemin-bridge/internal/store"
)

// AttemptReader exposes read access to the payment-attempt ledger.
type AttemptReader interface {
	Get(ctx context.Context, merchantTransID string) (store.Attempt, error)
}

// Handler exposes HTTP endpoints for checkout initiation and attempt status.
type Handler struct {
	Svc      *Service
	Attempts AttemptReader
}

type initiateReq struct {
	OrderID int64 `json:"orderId"`
}

type initiateResp struct {
	RedirectURL     string `json:"redirectUrl"`
	MerchantTransID string `json:"merchantTransId"`
}

// Initiate creates a checkout session and returns the hosted payment URL.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "CHECKOUT_NOT_CONFIGURED", "checkout handler unavailable", nil)
		return
	}
	var req initiateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if req.OrderID <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "orderId is required", nil)
		return
	}

	session, err := h.Svc.Initiate(r.Context(), req.OrderID)
	if err != nil {
		h.renderInitiateError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, initiateResp{
		RedirectURL:     session.RedirectURL,
		MerchantTransID: session.MerchantTransID,
	})
}

// renderInitiateError maps typed provider failures onto the "payment could
// not be started" surface without leaking transport details to the shopper.
func (h *Handler) renderInitiateError(w http.ResponseWriter, err error) {
	if ErrOrderNotFound(err) {
		common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
		return
	}
	var authErr *adjemin.AuthError
	if errors.As(err, &authErr) {
		common.JSONError(w, http.StatusBadGateway, "AUTH_FAILED", authErr.Error(), nil)
		return
	}
	var checkoutErr *adjemin.CheckoutError
	if errors.As(err, &checkoutErr) {
		common.JSONError(w, http.StatusBadGateway, "CHECKOUT_FAILED", checkoutErr.Error(), nil)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		common.JSONError(w, http.StatusGatewayTimeout, "CHECKOUT_TIMEOUT", "payment could not be started", nil)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "CHECKOUT_FAILED", "payment could not be started", nil)
}

type attemptResp struct {
	MerchantTransID string    `json:"merchantTransId"`
	OrderID         int64     `json:"orderId"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// AttemptStatus reports the last known status of a payment attempt.
func (h *Handler) AttemptStatus(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Attempts == nil {
		common.JSONError(w, http.StatusInternalServerError, "CHECKOUT_NOT_CONFIGURED", "attempt store unavailable", nil)
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "merchantTransId"))
	if id == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "merchantTransId is required", nil)
		return
	}
	att, err := h.Attempts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrAttemptNotFound) {
			common.JSONError(w, http.StatusNotFound, "ATTEMPT_NOT_FOUND", "payment attempt not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "ATTEMPT_FETCH_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, attemptResp{
		MerchantTransID: att.MerchantTransID,
		OrderID:         att.OrderID,
		Amount:          att.Amount,
		Currency:        att.Currency,
		Status:          att.Status,
		CreatedAt:       att.CreatedAt,
		UpdatedAt:       att.UpdatedAt,
	})
}
