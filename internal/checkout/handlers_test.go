package checkout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/adjemin-bridge/internal/adjemin"
	"github.com/noah-isme/adjemin-bridge/internal/store"
)

func postInitiate(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.Initiate(rr, req)
	return rr
}

func TestInitiateHandlerReturnsRedirect(t *testing.T) {
	gw := &stubGateway{redirect: "https://pay.example/s/abc"}
	h := &Handler{Svc: newTestService(gw, nil)}

	rr := postInitiate(h, `{"orderId":42}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		RedirectURL     string `json:"redirectUrl"`
		MerchantTransID string `json:"merchantTransId"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "https://pay.example/s/abc", resp.RedirectURL)
	require.True(t, strings.HasPrefix(resp.MerchantTransID, "order_42_"))
}

func TestInitiateHandlerBadRequest(t *testing.T) {
	h := &Handler{Svc: newTestService(&stubGateway{}, nil)}

	for _, body := range []string{``, `not json`, `{"orderId":0}`} {
		rr := postInitiate(h, body)
		require.Equal(t, http.StatusBadRequest, rr.Code, "body %q", body)
	}
}

func TestInitiateHandlerOrderNotFound(t *testing.T) {
	h := &Handler{Svc: newTestService(&stubGateway{redirect: "x"}, nil)}

	rr := postInitiate(h, `{"orderId":999}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), "ORDER_NOT_FOUND")
}

func TestInitiateHandlerAuthFailure(t *testing.T) {
	svc := newTestService(&stubGateway{redirect: "x"}, nil)
	svc.Tokens = stubTokens{err: &adjemin.AuthError{}}
	h := &Handler{Svc: svc}

	rr := postInitiate(h, `{"orderId":42}`)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Contains(t, rr.Body.String(), "AUTH_FAILED")
	require.Contains(t, rr.Body.String(), "Client authentication failed")
}

func TestInitiateHandlerCheckoutFailure(t *testing.T) {
	gw := &stubGateway{err: &adjemin.CheckoutError{}}
	h := &Handler{Svc: newTestService(gw, nil)}

	rr := postInitiate(h, `{"orderId":42}`)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Contains(t, rr.Body.String(), "CHECKOUT_FAILED")
	require.Contains(t, rr.Body.String(), "Error when getting payment URL")
}

type staticAttemptReader struct {
	att store.Attempt
	err error
}

func (s staticAttemptReader) Get(context.Context, string) (store.Attempt, error) {
	return s.att, s.err
}

func TestAttemptStatusHandler(t *testing.T) {
	h := &Handler{Attempts: staticAttemptReader{att: store.Attempt{
		MerchantTransID: "order_42_abc",
		OrderID:         42,
		Amount:          1500,
		Currency:        "XOF",
		Status:          "PENDING",
		CreatedAt:       time.Now(),
	}}}

	r := chi.NewRouter()
	r.Get("/api/v1/payments/{merchantTransId}", h.AttemptStatus)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/payments/order_42_abc", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"merchantTransId":"order_42_abc"`)
	require.Contains(t, rr.Body.String(), `"status":"PENDING"`)
}

func TestAttemptStatusHandlerNotFound(t *testing.T) {
	h := &Handler{Attempts: staticAttemptReader{err: store.ErrAttemptNotFound}}

	r := chi.NewRouter()
	r.Get("/api/v1/payments/{merchantTransId}", h.AttemptStatus)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/payments/unknown", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), "ATTEMPT_NOT_FOUND")
}
