package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/adjemin-bridge/internal/common"
	"github.com/noah-isme/adjemin-bridge/internal/order"
)

func newIPNHandler(store order.Store, status string) *Handler {
	engine, _, _ := newTestEngine(store, status)
	return &Handler{Engine: engine, Logger: zerolog.Nop()}
}

func postIPN(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/adjeminpay", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.Receive(rr, req)
	return rr
}

func ipnForm(items, status, mtid string) string {
	form := url.Values{}
	form.Set("items", items)
	form.Set("status", status)
	form.Set("merchant_trans_id", mtid)
	return form.Encode()
}

func TestReceiveEmptyBody(t *testing.T) {
	h := newIPNHandler(order.NewMemoryStore(), "SUCCESSFUL")

	rr := postIPN(h, "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "AdjeminPay IPN Request Failure", rr.Body.String())
}

func TestReceiveAcknowledgesVerifiedPayment(t *testing.T) {
	store := order.NewMemoryStore(pendingOrder(42))
	h := newIPNHandler(store, "SUCCESSFUL")

	rr := postIPN(h, ipnForm("42", "SUCCESSFUL", "order_42_abc"))
	require.Equal(t, http.StatusOK, rr.Code)

	var ack Ack
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ack))
	require.Equal(t, "OK", ack.Code)
	require.Equal(t, "order_42_abc", ack.MerchantTransID)
	require.Equal(t, "SUCCESSFUL", ack.Status)
	require.Equal(t, ">>> SUCCESSFUL", ack.Message)

	o, err := store.Get(t.Context(), 42)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, o.Status)
}

func TestReceiveMissingOrderEchoesParams(t *testing.T) {
	h := newIPNHandler(order.NewMemoryStore(), "SUCCESSFUL")

	rr := postIPN(h, ipnForm("", "SUCCESSFUL", "order_1_x"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	var body struct {
		Message string            `json:"message"`
		Params  map[string]string `json:"params"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "items not available in params", body.Message)
	require.Equal(t, "SUCCESSFUL", body.Params["status"])
	require.Equal(t, "order_1_x", body.Params["merchant_trans_id"])
}

func TestReceiveMismatchReturnsNeutralOK(t *testing.T) {
	store := order.NewMemoryStore(pendingOrder(42))
	h := newIPNHandler(store, "FAILED")

	rr := postIPN(h, ipnForm("42", "SUCCESSFUL", "order_42_abc"))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, rr.Body.String(), "a dropped notification must not carry an ack body")

	o, err := store.Get(t.Context(), 42)
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, o.Status)
}

func TestReceiveDeduplicatesReplays(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	store := order.NewMemoryStore(pendingOrder(42))
	h := newIPNHandler(store, "SUCCESSFUL")
	h.Redis = client
	h.ReplayTTL = time.Minute

	body := ipnForm("42", "SUCCESSFUL", "order_42_abc")

	rr1 := postIPN(h, body)
	require.Equal(t, http.StatusOK, rr1.Code)
	require.Contains(t, rr1.Body.String(), `"code":"OK"`)

	rr2 := postIPN(h, body)
	require.Equal(t, http.StatusOK, rr2.Code)
	require.Empty(t, rr2.Body.String(), "a replayed delivery gets a neutral 200")
}

// flakyStore fails a number of Get calls before delegating, simulating a
// transient database outage during the locked reload.
type flakyStore struct {
	order.Store
	failGets int
}

func (s *flakyStore) Get(ctx context.Context, id int64) (order.Order, error) {
	if s.failGets > 0 {
		s.failGets--
		return order.Order{}, errors.New("connection reset")
	}
	return s.Store.Get(ctx, id)
}

func TestReceiveRedeliveryAfterTransientFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	inner := order.NewMemoryStore(pendingOrder(42))
	store := &flakyStore{Store: inner, failGets: 1}
	engine, _, _ := newTestEngine(store, "SUCCESSFUL")
	h := &Handler{Engine: engine, Logger: zerolog.Nop(), Redis: client, ReplayTTL: time.Minute}

	body := ipnForm("42", "SUCCESSFUL", "order_42_abc")

	rr1 := postIPN(h, body)
	require.Equal(t, http.StatusInternalServerError, rr1.Code)
	require.False(t, mr.Exists("ipn:"+common.Sha256Hex(body)),
		"a failed reconciliation must not leave a replay mark behind")

	// The provider redelivers the identical bytes; they must reach the
	// engine instead of being dropped as a replay.
	rr2 := postIPN(h, body)
	require.Equal(t, http.StatusOK, rr2.Code)
	require.Contains(t, rr2.Body.String(), `"code":"OK"`)

	o, err := inner.Get(t.Context(), 42)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, o.Status)
}

func TestReceiveJSONBody(t *testing.T) {
	store := order.NewMemoryStore(pendingOrder(42))
	h := newIPNHandler(store, "SUCCESSFUL")

	payload := `{"items":"42","status":"SUCCESSFUL","merchant_trans_id":"order_42_abc"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/adjeminpay", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.Receive(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":"SUCCESSFUL"`)
}
