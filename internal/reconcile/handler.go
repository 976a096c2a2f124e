package reconcile

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/adjemin-bridge/internal/common"
	"github.com/noah-isme/adjemin-bridge/internal/obs"
)

const maxNotificationBytes = 1 << 20

// failureBody is the plain-text body returned for deliveries that cannot
// be parsed at all. The provider treats the 500 as a signal to redeliver.
const failureBody = "AdjeminPay IPN Request Failure"

// Handler receives AdjeminPay IPN deliveries, deduplicates replays and
// hands parsed notifications to the engine.
type Handler struct {
	Engine *Engine
	Logger zerolog.Logger

	// Redis enables replay dedupe when set. A duplicate delivery within
	// ReplayTTL gets a neutral 200 so the provider stops retrying.
	Redis     *redis.Client
	ReplayTTL time.Duration
}

// Receive is the POST /webhooks/adjeminpay endpoint.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		h.count("read_error")
		common.Text(w, http.StatusInternalServerError, failureBody)
		return
	}

	n, err := ParseNotification(r.Header.Get("Content-Type"), body)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("unparseable ipn delivery")
		h.count("parse_error")
		common.Text(w, http.StatusInternalServerError, failureBody)
		return
	}

	replayKey, dup := h.replayed(r, string(body))
	if dup {
		h.Logger.Info().Str("merchant_trans_id", n.MerchantTransID).Msg("duplicate ipn delivery dropped")
		h.count("replay")
		w.WriteHeader(http.StatusOK)
		return
	}

	outcome := h.Engine.Reconcile(r.Context(), n)
	switch outcome.Kind {
	case OutcomeOrderMissing:
		h.count("order_missing")
		common.JSON(w, http.StatusInternalServerError, map[string]any{
			"message": "items not available in params",
			"params":  outcome.Params,
		})
	case OutcomeAlreadyPaid:
		h.count("already_paid")
		w.WriteHeader(http.StatusOK)
	case OutcomeMismatch:
		h.count("mismatch")
		w.WriteHeader(http.StatusOK)
	case OutcomeError:
		h.count("error")
		// The 500 asks the provider to redeliver the same bytes, so the
		// replay mark must not survive a failed reconciliation.
		h.forget(r.Context(), replayKey)
		common.Text(w, http.StatusInternalServerError, failureBody)
	default:
		h.count("acked")
		common.JSON(w, http.StatusOK, outcome.Ack)
	}
}

// replayed marks the delivery body as seen and reports whether it was
// already seen within the replay window, returning the mark's key so a
// failed reconciliation can drop it again. Dedupe is best effort: a Redis
// failure lets the delivery through.
func (h *Handler) replayed(r *http.Request, body string) (string, bool) {
	if h.Redis == nil || h.ReplayTTL <= 0 {
		return "", false
	}
	key := "ipn:" + common.Sha256Hex(body)
	ok, err := h.Redis.SetNX(r.Context(), key, "1", h.ReplayTTL).Result()
	if err != nil {
		h.Logger.Error().Err(err).Msg("ipn replay check failed")
		return "", false
	}
	return key, !ok
}

// forget removes a replay mark set by this delivery.
func (h *Handler) forget(ctx context.Context, key string) {
	if h.Redis == nil || key == "" {
		return
	}
	if err := h.Redis.Del(ctx, key).Err(); err != nil {
		h.Logger.Error().Err(err).Str("key", key).Msg("ipn replay mark release failed")
	}
}

func (h *Handler) count(result string) {
	if obs.IPNTotal != nil {
		obs.IPNTotal.WithLabelValues(result).Inc()
	}
}
