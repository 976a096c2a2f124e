package adjemin

import (
	"context"

	"github.com/rs/zerolog"
)

// StatusClient adapts the AdjeminPay client to a fail-closed status query:
// any failure along the way, including token acquisition, resolves to the
// FAILED sentinel rather than an error.
type StatusClient struct {
	Client *Client
	Tokens Tokener
	Logger zerolog.Logger
}

// Query returns the provider's status for the merchant transaction id, or
// StatusFailed when it cannot be determined.
func (s *StatusClient) Query(ctx context.Context, merchantTransID string) string {
	token, err := s.Tokens.Token(ctx)
	if err != nil {
		s.Logger.Warn().Str("merchant_trans_id", merchantTransID).Err(err).
			Msg("token unavailable for status query, failing closed")
		return StatusFailed
	}
	return s.Client.PaymentStatus(ctx, token, merchantTransID)
}
