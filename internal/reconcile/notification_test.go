package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNotificationForm(t *testing.T) {
	body := "items=42&status=SUCCESSFUL&merchant_trans_id=mt_abc&operator=orange"
	n, err := ParseNotification("application/x-www-form-urlencoded; charset=utf-8", []byte(body))
	require.NoError(t, err)
	require.Equal(t, "42", n.Items)
	require.Equal(t, "SUCCESSFUL", n.Status)
	require.Equal(t, "mt_abc", n.MerchantTransID)
	require.Equal(t, "orange", n.Raw["operator"], "extra posted fields are preserved for echoing")
}

func TestParseNotificationJSON(t *testing.T) {
	body := `{"items": 42, "status": "FAILED", "merchant_trans_id": "mt_abc", "retry": true}`
	n, err := ParseNotification("application/json", []byte(body))
	require.NoError(t, err)
	require.Equal(t, "42", n.Items, "numeric json fields are carried as their literal form")
	require.Equal(t, "FAILED", n.Status)
	require.Equal(t, "true", n.Raw["retry"])
}

func TestParseNotificationEmptyBody(t *testing.T) {
	for _, body := range []string{"", "   ", "\n"} {
		_, err := ParseNotification("application/x-www-form-urlencoded", []byte(body))
		require.ErrorIs(t, err, ErrEmptyBody)
	}
}

func TestParseNotificationMalformed(t *testing.T) {
	_, err := ParseNotification("application/json", []byte("{not json"))
	require.Error(t, err)

	_, err = ParseNotification("application/x-www-form-urlencoded", []byte("a=%zz"))
	require.Error(t, err)
}

func TestParseStatusExactMatch(t *testing.T) {
	require.Equal(t, KindSuccessful, ParseStatus("SUCCESSFUL").Kind)
	require.Equal(t, KindExpired, ParseStatus("EXPIRED").Kind)
	require.Equal(t, KindCancelled, ParseStatus("CANCELLED").Kind)
	require.Equal(t, KindFailed, ParseStatus("FAILED").Kind)

	// Matching is case sensitive; lowercase variants never transition an order.
	require.Equal(t, KindUnknown, ParseStatus("successful").Kind)
	require.Equal(t, KindUnknown, ParseStatus("PENDING").Kind)
	require.Equal(t, "PENDING", ParseStatus("PENDING").Raw)
}

func TestStatusTerminal(t *testing.T) {
	require.True(t, ParseStatus("SUCCESSFUL").Terminal())
	require.True(t, ParseStatus("EXPIRED").Terminal())
	require.False(t, ParseStatus("INITIATED").Terminal())
}
