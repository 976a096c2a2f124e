package adjemin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{
		BaseURL:      srv.URL,
		ClientID:     "cid",
		ClientSecret: "secret",
		HTTP:         srv.Client(),
		Logger:       zerolog.Nop(),
	}
}

func TestTokenSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		require.Equal(t, "cid", r.PostForm.Get("client_id"))
		require.Equal(t, "secret", r.PostForm.Get("client_secret"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`))
	})

	token, err := c.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-123", token)
}

func TestTokenRejectedCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Client authentication failed"}`))
	})

	_, err := c.Token(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, "Client authentication failed", authErr.Error())
}

func TestTokenEmptyResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := c.Token(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestCreateCheckoutReturnsPaymentURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/merchants/create_checkout", r.URL.Path)
		require.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"service_payment_url":"https://pay.example/s/abc"}}`))
	})

	redirect, err := c.CreateCheckout(context.Background(), "tok-123", CheckoutRequest{})
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/s/abc", redirect)
}

func TestCreateCheckoutProviderMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"amount below minimum"}`))
	})

	_, err := c.CreateCheckout(context.Background(), "tok", CheckoutRequest{})
	var checkoutErr *CheckoutError
	require.ErrorAs(t, err, &checkoutErr)
	require.Equal(t, "amount below minimum", checkoutErr.Error())
}

func TestCreateCheckoutFallbackMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	})

	_, err := c.CreateCheckout(context.Background(), "tok", CheckoutRequest{})
	var checkoutErr *CheckoutError
	require.ErrorAs(t, err, &checkoutErr)
	require.Equal(t, "Error when getting payment URL", checkoutErr.Error())
}

func TestPaymentStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/merchants/payment/order_42_abc", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"status":"SUCCESSFUL"}}`))
	})

	require.Equal(t, "SUCCESSFUL", c.PaymentStatus(context.Background(), "tok", "order_42_abc"))
}

func TestPaymentStatusFailsClosed(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"malformed body": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		},
		"missing status": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":{}}`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, handler)
			require.Equal(t, StatusFailed, c.PaymentStatus(context.Background(), "tok", "any"))
		})
	}
}

func TestPaymentStatusFailsClosedOnTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	c.HTTP.Timeout = 20 * time.Millisecond

	require.Equal(t, StatusFailed, c.PaymentStatus(context.Background(), "tok", "any"))
}

func TestPaymentStatusFailsClosedOnUnreachableHost(t *testing.T) {
	c := &Client{
		BaseURL: "http://127.0.0.1:0",
		HTTP:    &http.Client{Timeout: 100 * time.Millisecond},
		Logger:  zerolog.Nop(),
	}
	require.Equal(t, StatusFailed, c.PaymentStatus(context.Background(), "tok", "any"))
}

func TestStatusClientFailsClosedWithoutToken(t *testing.T) {
	s := &StatusClient{
		Client: &Client{Logger: zerolog.Nop()},
		Tokens: tokenFunc(func(context.Context) (string, error) {
			return "", errors.New("token endpoint down")
		}),
		Logger: zerolog.Nop(),
	}
	require.Equal(t, StatusFailed, s.Query(context.Background(), "order_42_abc"))
}

type tokenFunc func(ctx context.Context) (string, error)

func (f tokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }
