package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripeCreateIntent(t *testing.T) {
	var gotAuth, gotIdempotency, gotAmount string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotAuth = r.Header.Get("Authorization")
		gotIdempotency = r.Header.Get("Idempotency-Key")
		gotAmount = r.PostForm.Get("amount")
		w.Write([]byte(`{"id":"pi_123","client_secret":"pi_123_secret"}`))
	}))
	defer srv.Close()

	client := NewStripeClient("sk_test_abc", false, zerolog.Nop()).WithBaseURL(srv.URL)
	apptID := uuid.New()

	intent, err := client.CreateIntent(context.Background(), 7500, apptID)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)
	assert.Equal(t, "Bearer sk_test_abc", gotAuth)
	assert.Equal(t, "appt-"+apptID.String(), gotIdempotency)
	assert.Equal(t, "7500", gotAmount)
}

func TestStripeCreateIntentAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"message":"card declined"}}`))
	}))
	defer srv.Close()

	client := NewStripeClient("sk_test_abc", false, zerolog.Nop()).WithBaseURL(srv.URL)

	_, err := client.CreateIntent(context.Background(), 7500, uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")
}

func TestStripeRefund(t *testing.T) {
	var gotIntent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/refunds", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotIntent = r.PostForm.Get("payment_intent")
		w.Write([]byte(`{"id":"re_1","status":"succeeded"}`))
	}))
	defer srv.Close()

	client := NewStripeClient("sk_test_abc", false, zerolog.Nop()).WithBaseURL(srv.URL)

	err := client.Refund(context.Background(), "pi_123", "requested by patient")
	require.NoError(t, err)
	assert.Equal(t, "pi_123", gotIntent)
}

func TestStripeDryRun(t *testing.T) {
	client := NewStripeClient("", true, zerolog.Nop())

	intent, err := client.CreateIntent(context.Background(), 7500, uuid.New())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(intent.ID, "pi_dryrun_"))
	assert.NotEmpty(t, intent.ClientSecret)

	require.NoError(t, client.Refund(context.Background(), intent.ID, "test"))
}
