package checkout_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
	"github.com/vladislavdragonenkov/policyhub/internal/payment/checkout"
)

func newClient(t *testing.T, handler http.HandlerFunc) *checkout.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return checkout.New(checkout.Config{BaseURL: srv.URL, APIKey: "sk_test", WebhookSecret: "whsec"})
}

func TestClient_InitiateCreatesSession(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "tx-1", r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sess_1","launch_url":"https://pay.example/sess_1","status":"open"}`))
	})

	res, err := client.Initiate(context.Background(), domain.InitiateRequest{
		TransactionID: "tx-1", AmountMinor: 15000, Currency: "XOF",
		SuccessURL: "https://app/ok", ErrorURL: "https://app/ko",
	})
	require.NoError(t, err)
	assert.Equal(t, "sess_1", res.CorrelationID)
	assert.Equal(t, "https://pay.example/sess_1", res.LaunchURL)
}

func TestClient_InitiateMissingLaunchURL(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sess_1"}`))
	})

	_, err := client.Initiate(context.Background(), domain.InitiateRequest{TransactionID: "tx-1"})
	assert.ErrorIs(t, err, domain.ErrProviderRejected)
}

func TestClient_CheckStatusTotalMapping(t *testing.T) {
	cases := map[string]domain.TransactionStatus{
		"paid":        domain.TransactionStatusCompleted,
		"SUCCEEDED":   domain.TransactionStatusCompleted,
		"cancelled":   domain.TransactionStatusFailed,
		"expired":     domain.TransactionStatusFailed,
		"open":        domain.TransactionStatusPending,
		"on_hold_xyz": domain.TransactionStatusPending,
		"":            domain.TransactionStatusPending,
	}
	for providerStatus, want := range cases {
		providerStatus, want := providerStatus, want
		t.Run("status_"+providerStatus, func(t *testing.T) {
			client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/sessions/sess_1", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id":"sess_1","status":"` + providerStatus + `"}`))
			})

			res, err := client.CheckStatus(context.Background(), "sess_1")
			require.NoError(t, err)
			assert.Equal(t, want, res.Status)
		})
	}
}

func TestClient_ConfirmNotSupported(t *testing.T) {
	client := checkout.New(checkout.Config{BaseURL: "http://localhost", APIKey: "k"})
	_, err := client.Confirm(context.Background(), domain.ConfirmRequest{})
	assert.ErrorIs(t, err, domain.ErrOperationNotSupported)
	assert.Equal(t, domain.ProviderKindRedirect, client.Kind())
}

func TestClient_ParseWebhook(t *testing.T) {
	client := checkout.New(checkout.Config{BaseURL: "http://localhost", APIKey: "k", WebhookSecret: "whsec"})
	payload := []byte(`{"type":"session.updated","data":{"id":"sess_1","status":"paid"}}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	headers := http.Header{}
	headers.Set(checkout.SignatureHeader, "t="+ts+",v1="+checkout.SignWebhook("whsec", ts, payload))

	n, err := client.ParseWebhook(payload, headers)
	require.NoError(t, err)
	assert.Equal(t, "sess_1", n.CorrelationID)
	assert.Equal(t, domain.TransactionStatusCompleted, n.Result.Status)

	headers.Set(checkout.SignatureHeader, "t="+ts+",v1="+checkout.SignWebhook("wrong", ts, payload))
	_, err = client.ParseWebhook(payload, headers)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	headers.Set(checkout.SignatureHeader, "t="+old+",v1="+checkout.SignWebhook("whsec", old, payload))
	_, err = client.ParseWebhook(payload, headers)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = client.ParseWebhook(payload, http.Header{})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.CheckStatus(context.Background(), "sess_1")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}
