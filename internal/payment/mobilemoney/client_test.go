package mobilemoney_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
	"github.com/vladislavdragonenkov/policyhub/internal/payment/mobilemoney"
)

const secret = "s3cr3t"

func newServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body map[string]any)) *mobilemoney.Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get("X-Api-Key"))
		assert.NotEmpty(t, r.Header.Get("X-Timestamp"))
		assert.Len(t, r.Header.Get("X-Signature"), 64)

		var body map[string]any
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			if len(raw) > 0 {
				require.NoError(t, json.Unmarshal(raw, &body))
			}
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, r, body)
	}))
	t.Cleanup(srv.Close)

	return mobilemoney.New(mobilemoney.Config{BaseURL: srv.URL, APIKey: "key-1", Secret: secret})
}

func TestClient_InitiateSendsCode(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		assert.Equal(t, "/v1/challenges", r.URL.Path)
		assert.Equal(t, "CI", body["country"])
		assert.Contains(t, body["message"], "48213")
		_, _ = w.Write([]byte(`{"reference":"tx-1","status":"initiated"}`))
	})

	res, err := client.Initiate(context.Background(), domain.InitiateRequest{
		TransactionID: "tx-1", Country: "CI", Phone: "+2250700", OtpCode: "48213",
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-1", res.CorrelationID)
	assert.Contains(t, string(res.Raw), "initiated")
	assert.Equal(t, domain.ProviderKindChallenge, client.Kind())
}

func TestClient_ConfirmMapsStatus(t *testing.T) {
	cases := map[string]domain.TransactionStatus{
		"SUCCESSFUL":     domain.TransactionStatusCompleted,
		"failed":         domain.TransactionStatusFailed,
		"PENDING":        domain.TransactionStatusPending,
		"something_else": domain.TransactionStatusPending,
	}
	for providerStatus, want := range cases {
		providerStatus, want := providerStatus, want
		t.Run(providerStatus, func(t *testing.T) {
			client := newServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
				assert.Equal(t, "/v1/debits", r.URL.Path)
				assert.EqualValues(t, 15000, body["amount"])
				_, _ = w.Write([]byte(`{"reference":"tx-1","status":"` + providerStatus + `"}`))
			})

			res, err := client.Confirm(context.Background(), domain.ConfirmRequest{
				TransactionID: "tx-1", AmountMinor: 15000, Currency: "XOF", Country: "CI", Phone: "p", Code: "48213",
			})
			require.NoError(t, err)
			assert.Equal(t, want, res.Status)
			assert.Equal(t, providerStatus, res.ProviderStatus)
		})
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	rejected := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid phone"}`))
	})
	_, err := rejected.Confirm(context.Background(), domain.ConfirmRequest{TransactionID: "tx-1"})
	require.ErrorIs(t, err, domain.ErrProviderRejected)
	assert.Contains(t, string(domain.RawFromError(err)), "invalid phone")

	down := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err = down.CheckStatus(context.Background(), "tx-1")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

	unreachable := mobilemoney.New(mobilemoney.Config{BaseURL: "http://127.0.0.1:1", APIKey: "k", Secret: "s"})
	_, err = unreachable.CheckStatus(context.Background(), "tx-1")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestSign_IsOrderIndependentAndVerifiable(t *testing.T) {
	a := mobilemoney.Sign(secret, "1700000000", map[string]string{"b": "2", "a": "1"})
	b := mobilemoney.Sign(secret, "1700000000", map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, a, b)
	assert.NoError(t, mobilemoney.VerifySignature(secret, "1700000000", a, map[string]string{"a": "1", "b": "2"}))
	assert.ErrorIs(t, mobilemoney.VerifySignature(secret, "1700000001", a, map[string]string{"a": "1", "b": "2"}), domain.ErrInvalidSignature)
	assert.False(t, strings.EqualFold(a, mobilemoney.Sign("other", "1700000000", map[string]string{"a": "1", "b": "2"})))
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, mobilemoney.Config{}.Validate())
	assert.Error(t, mobilemoney.Config{BaseURL: "http://x"}.Validate())
	assert.NoError(t, mobilemoney.Config{BaseURL: "http://x", APIKey: "k", Secret: "s"}.Validate())
}
