package payment_test

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
	"github.com/vladislavdragonenkov/policyhub/internal/payment"
)

func fastResilience() payment.ResilienceConfig {
	return payment.ResilienceConfig{
		MaxFailures:   2,
		ResetTimeout:  30 * time.Millisecond,
		StatusRetries: 2,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 2 * time.Millisecond,
	}
}

func unavailable() error {
	return fmt.Errorf("%w: connection reset", domain.ErrProviderUnavailable)
}

func TestGuard_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &fakeProvider{name: "mobilemoney", kind: domain.ProviderKindChallenge, confirmErr: unavailable()}
	guarded := payment.Guard(inner, fastResilience(), nil)

	for i := 0; i < 2; i++ {
		_, err := guarded.Confirm(context.Background(), domain.ConfirmRequest{TransactionID: "tx"})
		require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	}
	assert.Equal(t, payment.CircuitOpen, guarded.Breaker().State())

	_, err := guarded.Confirm(context.Background(), domain.ConfirmRequest{TransactionID: "tx"})
	assert.ErrorIs(t, err, payment.ErrCircuitOpen)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, int32(2), inner.confirmCalls.Load(), "open breaker must not reach provider")
}

func TestGuard_HalfOpenClosesOnSuccess(t *testing.T) {
	inner := &fakeProvider{name: "mobilemoney", kind: domain.ProviderKindChallenge, confirmErr: unavailable()}
	guarded := payment.Guard(inner, fastResilience(), nil)

	for i := 0; i < 2; i++ {
		_, _ = guarded.Confirm(context.Background(), domain.ConfirmRequest{})
	}
	require.Equal(t, payment.CircuitOpen, guarded.Breaker().State())

	inner.mu.Lock()
	inner.confirmErr = nil
	inner.confirm = domain.ProviderResult{Status: domain.TransactionStatusCompleted}
	inner.mu.Unlock()
	time.Sleep(40 * time.Millisecond)

	res, err := guarded.Confirm(context.Background(), domain.ConfirmRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, res.Status)
	assert.Equal(t, payment.CircuitClosed, guarded.Breaker().State())
}

// gatedProvider задерживает успешный Confirm, пока тест не откроет release.
type gatedProvider struct {
	*fakeProvider
	entered chan struct{}
	release chan struct{}
}

func (p *gatedProvider) Confirm(ctx context.Context, req domain.ConfirmRequest) (domain.ProviderResult, error) {
	res, err := p.fakeProvider.Confirm(ctx, req)
	if err == nil {
		p.entered <- struct{}{}
		<-p.release
	}
	return res, err
}

func TestGuard_HalfOpenAdmitsSingleTrialCall(t *testing.T) {
	inner := &gatedProvider{
		fakeProvider: &fakeProvider{name: "mobilemoney", kind: domain.ProviderKindChallenge, confirmErr: unavailable()},
		entered:      make(chan struct{}, 8),
		release:      make(chan struct{}),
	}
	guarded := payment.Guard(inner, fastResilience(), nil)

	for i := 0; i < 2; i++ {
		_, _ = guarded.Confirm(context.Background(), domain.ConfirmRequest{})
	}
	require.Equal(t, payment.CircuitOpen, guarded.Breaker().State())

	inner.mu.Lock()
	inner.confirmErr = nil
	inner.confirm = domain.ProviderResult{Status: domain.TransactionStatusCompleted}
	inner.mu.Unlock()
	time.Sleep(40 * time.Millisecond)

	trial := make(chan error, 1)
	go func() {
		_, err := guarded.Confirm(context.Background(), domain.ConfirmRequest{})
		trial <- err
	}()
	<-inner.entered
	assert.Equal(t, payment.CircuitHalfOpen, guarded.Breaker().State())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := guarded.Confirm(context.Background(), domain.ConfirmRequest{})
			assert.ErrorIs(t, err, payment.ErrCircuitOpen)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(3), inner.confirmCalls.Load())

	close(inner.release)
	require.NoError(t, <-trial)
	assert.Equal(t, payment.CircuitClosed, guarded.Breaker().State())

	_, err := guarded.Confirm(context.Background(), domain.ConfirmRequest{})
	assert.NoError(t, err)
}

func TestGuard_HalfOpenTrialFailureReopens(t *testing.T) {
	inner := &fakeProvider{name: "checkout", kind: domain.ProviderKindRedirect, confirmErr: unavailable()}
	guarded := payment.Guard(inner, fastResilience(), nil)

	for i := 0; i < 2; i++ {
		_, _ = guarded.Confirm(context.Background(), domain.ConfirmRequest{})
	}
	time.Sleep(40 * time.Millisecond)

	_, err := guarded.Confirm(context.Background(), domain.ConfirmRequest{})
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, payment.CircuitOpen, guarded.Breaker().State())

	_, err = guarded.Confirm(context.Background(), domain.ConfirmRequest{})
	assert.ErrorIs(t, err, payment.ErrCircuitOpen)
	assert.Equal(t, int32(3), inner.confirmCalls.Load())
}

func TestGuard_BusinessRejectionsDoNotTrip(t *testing.T) {
	inner := &fakeProvider{name: "mobilemoney", kind: domain.ProviderKindChallenge,
		confirmErr: fmt.Errorf("%w: insufficient funds", domain.ErrProviderRejected)}
	guarded := payment.Guard(inner, fastResilience(), nil)

	for i := 0; i < 5; i++ {
		_, err := guarded.Confirm(context.Background(), domain.ConfirmRequest{})
		require.ErrorIs(t, err, domain.ErrProviderRejected)
	}
	assert.Equal(t, payment.CircuitClosed, guarded.Breaker().State())
}

func TestGuard_CheckStatusRetriesTransientErrors(t *testing.T) {
	inner := &fakeProvider{name: "checkout", kind: domain.ProviderKindRedirect, statusErr: unavailable()}
	cfg := fastResilience()
	cfg.MaxFailures = 0
	guarded := payment.Guard(inner, cfg, nil)

	_, err := guarded.CheckStatus(context.Background(), "sess-1")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, int32(3), inner.statusCalls.Load())

	inner.mu.Lock()
	inner.statusErr = nil
	inner.mu.Unlock()
	inner.setStatus(domain.TransactionStatusCompleted, "paid")

	res, err := guarded.CheckStatus(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, res.Status)
	assert.Equal(t, int32(4), inner.statusCalls.Load())
}

func TestGuard_CheckStatusStopsOnCancelledContext(t *testing.T) {
	inner := &fakeProvider{name: "checkout", kind: domain.ProviderKindRedirect, statusErr: unavailable()}
	cfg := fastResilience()
	cfg.MaxFailures = 0
	cfg.RetryDelay = time.Second
	guarded := payment.Guard(inner, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := guarded.CheckStatus(ctx, "sess-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), inner.statusCalls.Load())
}

type noWebhookProvider struct{ fakeProvider }

func (p *noWebhookProvider) ParseWebhook() {}

func TestGuard_ParseWebhookDelegates(t *testing.T) {
	inner := &fakeProvider{name: "checkout", kind: domain.ProviderKindRedirect,
		notification: domain.ProviderNotification{CorrelationID: "sess-9"}}
	guarded := payment.Guard(inner, fastResilience(), nil)

	n, err := guarded.ParseWebhook([]byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "sess-9", n.CorrelationID)
	assert.Equal(t, "checkout", guarded.Name())
	assert.Equal(t, domain.ProviderKindRedirect, guarded.Kind())

	plain := payment.Guard(&noWebhookProvider{fakeProvider{name: "cash"}}, fastResilience(), nil)
	_, err = plain.ParseWebhook(nil, nil)
	assert.ErrorIs(t, err, domain.ErrOperationNotSupported)
}
