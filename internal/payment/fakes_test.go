package payment_test

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// fakeProvider — управляемый из теста адаптер.
type fakeProvider struct {
	name string
	kind domain.ProviderKind

	mu           sync.Mutex
	initiateErr  error
	confirm      domain.ProviderResult
	confirmErr   error
	status       domain.ProviderResult
	statusErr    error
	notification domain.ProviderNotification
	webhookErr   error
	lastCode     string

	initiateCalls atomic.Int32
	confirmCalls  atomic.Int32
	statusCalls   atomic.Int32
}

func (p *fakeProvider) Name() string              { return p.name }
func (p *fakeProvider) Kind() domain.ProviderKind { return p.kind }

func (p *fakeProvider) Initiate(_ context.Context, req domain.InitiateRequest) (domain.InitiateResult, error) {
	p.initiateCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCode = req.OtpCode
	if p.initiateErr != nil {
		return domain.InitiateResult{}, p.initiateErr
	}
	if p.kind == domain.ProviderKindRedirect {
		return domain.InitiateResult{CorrelationID: "sess-" + req.TransactionID, LaunchURL: "https://pay/" + req.TransactionID}, nil
	}
	return domain.InitiateResult{Raw: []byte(`{"status":"initiated"}`)}, nil
}

func (p *fakeProvider) Confirm(context.Context, domain.ConfirmRequest) (domain.ProviderResult, error) {
	p.confirmCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confirm, p.confirmErr
}

func (p *fakeProvider) CheckStatus(context.Context, string) (domain.ProviderResult, error) {
	p.statusCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.statusErr
}

func (p *fakeProvider) ParseWebhook([]byte, http.Header) (domain.ProviderNotification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notification, p.webhookErr
}

func (p *fakeProvider) code() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCode
}

func (p *fakeProvider) setStatus(status domain.TransactionStatus, raw string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = domain.ProviderResult{Status: status, ProviderStatus: raw, Raw: []byte(`{"status":"` + raw + `"}`)}
}

// countingLedger считает записи в реестр.
type countingLedger struct {
	domain.TransactionRepository
	creates atomic.Int32
}

func (l *countingLedger) Create(ctx context.Context, tx domain.PaymentTransaction) error {
	l.creates.Add(1)
	return l.TransactionRepository.Create(ctx, tx)
}
