package subscription_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
	"github.com/vladislavdragonenkov/policyhub/internal/otp"
	"github.com/vladislavdragonenkov/policyhub/internal/payment"
	"github.com/vladislavdragonenkov/policyhub/internal/sequence"
	"github.com/vladislavdragonenkov/policyhub/internal/storage/memory"
	"github.com/vladislavdragonenkov/policyhub/internal/subscription"
)

type stubProvider struct {
	name         string
	kind         domain.ProviderKind
	confirm      domain.ProviderResult
	status       domain.ProviderResult
	notification domain.ProviderNotification
	confirmCalls atomic.Int32
}

func (p *stubProvider) Name() string              { return p.name }
func (p *stubProvider) Kind() domain.ProviderKind { return p.kind }

func (p *stubProvider) Initiate(_ context.Context, req domain.InitiateRequest) (domain.InitiateResult, error) {
	if p.kind == domain.ProviderKindRedirect {
		return domain.InitiateResult{CorrelationID: "sess-" + req.TransactionID, LaunchURL: "https://pay/" + req.TransactionID}, nil
	}
	return domain.InitiateResult{}, nil
}

func (p *stubProvider) Confirm(context.Context, domain.ConfirmRequest) (domain.ProviderResult, error) {
	p.confirmCalls.Add(1)
	return p.confirm, nil
}

func (p *stubProvider) CheckStatus(context.Context, string) (domain.ProviderResult, error) {
	return p.status, nil
}

func (p *stubProvider) ParseWebhook([]byte, http.Header) (domain.ProviderNotification, error) {
	return p.notification, nil
}

type recordingListener struct {
	mu        sync.Mutex
	stageErr  error
	staged    []domain.Subscription
	contracts []domain.Subscription
	payments  []domain.PaymentTransaction
}

func (l *recordingListener) StageContractIssued(_ context.Context, sub domain.Subscription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stageErr != nil {
		return l.stageErr
	}
	l.staged = append(l.staged, sub)
	return nil
}

func (l *recordingListener) AfterContractIssued(_ context.Context, sub domain.Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.contracts = append(l.contracts, sub)
}

func (l *recordingListener) AfterPaymentResolved(_ context.Context, tx domain.PaymentTransaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payments = append(l.payments, tx)
}

func (l *recordingListener) contractCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.contracts)
}

type harness struct {
	svc      *subscription.Service
	orch     *payment.Orchestrator
	momo     *stubProvider
	checkout *stubProvider
	listener *recordingListener
	timeline domain.TimelineRepository
	counter  domain.SequenceRepository
}

func newHarness(t *testing.T, autoPromote bool, opts ...subscription.Option) harness {
	t.Helper()

	momo := &stubProvider{name: "mobilemoney", kind: domain.ProviderKindChallenge}
	co := &stubProvider{name: "checkout", kind: domain.ProviderKindRedirect}
	codes := otp.NewService(memory.NewOtpStore(), otp.Config{},
		otp.WithGenerator(func(int) (string, error) { return "48213", nil }))
	orch := payment.NewOrchestrator(payment.NewRegistry(momo, co), memory.NewTransactionRepository(), codes)

	counter := memory.NewSequenceRepository()
	fixed := func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) }
	numbers := sequence.NewAllocator(counter, map[string]string{"vie": "VIE", "auto": "AUT"}, "POL", sequence.WithClock(fixed))

	listener := &recordingListener{}
	timeline := memory.NewTimelineRepository()
	svc := subscription.NewService(memory.NewSubscriptionRepository(), orch, numbers, append([]subscription.Option{
		subscription.WithTimeline(timeline),
		subscription.WithContractListener(listener),
		subscription.WithPaymentListener(listener),
		subscription.WithAutoPromote(autoPromote),
	}, opts...)...)

	return harness{svc: svc, orch: orch, momo: momo, checkout: co, listener: listener, timeline: timeline, counter: counter}
}

func (h harness) proposition(t *testing.T, agent string) domain.Subscription {
	t.Helper()
	sub, err := h.svc.Create(context.Background(), subscription.CreateRequest{
		OwnerID:         "cust-1",
		AgentCode:       agent,
		ProductID:       "prod-vie-10",
		ProductCategory: "VIE",
		PremiumMinor:    15000,
		CapitalMinor:    1_000_000,
		Currency:        "xof",
		DurationMonths:  12,
		Phone:           "+2250700000000",
	})
	require.NoError(t, err)
	return sub
}

func TestCreate_Validation(t *testing.T) {
	h := newHarness(t, true)

	_, err := h.svc.Create(context.Background(), subscription.CreateRequest{Currency: "XOF"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, domain.ErrOwnerRequired)
	assert.ErrorIs(t, err, domain.ErrPremiumInvalid)

	sub := h.proposition(t, "")
	assert.Equal(t, domain.SubscriptionStatusProposition, sub.Status)
	assert.Equal(t, "XOF", sub.Currency)
	assert.Empty(t, sub.PolicyNumber)

	list, err := h.svc.ListByOwner(context.Background(), "cust-1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestChallengePayment_EndsInContract(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.momo.confirm = domain.ProviderResult{Status: domain.TransactionStatusCompleted, ProviderStatus: "SUCCESSFUL"}

	sub := h.proposition(t, "AG-7")
	session, err := h.svc.StartPayment(ctx, sub.ID, subscription.PaymentRequest{Provider: "mobilemoney", Country: "CI"})
	require.NoError(t, err)

	pending, err := h.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPaymentPending, pending.Status)
	assert.Equal(t, session.TransactionID, pending.TransactionID)

	out, err := h.svc.ConfirmPayment(ctx, sub.ID, "48213")
	require.NoError(t, err)
	assert.True(t, out.Success())
	assert.Equal(t, int64(15000), out.Transaction.AmountMinor)
	assert.Equal(t, domain.SubscriptionStatusContract, out.Subscription.Status)
	assert.Equal(t, "VIE-2026-000001", out.Subscription.PolicyNumber)
	require.NotNil(t, out.Subscription.ValidatedAt)
	assert.Equal(t, 1, h.listener.contractCount())
	assert.Len(t, h.listener.payments, 1)

	events, err := h.svc.Timeline(ctx, sub.ID)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		subscription.EventSubscriptionCreated,
		subscription.EventPaymentSessionOpened,
		subscription.EventPaymentConfirmed,
		subscription.EventContractIssued,
	}, types)

	_, err = h.svc.StartPayment(ctx, sub.ID, subscription.PaymentRequest{Provider: "mobilemoney"})
	assert.ErrorIs(t, err, domain.ErrSubscriptionAlreadyPaid)
}

func TestChallengePayment_ThreeWrongCodes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	sub := h.proposition(t, "")
	_, err := h.svc.StartPayment(ctx, sub.ID, subscription.PaymentRequest{Provider: "mobilemoney"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := h.svc.ConfirmPayment(ctx, sub.ID, "11111")
		require.ErrorIs(t, err, domain.ErrOtpMismatch)
	}
	_, err = h.svc.ConfirmPayment(ctx, sub.ID, "48213")
	assert.ErrorIs(t, err, domain.ErrOtpRetriesExhausted)
	assert.Zero(t, h.momo.confirmCalls.Load())

	current, err := h.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPaymentPending, current.Status)
	assert.Empty(t, current.PolicyNumber)
}

func TestRedirectCancelled_NotPayable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	sub := h.proposition(t, "")
	session, err := h.svc.StartPayment(ctx, sub.ID, subscription.PaymentRequest{
		Provider:   "checkout",
		SuccessURL: "https://app/ok",
		ErrorURL:   "https://app/ko",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, session.LaunchURL)

	h.checkout.status = domain.ProviderResult{Status: domain.TransactionStatusFailed, ProviderStatus: "cancelled"}
	out, err := h.svc.RefreshPayment(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, out.Transaction.Status)
	assert.False(t, out.Success())
	assert.Equal(t, domain.SubscriptionStatusPaymentPending, out.Subscription.Status)

	_, err = h.svc.PromoteToContract(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotPayable)

	// Закрытая неуспешная попытка не переиспользуется: открывается новая.
	next, err := h.svc.StartPayment(ctx, sub.ID, subscription.PaymentRequest{
		Provider:   "checkout",
		SuccessURL: "https://app/ok",
		ErrorURL:   "https://app/ko",
	})
	require.NoError(t, err)
	assert.NotEqual(t, session.TransactionID, next.TransactionID)
}

func TestRedirectUnknownStatus_StaysPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	sub := h.proposition(t, "")
	_, err := h.svc.StartPayment(ctx, sub.ID, subscription.PaymentRequest{
		Provider: "checkout", SuccessURL: "https://app/ok", ErrorURL: "https://app/ko",
	})
	require.NoError(t, err)

	h.checkout.status = domain.ProviderResult{Status: "", ProviderStatus: "under_review"}
	out, err := h.svc.RefreshPayment(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, out.Transaction.Status)
	assert.Equal(t, domain.SubscriptionStatusPaymentPending, out.Subscription.Status)
	assert.Empty(t, h.listener.payments)
}

func TestWebhook_PromotesSubscription(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	sub := h.proposition(t, "")
	session, err := h.svc.StartPayment(ctx, sub.ID, subscription.PaymentRequest{
		Provider: "checkout", SuccessURL: "https://app/ok", ErrorURL: "https://app/ko",
	})
	require.NoError(t, err)

	h.checkout.notification = domain.ProviderNotification{
		CorrelationID: session.CorrelationID,
		Result:        domain.ProviderResult{Status: domain.TransactionStatusCompleted, ProviderStatus: "paid"},
	}
	out, err := h.svc.ApplyProviderNotification(ctx, "checkout", []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusContract, out.Subscription.Status)

	// Повторное уведомление не выпускает второй номер.
	again, err := h.svc.ApplyProviderNotification(ctx, "checkout", []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, out.Subscription.PolicyNumber, again.Subscription.PolicyNumber)
	assert.Equal(t, 1, h.listener.contractCount())
}

func TestPromoteToContract_ConcurrentCallsIssueOneNumber(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.momo.confirm = domain.ProviderResult{Status: domain.TransactionStatusCompleted}

	sub := h.proposition(t, "")
	_, err := h.svc.StartPayment(ctx, sub.ID, subscription.PaymentRequest{Provider: "mobilemoney"})
	require.NoError(t, err)
	out, err := h.svc.ConfirmPayment(ctx, sub.ID, "48213")
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusPaid, out.Subscription.Status)

	const workers = 25
	numbers := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			promoted, err := h.svc.PromoteToContract(ctx, sub.ID)
			assert.NoError(t, err)
			numbers[i] = promoted.PolicyNumber
		}(i)
	}
	wg.Wait()

	for _, n := range numbers {
		assert.Equal(t, "VIE-2026-000001", n)
	}
	assert.Equal(t, 1, h.listener.contractCount())

	next, err := h.counter.Next(ctx, "VIE")
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)
}

func TestPromoteToContract_UniqueNumbersAcrossSubscriptions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.momo.confirm = domain.ProviderResult{Status: domain.TransactionStatusCompleted}

	const total = 10
	seen := make(map[string]struct{}, total)
	for i := 0; i < total; i++ {
		sub, err := h.svc.Create(ctx, subscription.CreateRequest{
			OwnerID: "cust-1", ProductID: "p", ProductCategory: "vie",
			PremiumMinor: 1000, Currency: "XOF", Phone: "+22507" + string(rune('0'+i)),
		})
		require.NoError(t, err)
		_, err = h.svc.StartPayment(ctx, sub.ID, subscription.PaymentRequest{Provider: "mobilemoney"})
		require.NoError(t, err)
		out, err := h.svc.ConfirmPayment(ctx, sub.ID, "48213")
		require.NoError(t, err)
		seen[out.Subscription.PolicyNumber] = struct{}{}
	}
	assert.Len(t, seen, total)
}

func TestPromoteToContract_RequiresCompletedTransaction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	sub := h.proposition(t, "")
	_, err := h.svc.PromoteToContract(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotPayable)

	_, err = h.svc.StartPayment(ctx, sub.ID, subscription.PaymentRequest{Provider: "mobilemoney"})
	require.NoError(t, err)
	_, err = h.svc.PromoteToContract(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotPayable)
	assert.Zero(t, h.listener.contractCount())
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.momo.confirm = domain.ProviderResult{Status: domain.TransactionStatusCompleted}

	sub := h.proposition(t, "")
	rejected, err := h.svc.Reject(ctx, sub.ID, "medical questionnaire")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusRejected, rejected.Status)
	assert.Equal(t, "medical questionnaire", rejected.RejectReason)

	again, err := h.svc.Reject(ctx, sub.ID, "other")
	require.NoError(t, err)
	assert.Equal(t, rejected.Version, again.Version)

	_, err = h.svc.StartPayment(ctx, sub.ID, subscription.PaymentRequest{Provider: "mobilemoney"})
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotPayable)

	contract := h.proposition(t, "")
	_, err = h.svc.StartPayment(ctx, contract.ID, subscription.PaymentRequest{Provider: "mobilemoney"})
	require.NoError(t, err)
	_, err = h.svc.ConfirmPayment(ctx, contract.ID, "48213")
	require.NoError(t, err)

	_, err = h.svc.Reject(ctx, contract.ID, "late")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestStartPayment_UnknownProviderKeepsProposition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	sub := h.proposition(t, "")
	_, err := h.svc.StartPayment(ctx, sub.ID, subscription.PaymentRequest{Provider: "wire"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)

	current, err := h.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusProposition, current.Status)
	assert.Empty(t, current.TransactionID)
}

func TestTransactionLevelCapture_SettlesLinkedSubscription(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.momo.confirm = domain.ProviderResult{Status: domain.TransactionStatusCompleted}

	sub := h.proposition(t, "")
	session, err := h.svc.StartPayment(ctx, sub.ID, subscription.PaymentRequest{Provider: "mobilemoney"})
	require.NoError(t, err)

	out, err := h.svc.CaptureTransaction(ctx, session.TransactionID, "48213")
	require.NoError(t, err)
	assert.True(t, out.Success())
	assert.Equal(t, domain.SubscriptionStatusContract, out.Subscription.Status)

	refreshed, err := h.svc.RefreshTransaction(ctx, session.TransactionID)
	require.NoError(t, err)
	assert.False(t, refreshed.Resolved)
	assert.Equal(t, out.Subscription.PolicyNumber, refreshed.Subscription.PolicyNumber)
	assert.Equal(t, 1, h.listener.contractCount())
}

func TestTransactionLevelCapture_StandalonePayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.momo.confirm = domain.ProviderResult{Status: domain.TransactionStatusCompleted}

	session, err := h.orch.CreateSession(ctx, payment.SessionRequest{
		Provider:    "mobilemoney",
		AmountMinor: 5000,
		Currency:    "XOF",
		Phone:       "+2250700000001",
	})
	require.NoError(t, err)

	out, err := h.svc.CaptureTransaction(ctx, session.TransactionID, "48213")
	require.NoError(t, err)
	assert.True(t, out.Success())
	assert.Empty(t, out.Subscription.ID)
	assert.Zero(t, h.listener.contractCount())
}

func TestWebhook_EarlierSessionPaidAfterNewSessionOpened(t *testing.T) {
	ctx := context.Background()
	logger, hook := logtest.NewNullLogger()
	h := newHarness(t, true, subscription.WithLogger(logrus.NewEntry(logger)))

	sub := h.proposition(t, "")
	checkout := subscription.PaymentRequest{Provider: "checkout", SuccessURL: "https://app/ok", ErrorURL: "https://app/ko"}
	first, err := h.svc.StartPayment(ctx, sub.ID, checkout)
	require.NoError(t, err)
	second, err := h.svc.StartPayment(ctx, sub.ID, checkout)
	require.NoError(t, err)

	linked, err := h.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, second.TransactionID, linked.TransactionID)

	// Клиент оплатил в первой вкладке.
	h.checkout.notification = domain.ProviderNotification{
		CorrelationID: first.CorrelationID,
		Result:        domain.ProviderResult{Status: domain.TransactionStatusCompleted, ProviderStatus: "paid"},
	}
	out, err := h.svc.ApplyProviderNotification(ctx, "checkout", []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusContract, out.Subscription.Status)
	assert.Equal(t, first.TransactionID, out.Subscription.TransactionID)
	assert.Equal(t, "VIE-2026-000001", out.Subscription.PolicyNumber)
	for _, e := range hook.AllEntries() {
		assert.Greater(t, e.Level, logrus.ErrorLevel, e.Message)
	}

	// Вторая вкладка тоже оплачена: премия списана, но подписка уже контракт.
	h.checkout.notification = domain.ProviderNotification{
		CorrelationID: second.CorrelationID,
		Result:        domain.ProviderResult{Status: domain.TransactionStatusCompleted, ProviderStatus: "paid"},
	}
	dup, err := h.svc.ApplyProviderNotification(ctx, "checkout", []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, dup.Subscription.TransactionID)
	assert.Equal(t, 1, h.listener.contractCount())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, second.TransactionID, entry.Data["transaction_id"])
	assert.Equal(t, first.TransactionID, entry.Data["linked_transaction_id"])
}

func TestSettle_CompletedPaymentOnRejectedSubscriptionIsLogged(t *testing.T) {
	ctx := context.Background()
	logger, hook := logtest.NewNullLogger()
	h := newHarness(t, true, subscription.WithLogger(logrus.NewEntry(logger)))
	h.momo.confirm = domain.ProviderResult{Status: domain.TransactionStatusCompleted}

	sub := h.proposition(t, "")
	session, err := h.svc.StartPayment(ctx, sub.ID, subscription.PaymentRequest{Provider: "mobilemoney"})
	require.NoError(t, err)
	_, err = h.svc.Reject(ctx, sub.ID, "duplicate proposal")
	require.NoError(t, err)

	out, err := h.svc.CaptureTransaction(ctx, session.TransactionID, "48213")
	require.NoError(t, err)
	assert.True(t, out.Success())
	assert.Equal(t, domain.SubscriptionStatusRejected, out.Subscription.Status)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, session.TransactionID, entry.Data["transaction_id"])
}

func TestPromoteToContract_EventStagedWithTransition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.momo.confirm = domain.ProviderResult{Status: domain.TransactionStatusCompleted}

	sub := h.proposition(t, "AG-7")
	_, err := h.svc.StartPayment(ctx, sub.ID, subscription.PaymentRequest{Provider: "mobilemoney"})
	require.NoError(t, err)
	_, err = h.svc.ConfirmPayment(ctx, sub.ID, "48213")
	require.NoError(t, err)

	h.listener.stageErr = errors.New("outbox unavailable")
	_, err = h.svc.PromoteToContract(ctx, sub.ID)
	require.ErrorContains(t, err, "outbox unavailable")

	current, err := h.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPaid, current.Status)
	assert.Empty(t, current.PolicyNumber)
	assert.Zero(t, h.listener.contractCount())

	h.listener.stageErr = nil
	promoted, err := h.svc.PromoteToContract(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, h.listener.staged, 1)
	assert.Equal(t, promoted.PolicyNumber, h.listener.staged[0].PolicyNumber)
	assert.Equal(t, domain.SubscriptionStatusContract, h.listener.staged[0].Status)
	assert.Equal(t, 1, h.listener.contractCount())
}
