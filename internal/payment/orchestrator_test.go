package payment_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
	"github.com/vladislavdragonenkov/policyhub/internal/otp"
	"github.com/vladislavdragonenkov/policyhub/internal/payment"
	"github.com/vladislavdragonenkov/policyhub/internal/storage/memory"
)

type fixture struct {
	orch     *payment.Orchestrator
	ledger   *countingLedger
	momo     *fakeProvider
	checkout *fakeProvider
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	momo := &fakeProvider{name: "MobileMoney", kind: domain.ProviderKindChallenge}
	co := &fakeProvider{name: "checkout", kind: domain.ProviderKindRedirect}
	ledger := &countingLedger{TransactionRepository: memory.NewTransactionRepository()}
	codes := otp.NewService(memory.NewOtpStore(), otp.Config{MaxAttempts: 3},
		otp.WithGenerator(func(int) (string, error) { return "48213", nil }))

	var seq atomic.Int32
	ids := func() string { return fmt.Sprintf("tx-%d", seq.Add(1)) }

	return fixture{
		orch:     payment.NewOrchestrator(payment.NewRegistry(momo, co, nil), ledger, codes, payment.WithIDGenerator(ids)),
		ledger:   ledger,
		momo:     momo,
		checkout: co,
	}
}

func challengeRequest() payment.SessionRequest {
	return payment.SessionRequest{
		SubscriptionID: "s-1",
		Provider:       "mobilemoney",
		AmountMinor:    15000,
		Currency:       "xof",
		Country:        "ci",
		Phone:          "+2250700000000",
	}
}

func redirectRequest() payment.SessionRequest {
	return payment.SessionRequest{
		Provider:    "CHECKOUT",
		AmountMinor: 15000,
		Currency:    "XOF",
		SuccessURL:  "https://app/ok",
		ErrorURL:    "https://app/ko",
	}
}

func TestCreateSession_UnknownProviderWritesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.CreateSession(context.Background(), payment.SessionRequest{Provider: "paypal", AmountMinor: 1, Currency: "XOF"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)
	assert.Zero(t, f.ledger.creates.Load())
}

func TestCreateSession_ValidationWritesNothing(t *testing.T) {
	f := newFixture(t)

	req := challengeRequest()
	req.Phone = ""
	req.AmountMinor = 0
	_, err := f.orch.CreateSession(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, domain.ErrPhoneRequired)
	assert.ErrorIs(t, err, domain.ErrAmountInvalid)

	redirect := redirectRequest()
	redirect.ErrorURL = ""
	_, err = f.orch.CreateSession(context.Background(), redirect)
	assert.ErrorIs(t, err, domain.ErrReturnURLRequired)
	assert.Zero(t, f.ledger.creates.Load())
}

func TestChallengeScenario_CaptureCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.momo.confirm = domain.ProviderResult{Status: domain.TransactionStatusCompleted, ProviderStatus: "SUCCESSFUL", Raw: []byte(`{"status":"SUCCESSFUL"}`)}

	session, err := f.orch.CreateSession(ctx, challengeRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderKindChallenge, session.Kind)
	assert.Equal(t, session.TransactionID, session.CorrelationID)
	assert.Equal(t, "48213", f.momo.code())

	pending, err := f.orch.Get(ctx, session.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, pending.Status)
	assert.Equal(t, "XOF", pending.Currency)

	res, err := f.orch.VerifyAndCapture(ctx, session.TransactionID, "48213")
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.True(t, res.Resolved)
	assert.Equal(t, int64(15000), res.Transaction.AmountMinor)

	again, err := f.orch.VerifyAndCapture(ctx, session.TransactionID, "48213")
	require.NoError(t, err)
	assert.False(t, again.Resolved)
	assert.Equal(t, domain.TransactionStatusCompleted, again.Transaction.Status)
	assert.Equal(t, int32(1), f.momo.confirmCalls.Load())
}

func TestChallenge_WrongCodeNeverReachesProvider(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, err := f.orch.CreateSession(ctx, challengeRequest())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.orch.VerifyAndCapture(ctx, session.TransactionID, "00000")
		assert.ErrorIs(t, err, domain.ErrOtpMismatch)
	}
	res, err := f.orch.VerifyAndCapture(ctx, session.TransactionID, "48213")
	assert.ErrorIs(t, err, domain.ErrOtpRetriesExhausted)
	assert.Equal(t, domain.TransactionStatusPending, res.Transaction.Status)
	assert.Zero(t, f.momo.confirmCalls.Load())

	require.NoError(t, f.orch.ReissueChallenge(ctx, session.TransactionID))
	f.momo.confirm = domain.ProviderResult{Status: domain.TransactionStatusCompleted}
	res, err = f.orch.VerifyAndCapture(ctx, session.TransactionID, "48213")
	require.NoError(t, err)
	assert.True(t, res.Success())
}

func TestChallenge_CodeOfAnotherTransactionOnSamePhone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.momo.confirm = domain.ProviderResult{Status: domain.TransactionStatusCompleted}

	first, err := f.orch.CreateSession(ctx, challengeRequest())
	require.NoError(t, err)
	// Новая сессия на тот же телефон заменяет вызов первой.
	second, err := f.orch.CreateSession(ctx, challengeRequest())
	require.NoError(t, err)

	res, err := f.orch.VerifyAndCapture(ctx, first.TransactionID, f.momo.code())
	assert.ErrorIs(t, err, domain.ErrOtpMismatch)
	assert.Equal(t, domain.TransactionStatusPending, res.Transaction.Status)
	assert.Zero(t, f.momo.confirmCalls.Load())

	res, err = f.orch.VerifyAndCapture(ctx, second.TransactionID, f.momo.code())
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, second.TransactionID, res.Transaction.ID)
}

func TestChallenge_InitiateFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.momo.initiateErr = domain.NewProviderError("mobilemoney", domain.ErrProviderUnavailable, []byte(`{"error":"timeout"}`))

	_, err := f.orch.CreateSession(ctx, challengeRequest())
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	require.Equal(t, int32(1), f.ledger.creates.Load())

	tx, err := f.orch.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, tx.Status)
	assert.JSONEq(t, `{"error":"timeout"}`, string(tx.RawResponse))

	_, err = f.orch.VerifyAndCapture(ctx, "tx-1", "48213")
	assert.NoError(t, err)
	assert.Zero(t, f.momo.confirmCalls.Load())
}

func TestChallenge_DebitFailureMarksFailedWithRaw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.momo.confirmErr = domain.NewProviderError("mobilemoney", errors.New("connection reset"), []byte(`{"raw":true}`))

	session, err := f.orch.CreateSession(ctx, challengeRequest())
	require.NoError(t, err)

	res, err := f.orch.VerifyAndCapture(ctx, session.TransactionID, "48213")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, domain.TransactionStatusFailed, res.Transaction.Status)
	assert.JSONEq(t, `{"raw":true}`, string(res.Transaction.RawResponse))

	assert.ErrorIs(t, f.orch.ReissueChallenge(ctx, session.TransactionID), domain.ErrTransactionClosed)
}

func TestRedirect_UnknownStatusStaysPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, err := f.orch.CreateSession(ctx, redirectRequest())
	require.NoError(t, err)
	assert.Equal(t, "sess-"+session.TransactionID, session.CorrelationID)
	assert.NotEmpty(t, session.LaunchURL)

	f.checkout.setStatus("", "on_hold_by_bank")
	res, err := f.orch.CheckStatus(ctx, session.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, res.Transaction.Status)
	assert.False(t, res.Success())
	assert.Contains(t, string(res.Transaction.RawResponse), "on_hold_by_bank")
}

func TestRedirect_CancelledFailsAndFreezes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, err := f.orch.CreateSession(ctx, redirectRequest())
	require.NoError(t, err)

	f.checkout.setStatus(domain.TransactionStatusFailed, "cancelled")
	res, err := f.orch.CheckStatus(ctx, session.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, res.Transaction.Status)
	assert.True(t, res.Resolved)

	f.checkout.setStatus(domain.TransactionStatusCompleted, "paid")
	res, err = f.orch.CheckStatus(ctx, session.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, res.Transaction.Status)
	assert.Equal(t, int32(1), f.checkout.statusCalls.Load())
}

func TestRedirect_PollErrorKeepsPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, err := f.orch.CreateSession(ctx, redirectRequest())
	require.NoError(t, err)

	f.checkout.statusErr = errors.New("dial tcp: timeout")
	res, err := f.orch.CheckStatus(ctx, session.TransactionID)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, domain.TransactionStatusPending, res.Transaction.Status)
}

func TestRedirect_CaptureNotSupported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, err := f.orch.CreateSession(ctx, redirectRequest())
	require.NoError(t, err)

	_, err = f.orch.VerifyAndCapture(ctx, session.TransactionID, "1")
	assert.ErrorIs(t, err, domain.ErrOperationNotSupported)
}

func TestApplyNotification_UpdatesByCorrelation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, err := f.orch.CreateSession(ctx, redirectRequest())
	require.NoError(t, err)

	f.checkout.notification = domain.ProviderNotification{
		CorrelationID: session.CorrelationID,
		Result:        domain.ProviderResult{Status: domain.TransactionStatusCompleted, ProviderStatus: "paid"},
	}
	res, err := f.orch.ApplyNotification(ctx, "checkout", []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.True(t, res.Success())

	res, err = f.orch.ApplyNotification(ctx, "checkout", []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.False(t, res.Resolved)

	f.checkout.notification.CorrelationID = "unknown"
	_, err = f.orch.ApplyNotification(ctx, "checkout", nil, nil)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	f.checkout.webhookErr = domain.ErrInvalidSignature
	_, err = f.orch.ApplyNotification(ctx, "checkout", nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestRegistry(t *testing.T) {
	r := payment.NewRegistry(&fakeProvider{name: " Checkout "}, &fakeProvider{name: ""})
	assert.Equal(t, []string{"checkout"}, r.Names())

	_, err := r.Get("CHECKOUT")
	assert.NoError(t, err)
	_, err = r.Get("stripe")
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)
}

func TestStatusMap_DefaultsToPending(t *testing.T) {
	m := payment.NewStatusMap([]string{"paid"}, []string{"cancelled"}, []string{"open"})

	assert.Equal(t, domain.TransactionStatusCompleted, m.Normalize(" PAID "))
	assert.Equal(t, domain.TransactionStatusFailed, m.Normalize("cancelled"))
	assert.Equal(t, domain.TransactionStatusPending, m.Normalize("mystery"))
	assert.False(t, m.Known("mystery"))
	assert.True(t, m.Known("open"))
}
