package sideeffect_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
	"github.com/vladislavdragonenkov/policyhub/internal/sideeffect"
	"github.com/vladislavdragonenkov/policyhub/internal/storage/memory"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (s *recordingSender) Send(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.err
}

type failingCommissions struct{}

func (failingCommissions) Create(context.Context, domain.Commission) error {
	return errors.New("db down")
}

func (failingCommissions) ListByAgent(context.Context, string) ([]domain.Commission, error) {
	return nil, nil
}

type failingOutbox struct{ *memory.OutboxRepository }

func (failingOutbox) Enqueue(domain.OutboxMessage) (domain.OutboxMessage, error) {
	return domain.OutboxMessage{}, errors.New("outbox unavailable")
}

func (failingOutbox) Stage(context.Context, domain.OutboxMessage) error {
	return errors.New("outbox unavailable")
}

type publisherFunc func(domain.OutboxMessage) error

func (f publisherFunc) Publish(m domain.OutboxMessage) error { return f(m) }

func contract(agent string) domain.Subscription {
	validated := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return domain.Subscription{
		ID:              "sub-1",
		OwnerID:         "cust-1",
		AgentCode:       agent,
		ProductID:       "prod-vie",
		ProductCategory: "vie",
		PremiumMinor:    15000,
		Currency:        "XOF",
		Phone:           "+2250700000000",
		Status:          domain.SubscriptionStatusContract,
		PolicyNumber:    "VIE-2026-000001",
		ValidatedAt:     &validated,
	}
}

func contractEvent(t *testing.T, sub domain.Subscription) domain.OutboxMessage {
	t.Helper()
	outbox := memory.NewOutboxRepository()
	require.NoError(t, sideeffect.NewDispatcher(outbox).StageContractIssued(context.Background(), sub))
	pending, err := outbox.PullPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	return pending[0]
}

func rates(t *testing.T) sideeffect.CommissionRates {
	t.Helper()
	r, err := sideeffect.ParseCommissionRates("0.05", map[string]string{"AUTO": "0.1"})
	require.NoError(t, err)
	return r
}

func TestHandler_ContractIssuedCreatesBothEffectsOnce(t *testing.T) {
	ctx := context.Background()
	notifications := memory.NewNotificationRepository()
	commissions := memory.NewCommissionRepository()
	sender := &recordingSender{}
	h := sideeffect.NewHandler(notifications, commissions, rates(t), sideeffect.WithSender(sender))

	event := contractEvent(t, contract("AG-7"))
	require.NoError(t, h.Publish(event))
	require.NoError(t, h.Publish(event))

	booked, err := commissions.ListByAgent(ctx, "AG-7")
	require.NoError(t, err)
	require.Len(t, booked, 1)
	assert.Equal(t, int64(750), booked[0].AmountMinor)
	assert.Equal(t, "0.05", booked[0].Rate)
	assert.Equal(t, "VIE-2026-000001", booked[0].PolicyNumber)

	inbox, err := notifications.ListByRecipient(ctx, "cust-1", 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, domain.NotificationKindContractIssued, inbox[0].Kind)
	assert.Contains(t, inbox[0].Body, "VIE-2026-000001")
	assert.Len(t, sender.sent, 1)
}

func TestHandler_NoAgentNoCommission(t *testing.T) {
	ctx := context.Background()
	commissions := memory.NewCommissionRepository()
	h := sideeffect.NewHandler(memory.NewNotificationRepository(), commissions, rates(t))

	require.NoError(t, h.Publish(contractEvent(t, contract(""))))

	booked, err := commissions.ListByAgent(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, booked)
}

func TestHandler_CommissionFailureDoesNotBlockNotification(t *testing.T) {
	ctx := context.Background()
	notifications := memory.NewNotificationRepository()
	h := sideeffect.NewHandler(notifications, failingCommissions{}, rates(t))

	err := h.Publish(contractEvent(t, contract("AG-7")))
	require.Error(t, err)

	inbox, listErr := notifications.ListByRecipient(ctx, "cust-1", 10)
	require.NoError(t, listErr)
	assert.Len(t, inbox, 1)
}

func TestHandler_SmsFailureIsNotRetried(t *testing.T) {
	sender := &recordingSender{err: errors.New("throttled")}
	h := sideeffect.NewHandler(memory.NewNotificationRepository(), memory.NewCommissionRepository(), rates(t), sideeffect.WithSender(sender))

	event := contractEvent(t, contract(""))
	assert.NoError(t, h.Publish(event))
	assert.NoError(t, h.Publish(event))
	assert.Len(t, sender.sent, 1)
}

func TestHandler_IgnoresOtherEventsAndRejectsGarbage(t *testing.T) {
	h := sideeffect.NewHandler(memory.NewNotificationRepository(), memory.NewCommissionRepository(), rates(t))

	assert.NoError(t, h.Publish(domain.OutboxMessage{ID: "x", EventType: domain.OutboxEventPaymentResolved, Payload: []byte(`{}`)}))

	err := h.Publish(domain.OutboxMessage{ID: "y", EventType: domain.OutboxEventContractIssued, Payload: []byte(`{`)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDispatcher_StagesDeterministicEventAndWakesAfterCommit(t *testing.T) {
	ctx := context.Background()
	outbox := memory.NewOutboxRepository()
	wakes := 0
	d := sideeffect.NewDispatcher(outbox, sideeffect.WithWake(func() { wakes++ }))

	sub := contract("AG-7")
	require.NoError(t, d.StageContractIssued(ctx, sub))
	require.NoError(t, d.StageContractIssued(ctx, sub))
	assert.Zero(t, wakes)

	d.AfterContractIssued(ctx, sub)
	assert.Equal(t, 1, wakes)

	pending, err := outbox.PullPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.OutboxEventContractIssued, pending[0].EventType)

	var payload domain.ContractIssuedEvent
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, "VIE-2026-000001", payload.PolicyNumber)
	assert.Equal(t, "AG-7", payload.AgentCode)
}

func TestDispatcher_StageErrorIsReturned(t *testing.T) {
	d := sideeffect.NewDispatcher(failingOutbox{memory.NewOutboxRepository()})

	err := d.StageContractIssued(context.Background(), contract(""))
	assert.ErrorContains(t, err, "outbox unavailable")
}

func TestDispatcher_PaymentResolvedEvent(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	d := sideeffect.NewDispatcher(outbox)

	d.AfterPaymentResolved(context.Background(), domain.PaymentTransaction{
		ID: "tx-1", Provider: "checkout", Status: domain.TransactionStatusFailed, AmountMinor: 15000, Currency: "XOF",
	})

	pending, err := outbox.PullPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "tx-1", pending[0].AggregateID)
	assert.Contains(t, string(pending[0].Payload), `"status":"failed"`)
}

func TestDispatcher_FallsBackWhenOutboxUnavailable(t *testing.T) {
	delivered := make(chan domain.OutboxMessage, 1)
	d := sideeffect.NewDispatcher(failingOutbox{memory.NewOutboxRepository()},
		sideeffect.WithFallback(publisherFunc(func(m domain.OutboxMessage) error {
			delivered <- m
			return nil
		})))

	d.AfterPaymentResolved(context.Background(), domain.PaymentTransaction{
		ID: "tx-1", Provider: "checkout", Status: domain.TransactionStatusCompleted, AmountMinor: 15000, Currency: "XOF",
	})

	select {
	case msg := <-delivered:
		assert.Equal(t, "tx-1", msg.AggregateID)
		assert.Equal(t, domain.OutboxEventPaymentResolved, msg.EventType)
	case <-time.After(time.Second):
		t.Fatal("fallback delivery was not invoked")
	}
}

func TestFanout_JoinsErrors(t *testing.T) {
	calls := 0
	ok := publisherFunc(func(domain.OutboxMessage) error { calls++; return nil })
	bad := publisherFunc(func(domain.OutboxMessage) error { calls++; return errors.New("broker down") })

	err := sideeffect.NewFanout(ok, nil, bad).Publish(domain.OutboxMessage{ID: "m"})
	assert.EqualError(t, err, "broker down")
	assert.Equal(t, 2, calls)
}

func TestCommissionRates(t *testing.T) {
	r := rates(t)

	amount, rate := r.Amount("auto", 12345)
	assert.Equal(t, int64(1235), amount)
	assert.Equal(t, "0.1", rate.String())

	amount, _ = r.Amount("unknown", 15000)
	assert.Equal(t, int64(750), amount)

	_, err := sideeffect.ParseCommissionRates("1.5", nil)
	assert.Error(t, err)
	_, err = sideeffect.ParseCommissionRates("0.05", map[string]string{"vie": "abc"})
	assert.Error(t, err)
}
