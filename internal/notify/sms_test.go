package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

type stubPublisher struct {
	input *sns.PublishInput
	err   error
}

func (p *stubPublisher) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	p.input = in
	if p.err != nil {
		return nil, p.err
	}
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

func TestSMSSender_Send(t *testing.T) {
	pub := &stubPublisher{}
	sender := NewSMSSender(pub, "POLICYHUB", nil)

	err := sender.Send(context.Background(), domain.Notification{
		ID:    "n-1",
		Phone: "+2250700000000",
		Title: "Contract activated",
		Body:  "Your policy VIE-2026-000001 is active.",
	})
	require.NoError(t, err)

	require.NotNil(t, pub.input)
	assert.Equal(t, "+2250700000000", aws.ToString(pub.input.PhoneNumber))
	assert.Equal(t, "Contract activated: Your policy VIE-2026-000001 is active.", aws.ToString(pub.input.Message))
	assert.Equal(t, "Transactional", aws.ToString(pub.input.MessageAttributes[attrSMSType].StringValue))
	assert.Equal(t, "POLICYHUB", aws.ToString(pub.input.MessageAttributes[attrSenderID].StringValue))
}

func TestSMSSender_Errors(t *testing.T) {
	sender := NewSMSSender(&stubPublisher{err: errors.New("throttled")}, "", nil)

	err := sender.Send(context.Background(), domain.Notification{ID: "n-1"})
	assert.ErrorIs(t, err, domain.ErrPhoneRequired)

	err = sender.Send(context.Background(), domain.Notification{ID: "n-1", Phone: "+1"})
	assert.ErrorContains(t, err, "throttled")
}

func TestSmsText_Truncates(t *testing.T) {
	text := smsText(domain.Notification{Body: strings.Repeat("é", 400)})
	assert.Equal(t, smsMaxLength, utf8.RuneCountInString(text))
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, NewLogSender(nil).Send(context.Background(), domain.Notification{ID: "n"}))
}
