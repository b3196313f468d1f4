// Package notify доставляет пользовательские уведомления по SMS через Amazon SNS.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

const (
	attrSMSType  = "AWS.SNS.SMS.SMSType"
	attrSenderID = "AWS.SNS.SMS.SenderID"
	smsMaxLength = 160
)

// Publisher — часть клиента SNS, нужная для отправки SMS.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// NewSNSClient создаёт клиента SNS с цепочкой учётных данных по умолчанию.
func NewSNSClient(ctx context.Context, region string) (*sns.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sns.NewFromConfig(cfg), nil
}

// SMSSender отправляет уведомления транзакционными SMS.
type SMSSender struct {
	client   Publisher
	senderID string
	logger   *log.Entry
}

// NewSMSSender создаёт отправителя. senderID может быть пустым.
func NewSMSSender(client Publisher, senderID string, logger *log.Entry) *SMSSender {
	if logger == nil {
		logger = log.WithField("component", "sms-sender")
	}
	return &SMSSender{client: client, senderID: strings.TrimSpace(senderID), logger: logger}
}

// Send публикует SMS на номер получателя.
func (s *SMSSender) Send(ctx context.Context, n domain.Notification) error {
	if n.Phone == "" {
		return domain.ErrPhoneRequired
	}

	attrs := map[string]types.MessageAttributeValue{
		attrSMSType: {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
	}
	if s.senderID != "" {
		attrs[attrSenderID] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(s.senderID)}
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(n.Phone),
		Message:           aws.String(smsText(n)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("publish sms: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"notification_id": n.ID,
		"message_id":      aws.ToString(out.MessageId),
	}).Debug("sms sent")
	return nil
}

// LogSender только пишет уведомление в лог; используется, когда SNS не настроен.
type LogSender struct {
	logger *log.Entry
}

// NewLogSender создаёт отправитель-заглушку.
func NewLogSender(logger *log.Entry) *LogSender {
	if logger == nil {
		logger = log.WithField("component", "sms-sender")
	}
	return &LogSender{logger: logger}
}

// Send пишет уведомление в лог.
func (s *LogSender) Send(_ context.Context, n domain.Notification) error {
	s.logger.WithFields(log.Fields{
		"notification_id": n.ID,
		"recipient_id":    n.RecipientID,
		"kind":            n.Kind,
	}).Info("notification delivery skipped: sms disabled")
	return nil
}

func smsText(n domain.Notification) string {
	text := n.Body
	if n.Title != "" {
		text = n.Title + ": " + n.Body
	}
	if r := []rune(text); len(r) > smsMaxLength {
		text = string(r[:smsMaxLength-1]) + "…"
	}
	return text
}

var (
	_ domain.NotificationSender = (*SMSSender)(nil)
	_ domain.NotificationSender = (*LogSender)(nil)
)
