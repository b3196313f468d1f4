// Package checkout — адаптер redirect/poll: провайдер размещает страницу оплаты,
// итоговый статус получается опросом сессии или webhook-уведомлением.
package checkout

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
	"github.com/vladislavdragonenkov/policyhub/internal/payment"
)

// ProviderName — имя адаптера в реестре.
const ProviderName = "checkout"

// SignatureHeader несёт подпись webhook в формате "t=<unix>,v1=<hex>".
const SignatureHeader = "Checkout-Signature"

const defaultWebhookTolerance = 5 * time.Minute

var statuses = payment.NewStatusMap(
	[]string{"paid", "completed", "succeeded", "success"},
	[]string{"cancelled", "canceled", "failed", "expired", "declined"},
	[]string{"pending", "open", "processing", "created"},
)

// Config — параметры подключения к hosted checkout.
type Config struct {
	BaseURL          string
	APIKey           string
	WebhookSecret    string
	WebhookTolerance time.Duration
	Timeout          time.Duration
}

// Client реализует domain.PaymentProvider и payment.WebhookParser.
type Client struct {
	http *resty.Client
	cfg  Config
	now  func() time.Time
}

// New создаёт клиента.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = defaultWebhookTolerance
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &Client{http: httpClient, cfg: cfg, now: time.Now}
}

func (c *Client) Name() string { return ProviderName }

func (c *Client) Kind() domain.ProviderKind { return domain.ProviderKindRedirect }

type createSessionRequest struct {
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	SuccessURL string `json:"success_url"`
	ErrorURL   string `json:"error_url"`
	Reference  string `json:"reference"`
}

type sessionResponse struct {
	ID        string `json:"id"`
	LaunchURL string `json:"launch_url"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// Initiate создаёт hosted-сессию (createSession).
func (c *Client) Initiate(ctx context.Context, req domain.InitiateRequest) (domain.InitiateResult, error) {
	var out sessionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.TransactionID).
		SetBody(createSessionRequest{
			Amount:     req.AmountMinor,
			Currency:   req.Currency,
			SuccessURL: req.SuccessURL,
			ErrorURL:   req.ErrorURL,
			Reference:  req.TransactionID,
		}).
		SetResult(&out).
		Post("/v1/sessions")
	if err := check(resp, err); err != nil {
		return domain.InitiateResult{}, err
	}
	if out.ID == "" || out.LaunchURL == "" {
		return domain.InitiateResult{}, domain.NewProviderError(ProviderName,
			fmt.Errorf("%w: session id or launch url missing", domain.ErrProviderRejected), resp.Body())
	}

	return domain.InitiateResult{CorrelationID: out.ID, LaunchURL: out.LaunchURL, Raw: resp.Body()}, nil
}

// Confirm не поддерживается: оплата подтверждается на стороне провайдера.
func (c *Client) Confirm(context.Context, domain.ConfirmRequest) (domain.ProviderResult, error) {
	return domain.ProviderResult{}, domain.ErrOperationNotSupported
}

// CheckStatus читает сессию (getSession) и нормализует её статус.
func (c *Client) CheckStatus(ctx context.Context, correlationID string) (domain.ProviderResult, error) {
	var out sessionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/sessions/" + url.PathEscape(correlationID))
	if err := check(resp, err); err != nil {
		return domain.ProviderResult{}, err
	}

	return domain.ProviderResult{
		Status:         statuses.Normalize(out.Status),
		ProviderStatus: out.Status,
		Message:        out.Message,
		Raw:            resp.Body(),
	}, nil
}

type webhookEvent struct {
	Type string          `json:"type"`
	Data sessionResponse `json:"data"`
}

// ParseWebhook проверяет подпись и разбирает уведомление о сессии.
func (c *Client) ParseWebhook(payload []byte, headers http.Header) (domain.ProviderNotification, error) {
	if err := c.verify(payload, headers.Get(SignatureHeader)); err != nil {
		return domain.ProviderNotification{}, err
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.ProviderNotification{}, fmt.Errorf("%w: decode webhook: %v", domain.ErrValidation, err)
	}
	if event.Data.ID == "" {
		return domain.ProviderNotification{}, fmt.Errorf("%w: webhook session id missing", domain.ErrValidation)
	}

	return domain.ProviderNotification{
		CorrelationID: event.Data.ID,
		Result: domain.ProviderResult{
			Status:         statuses.Normalize(event.Data.Status),
			ProviderStatus: event.Data.Status,
			Message:        event.Data.Message,
			Raw:            payload,
		},
	}, nil
}

func (c *Client) verify(payload []byte, header string) error {
	if c.cfg.WebhookSecret == "" {
		return domain.ErrInvalidSignature
	}
	timestamp, signatures := parseSignatureHeader(header)
	if timestamp == "" || len(signatures) == 0 {
		return domain.ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	if age := c.now().Sub(time.Unix(unix, 0)); age > c.cfg.WebhookTolerance || age < -c.cfg.WebhookTolerance {
		return domain.ErrInvalidSignature
	}

	expected := SignWebhook(c.cfg.WebhookSecret, timestamp, payload)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

// SignWebhook вычисляет hex(HMAC-SHA256(secret, "<t>.<payload>")).
func SignWebhook(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (string, []string) {
	var (
		timestamp  string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	return timestamp, signatures
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		var raw []byte
		if resp != nil {
			raw = resp.Body()
		}
		return domain.NewProviderError(ProviderName, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err), raw)
	}
	switch code := resp.StatusCode(); {
	case code >= http.StatusInternalServerError:
		return domain.NewProviderError(ProviderName, fmt.Errorf("%w: http %d", domain.ErrProviderUnavailable, code), resp.Body())
	case code >= http.StatusBadRequest:
		return domain.NewProviderError(ProviderName, fmt.Errorf("%w: http %d", domain.ErrProviderRejected, code), resp.Body())
	}
	return nil
}

// Validate проверяет конфигурацию адаптера.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.BaseURL) == "" || cfg.APIKey == "" {
		return errors.New("checkout: base url and api key are required")
	}
	return nil
}

var (
	_ domain.PaymentProvider = (*Client)(nil)
	_ payment.WebhookParser  = (*Client)(nil)
)
