// Package mobilemoney — адаптер challenge/confirm: клиенту отправляется
// одноразовый код, списание выполняется после его проверки.
package mobilemoney

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
	"github.com/vladislavdragonenkov/policyhub/internal/payment"
)

// ProviderName — имя адаптера в реестре.
const ProviderName = "mobilemoney"

const (
	headerAPIKey    = "X-Api-Key"
	headerTimestamp = "X-Timestamp"
	headerSignature = "X-Signature"
)

var statuses = payment.NewStatusMap(
	[]string{"success", "successful", "completed"},
	[]string{"failed", "rejected", "cancelled", "canceled", "expired", "insufficient_funds"},
	[]string{"pending", "initiated", "processing"},
)

// Config — параметры подключения к API мобильных денег.
type Config struct {
	BaseURL string
	// APIKey — предварительно выданный идентификатор мерчанта.
	APIKey string
	// Secret — ключ HMAC для подписи параметров запроса.
	Secret      string
	Timeout     time.Duration
	SMSTemplate string
}

// Client реализует domain.PaymentProvider для мобильных денег.
type Client struct {
	http     *resty.Client
	cfg      Config
	now      func() time.Time
	template string
}

// New создаёт клиента.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	template := cfg.SMSTemplate
	if template == "" {
		template = "Code de confirmation de paiement: %s"
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader(headerAPIKey, cfg.APIKey)

	return &Client{http: httpClient, cfg: cfg, now: time.Now, template: template}
}

func (c *Client) Name() string { return ProviderName }

func (c *Client) Kind() domain.ProviderKind { return domain.ProviderKindChallenge }

type challengeRequest struct {
	Country   string `json:"country"`
	Phone     string `json:"phone"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

type operationResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// Initiate отправляет клиенту код подтверждения (sendChallenge).
func (c *Client) Initiate(ctx context.Context, req domain.InitiateRequest) (domain.InitiateResult, error) {
	params := map[string]string{
		"country":   req.Country,
		"phone":     req.Phone,
		"reference": req.TransactionID,
	}
	body := challengeRequest{
		Country:   req.Country,
		Phone:     req.Phone,
		Reference: req.TransactionID,
		Message:   fmt.Sprintf(c.template, req.OtpCode),
	}

	var out operationResponse
	resp, err := c.signed(ctx, params).SetBody(body).SetResult(&out).Post("/v1/challenges")
	if err := c.check(resp, err); err != nil {
		return domain.InitiateResult{}, err
	}

	correlation := out.Reference
	if correlation == "" {
		correlation = req.TransactionID
	}
	return domain.InitiateResult{CorrelationID: correlation, Raw: resp.Body()}, nil
}

type debitRequest struct {
	Country   string `json:"country"`
	Phone     string `json:"phone"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Code      string `json:"code"`
	Reference string `json:"reference"`
}

// Confirm выполняет списание (debit) с кодом, уже проверенным локально.
func (c *Client) Confirm(ctx context.Context, req domain.ConfirmRequest) (domain.ProviderResult, error) {
	params := map[string]string{
		"country":   req.Country,
		"phone":     req.Phone,
		"amount":    strconv.FormatInt(req.AmountMinor, 10),
		"code":      req.Code,
		"reference": req.TransactionID,
	}
	body := debitRequest{
		Country:   req.Country,
		Phone:     req.Phone,
		Amount:    req.AmountMinor,
		Currency:  req.Currency,
		Code:      req.Code,
		Reference: req.TransactionID,
	}

	var out operationResponse
	resp, err := c.signed(ctx, params).SetBody(body).SetResult(&out).Post("/v1/debits")
	if err := c.check(resp, err); err != nil {
		return domain.ProviderResult{}, err
	}
	return c.result(out, resp.Body()), nil
}

// CheckStatus запрашивает статус операции (getOperationStatus).
func (c *Client) CheckStatus(ctx context.Context, correlationID string) (domain.ProviderResult, error) {
	params := map[string]string{"reference": correlationID}

	var out operationResponse
	resp, err := c.signed(ctx, params).SetResult(&out).Get("/v1/operations/" + url.PathEscape(correlationID))
	if err := c.check(resp, err); err != nil {
		return domain.ProviderResult{}, err
	}
	return c.result(out, resp.Body()), nil
}

func (c *Client) result(out operationResponse, raw []byte) domain.ProviderResult {
	return domain.ProviderResult{
		Status:         statuses.Normalize(out.Status),
		ProviderStatus: out.Status,
		Message:        out.Message,
		Raw:            raw,
	}
}

// signed готовит запрос с подписью параметров и меткой времени.
func (c *Client) signed(ctx context.Context, params map[string]string) *resty.Request {
	ts := strconv.FormatInt(c.now().Unix(), 10)
	return c.http.R().
		SetContext(ctx).
		SetHeader(headerTimestamp, ts).
		SetHeader(headerSignature, Sign(c.cfg.Secret, ts, params))
}

// check переводит транспортные и HTTP-ошибки в ProviderError:
// 5xx и сетевые ошибки означают недоступность, 4xx означает отказ провайдера.
func (c *Client) check(resp *resty.Response, err error) error {
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

// Sign вычисляет hex(HMAC-SHA256(secret, ts + "\n" + k1=v1&k2=v2...)) по ключам в алфавитном порядке.
func Sign(secret, timestamp string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp + "\n" + strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature сравнивает подпись за постоянное время.
func VerifySignature(secret, timestamp, signature string, params map[string]string) error {
	if !hmac.Equal([]byte(Sign(secret, timestamp, params)), []byte(signature)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

var errEmptyBaseURL = errors.New("mobilemoney: base url is required")

// Validate проверяет конфигурацию адаптера.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return errEmptyBaseURL
	}
	if cfg.APIKey == "" || cfg.Secret == "" {
		return errors.New("mobilemoney: api key and secret are required")
	}
	return nil
}

var _ domain.PaymentProvider = (*Client)(nil)
