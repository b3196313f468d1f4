package payment

import (
	"time"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// Metrics собирает метрики платёжного конвейера.
type Metrics interface {
	SessionCreated(provider string)
	TransactionResolved(provider string, status domain.TransactionStatus)
	ProviderCall(provider, operation string, err error, elapsed time.Duration)
	OtpRejected(reason string)
}

type noopMetrics struct{}

func (noopMetrics) SessionCreated(string)                                {}
func (noopMetrics) TransactionResolved(string, domain.TransactionStatus) {}
func (noopMetrics) ProviderCall(string, string, error, time.Duration)    {}
func (noopMetrics) OtpRejected(string)                                   {}
