// Package sequence выдаёт номера полисов вида PREFIX-YYYY-NNNNNN.
package sequence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

const defaultPrefix = "POL"

// Allocator форматирует значения атомарного счётчика в номера полисов.
// Счётчик ведётся на префикс без сброса по годам, поэтому целые значения
// никогда не повторяются.
type Allocator struct {
	counter  domain.SequenceRepository
	prefixes map[string]string
	fallback string
	now      func() time.Time
}

// Option настраивает Allocator.
type Option func(*Allocator)

// WithClock подменяет источник времени для года в номере.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAllocator создаёт аллокатор. prefixes сопоставляет категорию продукта с префиксом.
func NewAllocator(counter domain.SequenceRepository, prefixes map[string]string, fallback string, opts ...Option) *Allocator {
	normalized := make(map[string]string, len(prefixes))
	for category, prefix := range prefixes {
		normalized[strings.ToLower(strings.TrimSpace(category))] = strings.ToUpper(strings.TrimSpace(prefix))
	}
	fallback = strings.ToUpper(strings.TrimSpace(fallback))
	if fallback == "" {
		fallback = defaultPrefix
	}

	a := &Allocator{
		counter:  counter,
		prefixes: normalized,
		fallback: fallback,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NextPolicyNumber возвращает следующий номер для категории продукта.
func (a *Allocator) NextPolicyNumber(ctx context.Context, productCategory string) (string, error) {
	prefix := a.Prefix(productCategory)

	n, err := a.counter.Next(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("allocate policy number: %w", err)
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, a.now().UTC().Year(), n), nil
}

// Prefix возвращает префикс для категории.
func (a *Allocator) Prefix(productCategory string) string {
	if p, ok := a.prefixes[strings.ToLower(strings.TrimSpace(productCategory))]; ok && p != "" {
		return p
	}
	return a.fallback
}
