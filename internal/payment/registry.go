package payment

import (
	"sort"
	"strings"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// Registry выбирает адаптер провайдера по имени.
type Registry struct {
	providers map[string]domain.PaymentProvider
}

// NewRegistry регистрирует адаптеры; имя нормализуется к нижнему регистру.
func NewRegistry(providers ...domain.PaymentProvider) *Registry {
	r := &Registry{providers: make(map[string]domain.PaymentProvider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		name := normalizeName(p.Name())
		if name == "" {
			continue
		}
		r.providers[name] = p
	}
	return r
}

// Get возвращает адаптер или ErrUnsupportedProvider.
func (r *Registry) Get(name string) (domain.PaymentProvider, error) {
	if r == nil {
		return nil, domain.ErrUnsupportedProvider
	}
	p, ok := r.providers[normalizeName(name)]
	if !ok {
		return nil, domain.ErrUnsupportedProvider
	}
	return p, nil
}

// Names возвращает зарегистрированные имена в алфавитном порядке.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
