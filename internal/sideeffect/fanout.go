package sideeffect

import (
	"errors"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// Fanout передаёт событие всем получателям по очереди и объединяет ошибки.
// При повторной доставке получатели, уже принявшие событие, получают его снова,
// поэтому каждый из них должен быть идемпотентным.
type Fanout []domain.OutboxPublisher

// NewFanout отбрасывает nil-получателей.
func NewFanout(publishers ...domain.OutboxPublisher) Fanout {
	out := make(Fanout, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Publish реализует domain.OutboxPublisher.
func (f Fanout) Publish(event domain.OutboxMessage) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ domain.OutboxPublisher = Fanout(nil)
