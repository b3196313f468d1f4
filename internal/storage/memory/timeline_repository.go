package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// Журнал подписки в памяти. События вставляются на своё место по времени,
// одинаковые метки сохраняют порядок добавления.
type timelineLog struct {
	mu    sync.RWMutex
	bySub map[string][]domain.TimelineEvent
	now   func() time.Time
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineLog{
		bySub: make(map[string][]domain.TimelineEvent),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (l *timelineLog) Append(event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.bySub[event.SubscriptionID]
	pos := len(events)
	for pos > 0 && events[pos-1].Occurred.After(event.Occurred) {
		pos--
	}
	l.bySub[event.SubscriptionID] = slices.Insert(events, pos, event)
	return nil
}

func (l *timelineLog) List(subscriptionID string) ([]domain.TimelineEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]domain.TimelineEvent{}, l.bySub[subscriptionID]...), nil
}

var _ domain.TimelineRepository = (*timelineLog)(nil)
