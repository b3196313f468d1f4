package domain

import "time"

// TimelineEvent описывает событие в жизненном цикле подписки.
type TimelineEvent struct {
	SubscriptionID string
	Type           string
	Reason         string
	Occurred       time.Time
}
