package payment

import (
	"strings"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// StatusMap переводит словарь статусов провайдера в статус реестра.
// Отображение тотальное: неизвестное значение даёт pending, а не completed.
type StatusMap map[string]domain.TransactionStatus

// Normalize возвращает статус реестра для сырого статуса провайдера.
func (m StatusMap) Normalize(raw string) domain.TransactionStatus {
	if status, ok := m[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return status
	}
	return domain.TransactionStatusPending
}

// Known сообщает, что статус есть в словаре.
func (m StatusMap) Known(raw string) bool {
	_, ok := m[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

// NewStatusMap строит словарь из списков статусов.
func NewStatusMap(completed, failed, pending []string) StatusMap {
	m := make(StatusMap, len(completed)+len(failed)+len(pending))
	for _, s := range pending {
		m[strings.ToLower(s)] = domain.TransactionStatusPending
	}
	for _, s := range failed {
		m[strings.ToLower(s)] = domain.TransactionStatusFailed
	}
	for _, s := range completed {
		m[strings.ToLower(s)] = domain.TransactionStatusCompleted
	}
	return m
}
