// Package events публикует события мутаций наград и принимает изменения состояний клиентов через Kafka.
package events

import "time"

// Типы событий мутаций наград.
const (
	RewardDeleted     = "reward.deleted"
	RewardActivated   = "reward.activated"
	RewardDeactivated = "reward.deactivated"
)

// RewardEvent описывает успешную мутацию награды.
type RewardEvent struct {
	Type       string    `json:"type"`
	MerchantID string    `json:"merchantId"`
	RewardID   string    `json:"rewardId"`
	OccurredAt time.Time `json:"occurredAt"`
}

// StateChange уведомляет об изменении состояния награды для клиента.
// CustomerID может быть пустым, если изменились состояния нескольких клиентов.
type StateChange struct {
	MerchantID string `json:"merchantId"`
	RewardID   string `json:"rewardId"`
	CustomerID string `json:"customerId,omitempty"`
}
