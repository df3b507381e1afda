package service

import (
	"time"

	"pairbot/internal/models"
)

// EventRepositoryInterface определяет интерфейс журнала событий
type EventRepositoryInterface interface {
	Create(n *models.Notification) error
	GetRecent(limit int) ([]*models.Notification, error)
	GetByPair(pairID string) ([]*models.Notification, error)
	GetByTypes(types []string, limit int) ([]*models.Notification, error)
	DeleteOlderThan(before time.Time) (int64, error)
}

// TradeRepositoryInterface определяет интерфейс журнала сделок
type TradeRepositoryInterface interface {
	Create(t *models.TradeRecord) error
	GetByPairID(pairID string) (*models.TradeRecord, error)
	GetRecent(limit int) ([]*models.TradeRecord, error)
	CountByReason(since time.Time) (map[string]int, error)
}

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(n *models.Notification)
}
