package bot

import (
	"context"

	"pairbot/internal/models"
)

// Gateway - доступ к брокерскому счёту.
//
// Реализуется пакетом internal/broker (paper, REST мост).
// Все вызовы могут блокироваться на сети, поэтому движок никогда
// не вызывает их под своим mutex.
type Gateway interface {
	// PlaceMarket открывает рыночную позицию. Успех = непустой Ticket.
	PlaceMarket(ctx context.Context, symbol string, side models.Side, lot, sl, tp float64) (models.PlaceResult, error)

	// ClosePosition закрывает позицию целиком (lot == 0) или частично.
	// Отсутствующая позиция - не ошибка: AlreadyClosed = true.
	ClosePosition(ctx context.Context, ticket string, lot float64) (models.CloseResult, error)

	// ListPositions возвращает открытые позиции счёта (eventual consistency:
	// только что открытая позиция может появиться с задержкой)
	ListPositions(ctx context.Context) ([]models.Position, error)

	// LastPrice возвращает котировку; nil - котировки нет
	LastPrice(ctx context.Context, symbol string) (*models.Quote, error)
}

// Notifier - получатель событий жизненного цикла пар. Доставка best-effort:
// Emit не должен блокировать движок.
type Notifier interface {
	Emit(n *models.Notification)
}

// WebSocketHub - интерфейс для отправки данных клиентам UI
//
// Реализуется пакетом internal/websocket/Hub
type WebSocketHub interface {
	// BroadcastPairUpdate отправляет снимок открытых пар
	BroadcastPairUpdate(pairs []*models.Pair)

	// BroadcastNotification отправляет событие
	BroadcastNotification(n *models.Notification)
}

type nopNotifier struct{}

func (nopNotifier) Emit(*models.Notification) {}
