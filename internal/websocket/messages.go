package websocket

import (
	"time"

	"pairbot/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypePairUpdate - снимок открытых пар.
	// Отправляется после каждого прохода сверки и после изменения пары
	MessageTypePairUpdate MessageType = "pairUpdate"

	// MessageTypeNotification - событие жизненного цикла пары
	MessageTypeNotification MessageType = "notification"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// PairUpdateMessage - снимок всех пар движка
type PairUpdateMessage struct {
	BaseMessage
	Pairs []*PairData `json:"pairs"`
}

// PairData - состояние одной пары для клиента
type PairData struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Category   string  `json:"category"`
	State      string  `json:"state"`
	LotEach    float64 `json:"lot_each"`
	EntryPrice float64 `json:"entry_price"`
	SL         float64 `json:"sl"`
	TP         float64 `json:"tp"`
	InternalSL float64 `json:"internal_sl"`

	BreakEven     bool `json:"break_even"`
	PartialClosed bool `json:"partial_closed"`
	TightSL       bool `json:"tight_sl"`

	// Тикеты ног ("" - позиции нет)
	PartialTicket  string `json:"partial_ticket,omitempty"`
	TrailingTicket string `json:"trailing_ticket,omitempty"`

	OpenedAt time.Time `json:"opened_at"`
}

// NotificationMessage - сообщение о событии пары
type NotificationMessage struct {
	BaseMessage
	Data *NotificationData `json:"data"`
}

// NotificationData - данные события
type NotificationData struct {
	// ID события в журнале (0 - журнал отключён)
	ID int `json:"id"`

	// Тип события (entry_placed, sl_hit, sync_closed ...)
	Type string `json:"type"`

	// Уровень важности (info, warn, error)
	Severity string `json:"severity"`

	PairID  string `json:"pair_id,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	Message string `json:"message"`

	Meta map[string]interface{} `json:"meta,omitempty"`

	Pair *PairData `json:"pair,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ============ Фабричные функции для создания сообщений ============

// NewPairData конвертирует снимок пары
func NewPairData(p *models.Pair) *PairData {
	if p == nil {
		return nil
	}
	return &PairData{
		ID:             p.ID,
		Symbol:         p.Symbol,
		Side:           string(p.Side),
		Category:       p.Category,
		State:          string(p.State),
		LotEach:        p.LotEach,
		EntryPrice:     p.EntryPrice,
		SL:             p.SL,
		TP:             p.TP,
		InternalSL:     p.InternalSL,
		BreakEven:      p.BreakEvenActive,
		PartialClosed:  p.PartialClosed,
		TightSL:        p.TightSLMode,
		PartialTicket:  p.Partial.Ticket,
		TrailingTicket: p.Trailing.Ticket,
		OpenedAt:       p.OpenedAt,
	}
}

// NewPairUpdateMessage создает сообщение со снимком пар
func NewPairUpdateMessage(pairs []*models.Pair) *PairUpdateMessage {
	data := make([]*PairData, 0, len(pairs))
	for _, p := range pairs {
		if p != nil {
			data = append(data, NewPairData(p))
		}
	}
	return &PairUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypePairUpdate,
			Timestamp: time.Now(),
		},
		Pairs: data,
	}
}

// NewNotificationMessage создает сообщение события
func NewNotificationMessage(n *models.Notification) *NotificationMessage {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			Timestamp: time.Now(),
		},
		Data: &NotificationData{
			ID:        n.ID,
			Type:      n.Type,
			Severity:  n.Severity,
			PairID:    n.PairID,
			Symbol:    n.Symbol,
			Message:   n.Message,
			Meta:      n.Meta,
			Pair:      NewPairData(n.Pair),
			Timestamp: ts,
		},
	}
}
