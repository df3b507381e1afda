package models

import "time"

// Notification - событие жизненного цикла пары для внешних подписчиков
// (журнал, websocket клиенты, Telegram)
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	PairID    string                 `json:"pair_id,omitempty" db:"pair_id"`
	Symbol    string                 `json:"symbol,omitempty" db:"symbol"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // JSON в БД
	Pair      *Pair                  `json:"pair,omitempty" db:"-"`    // снимок пары на момент события
}

// Типы событий
const (
	EventEntryPlaced    = "entry_placed"
	EventPartialClosed  = "partial_closed"
	EventBreakEven      = "break_even"
	EventSLHit          = "sl_hit"
	EventTPHit          = "tp_hit"
	EventSyncClosed     = "sync_closed"
	EventEntryTimeout   = "entry_timeout"
	EventBreakEvenExit  = "break_even_exit"
	EventManualClose    = "manual_close"
	EventPairClosed     = "pair_closed"
	EventEntryFailed    = "entry_failed"
	EventLeg2Adopted    = "leg2_adopted"
	EventLeg2Placed     = "leg2_placed"
	EventExternalClosed = "external_closed"
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// ClosedEventType возвращает тип события финализации для причины закрытия
func ClosedEventType(reason ClosingReason) string {
	switch reason {
	case ReasonTPHit:
		return EventTPHit
	case ReasonStopLoss:
		return EventSLHit
	case ReasonBreakEven:
		return EventBreakEvenExit
	case ReasonSyncClosed:
		return EventSyncClosed
	case ReasonEntryTimeout:
		return EventEntryTimeout
	case ReasonManualClose:
		return EventManualClose
	case ReasonEntryFailed:
		return EventEntryFailed
	default:
		return EventPairClosed
	}
}

// SeverityFor возвращает уровень важности типа события
func SeverityFor(eventType string) string {
	switch eventType {
	case EventSLHit, EventSyncClosed, EventExternalClosed:
		return SeverityWarn
	case EventEntryTimeout, EventEntryFailed:
		return SeverityError
	default:
		return SeverityInfo
	}
}
