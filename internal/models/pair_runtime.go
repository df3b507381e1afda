package models

// Side - направление позиции
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid проверяет, что направление известно
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite возвращает противоположное направление
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide разбирает направление из внешних источников (buy/sell/long/short)
func ParseSide(v string) (Side, bool) {
	switch v {
	case "BUY", "buy", "Buy", "long", "LONG":
		return SideBuy, true
	case "SELL", "sell", "Sell", "short", "SHORT":
		return SideSell, true
	}
	return "", false
}

// State - состояние пары (state machine)
type State string

const (
	StateCreated         State = "CREATED"           // запись создана, ордеров нет
	StateEntryInProgress State = "ENTRY_IN_PROGRESS" // LEG1 отправлена, ожидание LEG2
	StateActive          State = "ACTIVE"            // обе ноги открыты
	StateClosing         State = "CLOSING"           // идёт закрытие
	StateClosed          State = "CLOSED"            // финализирована
)

// AllStates - порядок состояний для UI и метрик
var AllStates = []State{StateCreated, StateEntryInProgress, StateActive, StateClosing, StateClosed}

// ClosingReason - причина закрытия пары
type ClosingReason string

const (
	ReasonTPHit        ClosingReason = "TP_HIT"
	ReasonStopLoss     ClosingReason = "STOP_LOSS"
	ReasonBreakEven    ClosingReason = "BREAK_EVEN"
	ReasonManualClose  ClosingReason = "MANUAL_CLOSE"
	ReasonSyncClosed   ClosingReason = "SYNC_CLOSED"
	ReasonEntryTimeout ClosingReason = "ENTRY_TIMEOUT"
	ReasonPairClosed   ClosingReason = "PAIR_CLOSED"
	ReasonEntryFailed  ClosingReason = "ENTRY_FAILED" // LEG1 не открылась
)

// Роли ног пары
const (
	LegPartial  = "PARTIAL"  // закрывается на 50% пути к TP
	LegTrailing = "TRAILING" // сопровождается трейлингом до конца
)
