package bot

import (
	"errors"
	"fmt"
	"time"

	"pairbot/internal/models"
)

// ErrIllegalTransition - переход не разрешён таблицей ValidTransitions
var ErrIllegalTransition = errors.New("illegal state transition")

// ValidTransitions определяет допустимые переходы между состояниями
var ValidTransitions = map[models.State][]models.State{
	models.StateCreated:         {models.StateEntryInProgress},
	models.StateEntryInProgress: {models.StateActive, models.StateClosing}, // Closing при таймауте входа
	models.StateActive:          {models.StateClosing},
	models.StateClosing:         {models.StateClosed},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to models.State) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// transition меняет состояние пары. Недопустимый переход не меняет пару.
//
// В ACTIVE можно перейти только с обоими тикетами. Вход в CLOSING
// фиксирует причину, вход в CLOSED - время финализации.
func transition(p *models.Pair, to models.State, reason models.ClosingReason, now time.Time) error {
	from := p.State
	if !CanTransition(from, to) {
		RecordIllegalTransition(from, to)
		return fmt.Errorf("%w: pair %s %s -> %s", ErrIllegalTransition, p.ID, from, to)
	}
	if to == models.StateActive && !p.HasBothTickets() {
		RecordIllegalTransition(from, to)
		return fmt.Errorf("%w: pair %s cannot become ACTIVE without both tickets", ErrIllegalTransition, p.ID)
	}

	p.State = to
	switch to {
	case models.StateClosing:
		p.Exit.Reason = reason
		p.Exit.ClosingAt = now
	case models.StateClosed:
		p.Exit.ClosedAt = now
	}

	RecordTransition(from, to)
	return nil
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s models.State) string {
	switch s {
	case models.StateCreated:
		return "Пара создана, ордеров нет"
	case models.StateEntryInProgress:
		return "Открытие позиций..."
	case models.StateActive:
		return "Позиции открыты"
	case models.StateClosing:
		return "Закрытие позиций..."
	case models.StateClosed:
		return "Пара закрыта"
	default:
		return "Неизвестное состояние"
	}
}

// IsOpen возвращает true если у пары могут быть позиции у брокера
func IsOpen(s models.State) bool {
	return s == models.StateEntryInProgress || s == models.StateActive || s == models.StateClosing
}
