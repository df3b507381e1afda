package models

import "time"

// Pair представляет одно торговое намерение из двух ног (LEG1 = PARTIAL, LEG2 = TRAILING).
//
// Запись принадлежит хранилищу пар движка. Наружу отдаются только копии (Clone).
// Поля Entry и Exit - данные конкретных фаз жизненного цикла.
type Pair struct {
	ID       string `json:"id"`
	SignalID string `json:"signal_id"`
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`
	Category string `json:"category"` // T_BUY, T_SELL ...

	LotEach    float64 `json:"lot_each"`
	EntryPrice float64 `json:"entry_price"`
	SL         float64 `json:"sl"`          // 0 - не рассчитан
	TP         float64 `json:"tp"`          // 0 - не рассчитан
	InternalSL float64 `json:"internal_sl"` // рабочий стоп, двигается только в сторону прибыли

	BreakEvenActive bool `json:"break_even_active"`
	PartialClosed   bool `json:"partial_closed"`
	TightSLMode     bool `json:"tight_sl_mode"`
	FirstSyncDone   bool `json:"first_sync_done"`

	Partial  Leg `json:"partial"`
	Trailing Leg `json:"trailing"`

	State    State     `json:"state"`
	OpenedAt time.Time `json:"opened_at"`

	Entry EntryPhase `json:"entry"`
	Exit  ExitPhase  `json:"exit"`
}

// Leg - одна брокерская позиция пары
type Leg struct {
	Ticket string  `json:"ticket,omitempty"` // "" - позиции нет
	Lot    float64 `json:"lot"`

	misses int // подряд пропущенных сверок
}

// EntryPhase - данные фазы входа
type EntryPhase struct {
	Timestamp       time.Time `json:"timestamp"`
	ConfirmDeadline time.Time `json:"confirm_deadline"` // после него LEG2 открывается вручную
	Leg2Attempted   bool      `json:"leg2_attempted"`
	Leg2PlacedAt    time.Time `json:"leg2_placed_at,omitempty"`
	LockToken       uint64    `json:"-"` // захват лока входа, которым открыта пара
}

// ExitPhase - данные фазы закрытия
type ExitPhase struct {
	Reason    ClosingReason `json:"reason,omitempty"`
	ClosingAt time.Time     `json:"closing_at,omitempty"`
	ClosedAt  time.Time     `json:"closed_at,omitempty"`
}

// TotalLot - суммарный объём пары
func (p *Pair) TotalLot() float64 {
	return p.LotEach * 2
}

// HasBothTickets - обе ноги на месте
func (p *Pair) HasBothTickets() bool {
	return p.Partial.Ticket != "" && p.Trailing.Ticket != ""
}

// OpenTickets возвращает непустые тикеты пары
func (p *Pair) OpenTickets() []string {
	out := make([]string, 0, 2)
	if p.Partial.Ticket != "" {
		out = append(out, p.Partial.Ticket)
	}
	if p.Trailing.Ticket != "" {
		out = append(out, p.Trailing.Ticket)
	}
	return out
}

// LegByTicket возвращает ногу по тикету
func (p *Pair) LegByTicket(ticket string) *Leg {
	switch {
	case ticket == "":
		return nil
	case p.Partial.Ticket == ticket:
		return &p.Partial
	case p.Trailing.Ticket == ticket:
		return &p.Trailing
	}
	return nil
}

// EffectiveSL - стоп, по которому проверяется выход
func (p *Pair) EffectiveSL() float64 {
	if p.InternalSL != 0 {
		return p.InternalSL
	}
	return p.SL
}

// Clone возвращает независимую копию
func (p *Pair) Clone() *Pair {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Misses - сколько сверок подряд тикет ноги не найден у брокера
func (l *Leg) Misses() int { return l.misses }

// Miss увеличивает счётчик пропусков и возвращает новое значение
func (l *Leg) Miss() int {
	l.misses++
	return l.misses
}

// Seen сбрасывает счётчик пропусков
func (l *Leg) Seen() { l.misses = 0 }

// Drop очищает тикет ноги
func (l *Leg) Drop() {
	l.Ticket = ""
	l.misses = 0
}
