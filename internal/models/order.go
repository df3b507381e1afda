package models

import "time"

// Position - открытая позиция у брокера
type Position struct {
	Ticket   string    `json:"ticket"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Volume   float64   `json:"volume"`
	Price    float64   `json:"price"`
	OpenTime time.Time `json:"open_time,omitempty"` // нулевое значение - брокер не сообщил
}

// HasOpenTime - брокер сообщил время открытия
func (p Position) HasOpenTime() bool {
	return !p.OpenTime.IsZero()
}

// Quote - текущая котировка
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time"`
}

// PriceFor возвращает цену закрытия позиции данного направления:
// BUY закрывается по bid, SELL - по ask
func (q Quote) PriceFor(side Side) float64 {
	if side == SideBuy {
		return q.Bid
	}
	return q.Ask
}

// EntryPriceFor возвращает цену открытия позиции данного направления
func (q Quote) EntryPriceFor(side Side) float64 {
	if side == SideBuy {
		return q.Ask
	}
	return q.Bid
}

// PlaceResult - результат открытия позиции
type PlaceResult struct {
	Ticket string  `json:"ticket"`
	Price  float64 `json:"price"`
}

// CloseResult - результат закрытия позиции
type CloseResult struct {
	AlreadyClosed bool    `json:"already_closed"` // позиция не найдена у брокера
	Price         float64 `json:"price"`
}

// TradeRecord - запись журнала о финализированной паре
type TradeRecord struct {
	ID         int       `json:"id" db:"id"`
	PairID     string    `json:"pair_id" db:"pair_id"`
	SignalID   string    `json:"signal_id" db:"signal_id"`
	Symbol     string    `json:"symbol" db:"symbol"`
	Side       string    `json:"side" db:"side"`
	Category   string    `json:"category" db:"category"`
	LotEach    float64   `json:"lot_each" db:"lot_each"`
	EntryPrice float64   `json:"entry_price" db:"entry_price"`
	SL         float64   `json:"sl" db:"sl"`
	TP         float64   `json:"tp" db:"tp"`
	Reason     string    `json:"reason" db:"reason"`
	Partial    bool      `json:"partial_closed" db:"partial_closed"`
	BreakEven  bool      `json:"break_even" db:"break_even"`
	OpenedAt   time.Time `json:"opened_at" db:"opened_at"`
	ClosedAt   time.Time `json:"closed_at" db:"closed_at"`
}

// TradeFromPair строит запись журнала из снимка пары
func TradeFromPair(p *Pair) *TradeRecord {
	closedAt := p.Exit.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	return &TradeRecord{
		PairID:     p.ID,
		SignalID:   p.SignalID,
		Symbol:     p.Symbol,
		Side:       string(p.Side),
		Category:   p.Category,
		LotEach:    p.LotEach,
		EntryPrice: p.EntryPrice,
		SL:         p.SL,
		TP:         p.TP,
		Reason:     string(p.Exit.Reason),
		Partial:    p.PartialClosed,
		BreakEven:  p.BreakEvenActive,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   closedAt,
	}
}
