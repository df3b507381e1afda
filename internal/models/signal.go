package models

import "time"

// SignalKind - тип внешнего сигнала
type SignalKind string

const (
	SignalEntry SignalKind = "ENTRY"
	SignalClose SignalKind = "CLOSE"
)

// Signal - внешний торговый сигнал (webhook, оператор)
type Signal struct {
	ID         string     `json:"id"`
	Kind       SignalKind `json:"kind"`
	Side       Side       `json:"side"`
	Category   string     `json:"category"`
	Approval   string     `json:"approval,omitempty"` // передаётся как есть, на вход не влияет
	ReceivedAt time.Time  `json:"received_at"`
}

// DefaultCategory - категория по умолчанию для направления
func DefaultCategory(side Side) string {
	return "T_" + string(side)
}
