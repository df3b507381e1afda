// Package broker предоставляет реализации bot.Gateway: paper счёт в памяти
// и REST клиент MetaTrader моста.
package broker

import (
	"errors"
	"strings"
)

// Поддерживаемые типы брокера
const (
	KindPaper = "paper"
	KindREST  = "rest"
)

// SupportedKinds - список поддерживаемых типов
var SupportedKinds = []string{KindPaper, KindREST}

// ErrPositionNotFound - позиция с таким тикетом у брокера отсутствует
var ErrPositionNotFound = errors.New("position not found")

// ErrNoQuote - у брокера нет котировки по символу
var ErrNoQuote = errors.New("quote unavailable")

// Error представляет ошибку от брокера
type Error struct {
	Broker   string
	Op       string
	Status   int // HTTP статус, 0 - транспортная ошибка
	Code     string
	Message  string
	Original error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Broker)
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	if e.Message != "" {
		b.WriteString(e.Message)
	} else if e.Original != nil {
		b.WriteString(e.Original.Error())
	} else {
		b.WriteString("unknown error")
	}
	return b.String()
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *Error) Unwrap() error {
	return e.Original
}

// Retryable - 5xx, 429 и транспортные ошибки повторяются, остальные 4xx нет
func (e *Error) Retryable() bool {
	if e.Status == 0 {
		return true
	}
	return e.Status == 429 || e.Status >= 500
}

// notFoundCodes - коды ответа моста, означающие отсутствие позиции
var notFoundCodes = map[string]struct{}{
	"NOTFOUNDERROR":                 {},
	"POSITION_NOT_FOUND":            {},
	"INVALID_TICKET":                {},
	"TRADE_RETCODE_POSITION_CLOSED": {},
}

// IsNotFound - ошибка означает, что позиции уже нет
func IsNotFound(err error) bool {
	if errors.Is(err, ErrPositionNotFound) {
		return true
	}
	var be *Error
	if errors.As(err, &be) {
		if be.Status == 404 {
			return true
		}
		_, ok := notFoundCodes[strings.ToUpper(be.Code)]
		return ok
	}
	return false
}

// IsSupported проверяет, поддерживается ли тип брокера
func IsSupported(kind string) bool {
	kind = strings.ToLower(kind)
	for _, supported := range SupportedKinds {
		if kind == supported {
			return true
		}
	}
	return false
}
