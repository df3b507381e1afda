package bot

import (
	"context"
	"fmt"

	"pairbot/internal/models"
	"pairbot/pkg/utils"
)

// Finalize завершает пару: CLOSED, снятие тикетов из реестра, удаление из
// хранилища, событие закрытия. Повторный вызов ничего не делает (false).
//
// Если пара ещё не в CLOSING, она проходит через CLOSING с reason.
// Иначе используется причина, записанная при входе в CLOSING.
func (e *Engine) Finalize(id string, reason models.ClosingReason) bool {
	now := e.clock.Now()

	e.mu.Lock()
	p := e.store.get(id)
	if p == nil || p.State == models.StateClosed {
		e.mu.Unlock()
		return false
	}
	if p.State != models.StateClosing {
		if err := transition(p, models.StateClosing, reason, now); err != nil {
			e.mu.Unlock()
			e.log.Error("finalize rejected", utils.PairID(id), utils.Err(err))
			return false
		}
	}
	reason = p.Exit.Reason
	if err := transition(p, models.StateClosed, reason, now); err != nil {
		e.mu.Unlock()
		e.log.Error("finalize rejected", utils.PairID(id), utils.Err(err))
		return false
	}

	e.registry.UnregisterPair(id)
	for _, t := range p.OpenTickets() {
		e.registry.Unregister(t)
	}
	e.store.delete(id)
	e.refreshGaugesLocked()

	ev := e.newEvent(models.ClosedEventType(reason), p,
		fmt.Sprintf("%s %s closed: %s", p.Symbol, p.Side, reason),
		map[string]interface{}{
			"reason":         string(reason),
			"partial_closed": p.PartialClosed,
			"break_even":     p.BreakEvenActive,
			"internal_sl":    p.InternalSL,
		})
	e.mu.Unlock()

	RecordExit(reason)
	e.emit(ev)
	e.log.Info("pair finalized",
		utils.PairID(id),
		utils.Reason(string(reason)),
		utils.Elapsed(now.Sub(p.OpenedAt)))
	return true
}

// closePair переводит пару в CLOSING, закрывает её позиции и финализирует.
// false - пары нет или её уже закрывает другой обработчик.
//
// Ошибки закрытия не останавливают финализацию: оставшиеся позиции
// станут чужими и будут закрыты следующей сверкой.
func (e *Engine) closePair(ctx context.Context, id string, reason models.ClosingReason) bool {
	e.mu.Lock()
	p := e.store.get(id)
	if p == nil || p.State == models.StateClosing || p.State == models.StateClosed {
		e.mu.Unlock()
		return false
	}
	if err := transition(p, models.StateClosing, reason, e.clock.Now()); err != nil {
		e.mu.Unlock()
		e.log.Warn("close rejected", utils.PairID(id), utils.Err(err))
		return false
	}
	reqs := closeRequestsFor(p)
	e.refreshGaugesLocked()
	e.mu.Unlock()

	e.log.Info("closing pair",
		utils.PairID(id),
		utils.Reason(string(reason)),
		utils.Int("legs", len(reqs)))

	for _, out := range e.exec.CloseMany(ctx, reqs) {
		if out.Err != nil {
			e.log.Error("leg close failed",
				utils.PairID(id),
				utils.String("leg", out.Role),
				utils.Ticket(out.Ticket),
				utils.Err(out.Err))
		}
	}

	return e.Finalize(id, reason)
}

func closeRequestsFor(p *models.Pair) []CloseRequest {
	var reqs []CloseRequest
	if p.Partial.Ticket != "" {
		reqs = append(reqs, CloseRequest{PairID: p.ID, Role: models.LegPartial, Ticket: p.Partial.Ticket})
	}
	if p.Trailing.Ticket != "" {
		reqs = append(reqs, CloseRequest{PairID: p.ID, Role: models.LegTrailing, Ticket: p.Trailing.Ticket})
	}
	return reqs
}

// closeOrphan закрывает позицию, открытую для уже снятой пары
func (e *Engine) closeOrphan(ctx context.Context, ticket string) {
	if ticket == "" {
		return
	}
	Leg2Resolutions.WithLabelValues("orphaned").Inc()
	if _, err := e.exec.Close(ctx, ticket, 0); err != nil {
		e.log.Error("orphan close failed", utils.Ticket(ticket), utils.Err(err))
	}
}
