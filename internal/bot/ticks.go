package bot

import (
	"context"
	"fmt"

	"pairbot/internal/models"
	"pairbot/pkg/utils"
)

// ProcessTick применяет котировку к ACTIVE парам старше MinPairAge.
//
// Порядок проверок для пары:
//  1. частичное закрытие PARTIAL и безубыток на доле пути к TP
//  2. TP
//  3. стоп (SL или безубыток)
//  4. трейлинг рабочего стопа
//
// TP проверяется раньше стопа. Пары в процессе входа провоцируют внеочередную сверку.
func (e *Engine) ProcessTick(ctx context.Context, q models.Quote) {
	if q.Symbol != "" && e.cfg.Symbol != "" && q.Symbol != e.cfg.Symbol {
		return
	}
	if q.Bid <= 0 || q.Ask <= 0 {
		return
	}
	TicksTotal.WithLabelValues("processed").Inc()

	now := e.clock.Now()
	e.mu.Lock()
	var ids []string
	for _, p := range e.store.inState(models.StateActive) {
		if now.Sub(p.OpenedAt) >= e.cfg.MinPairAge {
			ids = append(ids, p.ID)
		}
	}
	entering := e.store.countInState(models.StateEntryInProgress) > 0
	e.mu.Unlock()

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		e.applyTick(ctx, id, q)
	}

	if entering {
		e.requestReconcile()
	}
}

func (e *Engine) applyTick(ctx context.Context, id string, q models.Quote) {
	e.mu.Lock()
	p := e.store.get(id)
	if p == nil || p.State != models.StateActive {
		e.mu.Unlock()
		return
	}
	price := q.PriceFor(p.Side)

	if ticket, lot, ok := e.partialDueLocked(p, price); ok {
		e.mu.Unlock()
		if !e.closePartial(ctx, id, ticket, lot, price) {
			return
		}
		e.mu.Lock()
		if p = e.store.get(id); p == nil || p.State != models.StateActive {
			e.mu.Unlock()
			return
		}
	}

	if takeProfitHit(p.Side, price, p.TP) {
		e.mu.Unlock()
		e.closePair(ctx, id, models.ReasonTPHit)
		return
	}

	if stopHit(p.Side, price, p.EffectiveSL()) {
		reason := models.ReasonStopLoss
		if p.BreakEvenActive {
			reason = models.ReasonBreakEven
		}
		e.mu.Unlock()
		e.closePair(ctx, id, reason)
		return
	}

	if p.BreakEvenActive {
		if next, ok := advanceStop(p.Side, p.EffectiveSL(), e.trailing.Next(p, price)); ok {
			e.log.Debug("stop advanced",
				utils.PairID(id),
				utils.Float64("from", p.EffectiveSL()),
				utils.Float64("to", next))
			p.InternalSL = next
		}
	}
	e.mu.Unlock()
}

// partialDueLocked - пора закрывать PARTIAL: пройдена доля пути к TP
func (e *Engine) partialDueLocked(p *models.Pair, price float64) (ticket string, lot float64, ok bool) {
	if p.PartialClosed || p.Partial.Ticket == "" || p.TP == 0 || p.EntryPrice == 0 {
		return "", 0, false
	}
	threshold := e.cfg.PartialProgress
	if p.TightSLMode {
		threshold = e.cfg.TightPartialProgress
	}
	progress := progressToTP(p, price)
	if progress <= 0 || progress < threshold {
		return "", 0, false
	}
	return p.Partial.Ticket, p.Partial.Lot, true
}

// closePartial закрывает PARTIAL и переводит пару в безубыток.
// Пока шёл вызов брокера, сверка могла уже снять ногу как пропавшую:
// безубыток ставится и в этом случае.
// false - закрытие не удалось или пара уже не ACTIVE.
func (e *Engine) closePartial(ctx context.Context, id, ticket string, lot, price float64) bool {
	if _, err := e.exec.Close(ctx, ticket, lot); err != nil {
		e.log.Error("partial close failed", utils.PairID(id), utils.Ticket(ticket), utils.Err(err))
		return false
	}

	e.mu.Lock()
	p := e.store.get(id)
	if p == nil || p.State != models.StateActive {
		e.mu.Unlock()
		return false
	}
	switch {
	case p.Partial.Ticket == ticket:
		e.registry.Unregister(ticket)
		p.Partial.Drop()
	case p.PartialClosed && p.Partial.Ticket == "":
		// нога уже снята сверкой
	default:
		e.mu.Unlock()
		return false
	}
	if p.BreakEvenActive {
		e.mu.Unlock()
		return true
	}
	p.PartialClosed = true
	p.BreakEvenActive = true
	if next, ok := advanceStop(p.Side, p.EffectiveSL(), p.EntryPrice); ok {
		p.InternalSL = next
	}
	partialEv := e.newEvent(models.EventPartialClosed, p,
		fmt.Sprintf("%s %s partial leg closed @ %.5f", p.Symbol, p.Side, price),
		map[string]interface{}{"ticket": ticket, "lot": lot, "price": price})
	beEv := e.newEvent(models.EventBreakEven, p,
		fmt.Sprintf("%s %s stop moved to break-even %.5f", p.Symbol, p.Side, p.InternalSL),
		map[string]interface{}{"internal_sl": p.InternalSL})
	e.mu.Unlock()

	PartialCloses.Inc()
	e.emit(partialEv, beEv)
	e.log.Info("partial closed, break-even active",
		utils.PairID(id),
		utils.Ticket(ticket),
		utils.Price(price))
	return true
}
