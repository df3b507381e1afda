package bot

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"pairbot/internal/models"
	"pairbot/pkg/utils"
)

// Reconcile - один проход сверки с брокером. Параллельный вызов
// пропускается: одновременно работает не более одной сверки.
//
// Фаза 1: закрытие чужих позиций (не наши, не recent, старше ExternalMinAge).
// Фаза 2: по каждой паре - поиск/открытие LEG2 для ENTRY_IN_PROGRESS,
// проверка ног ACTIVE пар.
func (e *Engine) Reconcile(ctx context.Context) error {
	if !e.reconciling.CompareAndSwap(false, true) {
		ReconcileRuns.WithLabelValues("skipped").Inc()
		return nil
	}
	defer e.reconciling.Store(false)

	start := time.Now()
	positions, err := e.exec.List(ctx)
	if err != nil {
		ReconcileRuns.WithLabelValues("list_failed").Inc()
		e.lastReconcileErr.Store(err.Error())
		e.log.Warn("reconcile: list positions failed", utils.Err(err))
		return err
	}

	e.reconcile(ctx, positions)

	e.lastReconcileAt.Store(e.clock.Now().UnixNano())
	e.lastReconcileErr.Store("")
	ReconcileRuns.WithLabelValues("ok").Inc()
	ReconcileDuration.Observe(msSince(start))
	return nil
}

func (e *Engine) reconcile(ctx context.Context, positions []models.Position) {
	now := e.clock.Now()

	e.mu.Lock()
	e.registry.Sweep()
	e.signals.sweep(now)
	var external []CloseRequest
	for _, pos := range positions {
		if e.isExternalLocked(pos, now) {
			external = append(external, CloseRequest{Role: "EXTERNAL", Ticket: pos.Ticket})
		}
	}
	pairs := e.store.list()
	ids := make([]string, len(pairs))
	for i, p := range pairs {
		ids[i] = p.ID
	}
	e.mu.Unlock()

	e.sweepExternal(ctx, external)

	present := make(map[string]struct{}, len(positions))
	for _, pos := range positions {
		present[pos.Ticket] = struct{}{}
	}
	for _, id := range ids {
		e.reconcilePair(ctx, id, positions, present)
	}
}

// ============ Фаза 1: чужие позиции ============

// isExternalLocked - позицию нужно закрыть как чужую. Вызывается под mu.
func (e *Engine) isExternalLocked(pos models.Position, now time.Time) bool {
	if pos.Ticket == "" {
		return false
	}
	if pos.Symbol != "" && e.cfg.Symbol != "" && pos.Symbol != e.cfg.Symbol {
		return false
	}
	if e.registry.IsOwned(pos.Ticket) || e.store.ownsTicket(pos.Ticket) || e.registry.IsRecent(pos.Ticket) {
		return false
	}
	if pos.HasOpenTime() {
		if now.Sub(pos.OpenTime) <= e.cfg.ExternalMinAge {
			return false
		}
	} else if !e.cfg.CloseUnknownOpenTime {
		return false
	}
	// возможная зеркальная LEG2 пары, ожидающей подтверждения
	for _, p := range e.store.inState(models.StateEntryInProgress) {
		if e.matchesLeg2Locked(p, pos) {
			return false
		}
	}
	return true
}

func (e *Engine) sweepExternal(ctx context.Context, reqs []CloseRequest) {
	if len(reqs) == 0 {
		return
	}
	for _, out := range e.exec.CloseMany(ctx, reqs) {
		switch {
		case out.Err != nil:
			ExternalCloses.WithLabelValues("failed").Inc()
			e.log.Error("external position close failed", utils.Ticket(out.Ticket), utils.Err(out.Err))
		case out.Result.AlreadyClosed:
			ExternalCloses.WithLabelValues("already_closed").Inc()
		default:
			ExternalCloses.WithLabelValues("closed").Inc()
			e.log.Warn("external position closed", utils.Ticket(out.Ticket))
			e.emit(e.newEvent(models.EventExternalClosed, nil,
				fmt.Sprintf("external position %s closed", out.Ticket),
				map[string]interface{}{"ticket": out.Ticket}))
		}
	}
}

// ============ Фаза 2: пары ============

func (e *Engine) reconcilePair(ctx context.Context, id string, positions []models.Position, present map[string]struct{}) {
	now := e.clock.Now()

	e.mu.Lock()
	p := e.store.get(id)
	if p == nil {
		e.mu.Unlock()
		return
	}
	switch p.State {
	case models.StateEntryInProgress:
		e.resolveLeg2(ctx, p, positions, now) // освобождает mu
	case models.StateActive:
		e.validateActive(p, present, now) // освобождает mu
	default:
		e.mu.Unlock()
	}
}

// resolveLeg2 ищет вторую ногу в снимке позиций; после срока
// подтверждения открывает её сама (один раз). Вызывается под mu, освобождает его.
func (e *Engine) resolveLeg2(ctx context.Context, p *models.Pair, positions []models.Position, now time.Time) {
	if p.Partial.Ticket == "" {
		// LEG1 ещё открывается
		e.mu.Unlock()
		return
	}

	if cand, ok := e.findLeg2CandidateLocked(p, positions); ok {
		p.Trailing = models.Leg{Ticket: cand.Ticket, Lot: p.LotEach}
		p.Entry.Leg2PlacedAt = now
		e.registry.Register(cand.Ticket, p.ID)
		if err := transition(p, models.StateActive, "", now); err != nil {
			e.mu.Unlock()
			e.log.Error("leg2 adoption rejected", utils.PairID(p.ID), utils.Err(err))
			return
		}
		e.refreshGaugesLocked()
		ev := e.newEvent(models.EventLeg2Adopted, p,
			fmt.Sprintf("%s %s leg2 %s adopted", p.Symbol, p.Side, cand.Ticket),
			map[string]interface{}{"ticket": cand.Ticket})
		id, lockToken := p.ID, p.Entry.LockToken
		e.mu.Unlock()

		e.entryLock.ReleaseToken(lockToken, lockEntrySuccess)
		Leg2Resolutions.WithLabelValues("adopted").Inc()
		e.emit(ev)
		e.log.Info("leg2 adopted", utils.PairID(id), utils.Ticket(cand.Ticket))
		return
	}

	if p.Entry.Leg2Attempted || now.Before(p.Entry.ConfirmDeadline) {
		e.mu.Unlock()
		return
	}

	p.Entry.Leg2Attempted = true
	req := leg2Request{id: p.ID, side: p.Side, lot: p.LotEach, sl: p.SL, tp: p.TP, lockToken: p.Entry.LockToken}
	e.mu.Unlock()

	e.placeLeg2Fallback(ctx, req)
}

// leg2Request - параметры явного открытия LEG2, снятые под mu
type leg2Request struct {
	id        string
	side      models.Side
	lot       float64
	sl, tp    float64
	lockToken uint64
}

// placeLeg2Fallback открывает LEG2 сама, если брокер не открыл зеркальную позицию.
// Неудача оставляет пару в ENTRY_IN_PROGRESS до guard таймаута.
func (e *Engine) placeLeg2Fallback(ctx context.Context, req leg2Request) {
	id, side, lot, sl, tp := req.id, req.side, req.lot, req.sl, req.tp
	log := e.log.WithPairID(id)
	log.Info("leg2 not mirrored, placing explicitly", utils.Side(string(side)), utils.Volume(lot))

	res, err := e.exec.Place(ctx, side, lot, sl, tp)
	if err != nil {
		Leg2Resolutions.WithLabelValues("failed").Inc()
		log.Error("leg2 placement failed", utils.Err(err))
		e.entryLock.ReleaseToken(req.lockToken, lockEntryFailed)
		return
	}

	now := e.clock.Now()
	e.mu.Lock()
	p := e.store.get(id)
	if p == nil || p.State != models.StateEntryInProgress {
		e.mu.Unlock()
		log.Warn("leg2 filled after entry was abandoned", utils.Ticket(res.Ticket))
		e.closeOrphan(ctx, res.Ticket)
		return
	}
	p.Trailing = models.Leg{Ticket: res.Ticket, Lot: lot}
	p.Entry.Leg2PlacedAt = now
	e.registry.Register(res.Ticket, id)
	e.registry.MarkRecent(res.Ticket)
	if err := transition(p, models.StateActive, "", now); err != nil {
		e.mu.Unlock()
		log.Error("leg2 activation rejected", utils.Err(err))
		return
	}
	e.refreshGaugesLocked()
	ev := e.newEvent(models.EventLeg2Placed, p,
		fmt.Sprintf("%s %s leg2 %s placed", p.Symbol, p.Side, res.Ticket),
		map[string]interface{}{"ticket": res.Ticket})
	e.mu.Unlock()

	e.entryLock.ReleaseToken(req.lockToken, lockEntrySuccess)
	Leg2Resolutions.WithLabelValues("placed").Inc()
	e.emit(ev)
	log.Info("leg2 placed", utils.Ticket(res.Ticket))
}

// matchesLeg2Locked - позиция подходит как LEG2 пары (жёсткие фильтры)
func (e *Engine) matchesLeg2Locked(p *models.Pair, pos models.Position) bool {
	if pos.Ticket == "" || pos.Ticket == p.Partial.Ticket {
		return false
	}
	if owner := e.registry.Owner(pos.Ticket); owner != "" && owner != p.ID {
		return false
	}
	if pos.Symbol != "" && p.Symbol != "" && pos.Symbol != p.Symbol {
		return false
	}
	if pos.Side != p.Side {
		return false
	}
	if math.Abs(pos.Volume-p.LotEach) >= e.cfg.VolumeTolerance {
		return false
	}
	if pos.HasOpenTime() {
		d := pos.OpenTime.Sub(p.Entry.Timestamp)
		if d < 0 {
			d = -d
		}
		if d > e.cfg.Leg2MatchWindow {
			return false
		}
	}
	return true
}

// findLeg2CandidateLocked выбирает LEG2 среди подходящих позиций.
// Порядок: уже закреплённая за этой парой, затем ближайшая по времени
// открытия, позиции без времени открытия - последними.
func (e *Engine) findLeg2CandidateLocked(p *models.Pair, positions []models.Position) (models.Position, bool) {
	var cands []models.Position
	for _, pos := range positions {
		if e.matchesLeg2Locked(p, pos) {
			cands = append(cands, pos)
		}
	}
	if len(cands) == 0 {
		return models.Position{}, false
	}

	distance := func(pos models.Position) time.Duration {
		if !pos.HasOpenTime() {
			return time.Duration(math.MaxInt64)
		}
		d := pos.OpenTime.Sub(p.Entry.Timestamp)
		if d < 0 {
			d = -d
		}
		return d
	}
	sort.SliceStable(cands, func(i, j int) bool {
		oi := e.registry.Owner(cands[i].Ticket) == p.ID
		oj := e.registry.Owner(cands[j].Ticket) == p.ID
		if oi != oj {
			return oi
		}
		return distance(cands[i]) < distance(cands[j])
	})
	return cands[0], true
}

// validateActive проверяет, что ноги ACTIVE пары есть у брокера.
// Вызывается под mu, освобождает его.
func (e *Engine) validateActive(p *models.Pair, present map[string]struct{}, now time.Time) {
	if !p.FirstSyncDone {
		if now.Sub(p.OpenedAt) < e.cfg.SyncGrace {
			e.mu.Unlock()
			return
		}
		p.FirstSyncDone = true
	}

	confirmations := e.cfg.MissingLegConfirmations
	if confirmations < 1 {
		confirmations = 1
	}
	var dropped []string

	if t := p.Partial.Ticket; t != "" {
		if _, ok := present[t]; ok {
			p.Partial.Seen()
		} else if p.Partial.Miss() >= confirmations {
			e.registry.Unregister(t)
			p.Partial.Drop()
			p.PartialClosed = true
			dropped = append(dropped, models.LegPartial+":"+t)
		}
	}

	if t := p.Trailing.Ticket; t != "" {
		_, ok := present[t]
		switch {
		case ok:
			p.Trailing.Seen()
		case !p.Entry.Leg2PlacedAt.IsZero() && now.Sub(p.Entry.Leg2PlacedAt) < e.cfg.Leg2Grace:
			// свежая LEG2 может ещё не появиться в списке
		case p.Trailing.Miss() >= confirmations:
			e.registry.Unregister(t)
			p.Trailing.Drop()
			dropped = append(dropped, models.LegTrailing+":"+t)
		}
	}

	id := p.ID
	gone := p.Partial.Ticket == "" && p.Trailing.Ticket == ""
	e.mu.Unlock()

	if len(dropped) > 0 {
		e.log.Warn("legs closed externally", utils.PairID(id), utils.Any("legs", dropped))
	}
	if gone {
		e.Finalize(id, models.ReasonSyncClosed)
	}
}

// ============ Guard таймаута входа ============

// GuardEntryTimeouts снимает пары, застрявшие в ENTRY_IN_PROGRESS дольше
// EntryTimeout: закрывает открытые ноги, удаляет пару, освобождает лок входа.
func (e *Engine) GuardEntryTimeouts(ctx context.Context) {
	if !e.guarding.CompareAndSwap(false, true) {
		return
	}
	defer e.guarding.Store(false)

	now := e.clock.Now()

	e.mu.Lock()
	type expired struct {
		id        string
		reqs      []CloseRequest
		lockToken uint64
	}
	var stale []expired
	for _, p := range e.store.inState(models.StateEntryInProgress) {
		if now.Sub(p.Entry.Timestamp) < e.cfg.EntryTimeout {
			continue
		}
		if err := transition(p, models.StateClosing, models.ReasonEntryTimeout, now); err != nil {
			e.log.Error("entry timeout transition rejected", utils.PairID(p.ID), utils.Err(err))
			continue
		}
		stale = append(stale, expired{id: p.ID, reqs: closeRequestsFor(p), lockToken: p.Entry.LockToken})
	}
	if len(stale) > 0 {
		e.refreshGaugesLocked()
	}
	e.mu.Unlock()

	for _, s := range stale {
		e.log.Warn("entry timed out, abandoning pair",
			utils.PairID(s.id),
			utils.Int("legs", len(s.reqs)),
			utils.Duration("timeout", e.cfg.EntryTimeout))
		for _, out := range e.exec.CloseMany(ctx, s.reqs) {
			if out.Err != nil {
				e.log.Error("leg close failed", utils.PairID(s.id), utils.Ticket(out.Ticket), utils.Err(out.Err))
			}
		}
		e.Finalize(s.id, models.ReasonEntryTimeout)
		e.entryLock.ReleaseToken(s.lockToken, lockEntryTimeout)
	}
}
