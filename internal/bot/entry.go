package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"pairbot/internal/models"
	"pairbot/pkg/utils"
)

// Ошибки приёма сигналов
var (
	ErrInvalidSignal    = errors.New("invalid signal")
	ErrBusy             = errors.New("entry in progress")
	ErrCategoryFull     = errors.New("category limit reached")
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrLeg1Failed       = errors.New("leg1 placement failed")
	ErrPairNotFound     = errors.New("pair not found")
)

// Причины захвата и освобождения лока входа
const (
	lockEntryProcessing   = "entry-processing"
	lockEntrySuccess      = "entry-success"
	lockEntryFailed       = "entry-failed"
	lockEntryTimeout      = "entry-timeout-abandon"
	lockPriceUnavailable  = "price-unavailable"
	lockEntryManualCancel = "entry-manual-cancel"
)

// Admission - результат обработки сигнала
type Admission struct {
	Duplicate bool         `json:"duplicate,omitempty"`
	Pair      *models.Pair `json:"pair,omitempty"`   // ENTRY: снимок созданной пары
	Closed    int          `json:"closed,omitempty"` // CLOSE: сколько пар закрыто
}

// AdmitSignal обрабатывает внешний сигнал.
//
// ENTRY: проверки (дубликат, занятость, лимит категории), захват лока входа,
// котировка, уровни, создание пары и открытие LEG1. Лок не освобождается при
// успехе: его снимает сверка, когда пара станет ACTIVE, или guard таймаута.
//
// CLOSE: закрывает активные пары категории (или направления).
func (e *Engine) AdmitSignal(ctx context.Context, sig models.Signal) (*Admission, error) {
	if sig.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidSignal)
	}
	switch sig.Kind {
	case models.SignalClose:
		return e.HandleClose(ctx, sig)
	case models.SignalEntry, "":
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, sig.Kind)
	}
	if !sig.Side.Valid() {
		return nil, fmt.Errorf("%w: side %q", ErrInvalidSignal, sig.Side)
	}
	if sig.Category == "" {
		sig.Category = models.DefaultCategory(sig.Side)
	}

	log := e.log.With(utils.SignalID(sig.ID), utils.Side(string(sig.Side)), utils.Category(sig.Category))
	now := e.clock.Now()

	e.mu.Lock()
	if e.signals.has(sig.ID, now) {
		e.mu.Unlock()
		RecordSignal(models.SignalEntry, "duplicate")
		log.Info("duplicate signal ignored")
		return &Admission{Duplicate: true}, nil
	}
	if e.entryLock.IsLocked() || e.store.countInState(models.StateEntryInProgress) > 0 {
		e.mu.Unlock()
		RecordSignal(models.SignalEntry, "busy")
		return nil, ErrBusy
	}
	if limit := e.cfg.CategoryLimit(sig.Category); e.store.countCategory(sig.Category) >= limit {
		e.mu.Unlock()
		RecordSignal(models.SignalEntry, "category_full")
		log.Info("signal rejected", utils.Int("limit", limit))
		return nil, ErrCategoryFull
	}
	lockToken, ok := e.entryLock.AcquireToken(lockEntryProcessing)
	if !ok {
		e.mu.Unlock()
		RecordSignal(models.SignalEntry, "busy")
		return nil, ErrBusy
	}
	e.signals.mark(sig.ID, now)
	tight := e.store.hasMaturedOpposite(sig.Side)
	e.mu.Unlock()

	quote, err := e.exec.LastPrice(ctx)
	if err != nil || quote == nil || quote.Bid <= 0 || quote.Ask <= 0 {
		e.entryLock.ReleaseToken(lockToken, lockPriceUnavailable)
		e.forgetSignal(sig.ID)
		RecordSignal(models.SignalEntry, "price_unavailable")
		if err != nil {
			log.Warn("reference price unavailable", utils.Err(err))
			return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
		}
		log.Warn("reference price unavailable")
		return nil, ErrPriceUnavailable
	}

	entry := quote.EntryPriceFor(sig.Side)
	lot := e.sizer.LotFor(sig, *quote)
	sl, tp := e.levels(sig.Side, entry)
	if tight {
		sl = tightenSL(sig.Side, entry, sl, e.cfg.TightSLFactor)
	}

	now = e.clock.Now()
	pair := &models.Pair{
		ID:          uuid.NewString(),
		SignalID:    sig.ID,
		Symbol:      e.cfg.Symbol,
		Side:        sig.Side,
		Category:    sig.Category,
		LotEach:     lot,
		EntryPrice:  entry,
		SL:          sl,
		TP:          tp,
		InternalSL:  sl,
		TightSLMode: tight,
		Partial:     models.Leg{Lot: lot},
		Trailing:    models.Leg{Lot: lot},
		State:       models.StateCreated,
		OpenedAt:    now,
	}
	if err := transition(pair, models.StateEntryInProgress, "", now); err != nil {
		e.entryLock.ReleaseToken(lockToken, lockEntryFailed)
		return nil, err
	}
	pair.Entry = models.EntryPhase{
		Timestamp:       now,
		ConfirmDeadline: now.Add(e.cfg.Leg2ConfirmDelay),
		LockToken:       lockToken,
	}

	e.mu.Lock()
	e.store.put(pair)
	e.refreshGaugesLocked()
	e.mu.Unlock()
	e.poke()

	log = log.WithPairID(pair.ID)
	log.Info("placing leg1",
		utils.Volume(lot),
		utils.Price(entry),
		utils.Float64("sl", sl),
		utils.Float64("tp", tp),
		utils.Bool("tight_sl", tight))

	res, err := e.exec.Place(ctx, sig.Side, lot, sl, tp)
	if err != nil {
		log.Error("leg1 placement failed", utils.Err(err))
		e.entryLock.ReleaseToken(lockToken, lockEntryFailed)
		e.Finalize(pair.ID, models.ReasonEntryFailed)
		e.forgetSignal(sig.ID)
		RecordSignal(models.SignalEntry, "leg1_failed")
		return nil, fmt.Errorf("%w: %v", ErrLeg1Failed, err)
	}

	e.mu.Lock()
	p := e.store.get(pair.ID)
	if p == nil || p.State != models.StateEntryInProgress {
		e.mu.Unlock()
		// пара уже снята guard'ом: позиция никому не принадлежит
		log.Warn("leg1 filled after entry was abandoned", utils.Ticket(res.Ticket))
		e.closeOrphan(ctx, res.Ticket)
		RecordSignal(models.SignalEntry, "leg1_failed")
		return nil, fmt.Errorf("%w: entry abandoned before fill", ErrLeg1Failed)
	}
	p.Partial.Ticket = res.Ticket
	if res.Price > 0 {
		p.EntryPrice = res.Price
	}
	e.registry.Register(res.Ticket, p.ID)
	e.registry.MarkRecent(res.Ticket)
	snapshot := p.Clone()
	ev := e.newEvent(models.EventEntryPlaced, p,
		fmt.Sprintf("%s %s %.2f x2 @ %.5f", p.Symbol, p.Side, p.LotEach, p.EntryPrice),
		map[string]interface{}{"ticket": res.Ticket, "signal_id": sig.ID, "approval": sig.Approval})
	e.mu.Unlock()

	e.emit(ev)
	RecordSignal(models.SignalEntry, "accepted")
	log.Info("leg1 placed", utils.Ticket(res.Ticket), utils.Price(snapshot.EntryPrice))

	return &Admission{Pair: snapshot}, nil
}

// levels возвращает SL/TP: индикаторный расчёт, если он готов,
// иначе фиксированные дистанции
func (e *Engine) levels(side models.Side, entry float64) (sl, tp float64) {
	if e.planner != nil {
		if sl, tp, ok := e.planner.Plan(side, entry); ok {
			return sl, tp
		}
	}
	return fixedLevels(side, entry, e.cfg.SLDistance, e.cfg.TPDistance)
}

func (e *Engine) forgetSignal(id string) {
	e.mu.Lock()
	e.signals.forget(id)
	e.mu.Unlock()
}

// HandleClose закрывает активные пары по сигналу CLOSE.
// Категория сигнала важнее направления; без обоих закрываются все активные пары.
func (e *Engine) HandleClose(ctx context.Context, sig models.Signal) (*Admission, error) {
	now := e.clock.Now()

	e.mu.Lock()
	if e.signals.has(sig.ID, now) {
		e.mu.Unlock()
		RecordSignal(models.SignalClose, "duplicate")
		return &Admission{Duplicate: true}, nil
	}
	e.signals.mark(sig.ID, now)
	var ids []string
	for _, p := range e.store.inState(models.StateActive) {
		switch {
		case sig.Category != "":
			if p.Category != sig.Category {
				continue
			}
		case sig.Side.Valid():
			if p.Side != sig.Side {
				continue
			}
		}
		ids = append(ids, p.ID)
	}
	e.mu.Unlock()

	closed := 0
	for _, id := range ids {
		if e.closePair(ctx, id, models.ReasonManualClose) {
			closed++
		}
	}

	RecordSignal(models.SignalClose, "accepted")
	e.log.Info("close signal handled",
		utils.SignalID(sig.ID),
		utils.Category(sig.Category),
		utils.Side(string(sig.Side)),
		utils.Int("closed", closed))

	return &Admission{Closed: closed}, nil
}

// ForceClose закрывает пару по запросу оператора
func (e *Engine) ForceClose(ctx context.Context, id string) error {
	e.mu.Lock()
	p := e.store.get(id)
	if p == nil || p.State == models.StateClosed {
		e.mu.Unlock()
		return ErrPairNotFound
	}
	entering := p.State == models.StateEntryInProgress
	lockToken := p.Entry.LockToken
	e.mu.Unlock()

	if !e.closePair(ctx, id, models.ReasonPairClosed) {
		return fmt.Errorf("pair %s is already closing", id)
	}
	if entering {
		e.entryLock.ReleaseToken(lockToken, lockEntryManualCancel)
	}
	return nil
}
