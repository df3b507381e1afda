package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"pairbot/internal/config"
	"pairbot/internal/models"
	"pairbot/pkg/utils"
)

// minWake - минимальная пауза планировщика, когда срок уже наступил,
// но обработчик ещё не успел его снять
const minWake = 100 * time.Millisecond

// Engine - движок парных позиций одного символа.
//
// Компоненты:
// - Entry Coordinator (entry.go): приём сигналов, открытие LEG1
// - Reconciler (reconciler.go): сверка с брокером, LEG2, чужие позиции, таймауты входа
// - Tick Processor (ticks.go): частичное закрытие, безубыток, TP/SL, трейлинг
// - Finalizer (finalizer.go): идемпотентное завершение пары
//
// Конкурентность:
// - mu защищает хранилище пар, реестр владения и дедупликацию сигналов
// - под mu никогда не вызывается брокер: lock → решение + копия → unlock → вызов → lock → проверка → применение
// - тики схлопываются в почтовый ящик на одно место, обрабатываются одним воркером
// - сверка и guard таймаутов - single-flight (atomic флаги)
type Engine struct {
	cfg   config.BotConfig
	clock Clock
	log   *utils.Logger

	exec     *OrderExecutor
	notifier Notifier
	wsHub    WebSocketHub
	sizer    LotSizer
	planner  StopPlanner
	trailing TrailingPolicy

	mu       sync.Mutex
	store    *PairStore
	registry *OwnershipRegistry
	signals  *signalSet

	entryLock *EntryLock

	reconciling      atomic.Bool
	guarding         atomic.Bool
	reconcileWanted  atomic.Bool
	lastReconcileAt  atomic.Int64
	lastReconcileErr atomic.Value // string

	ticks chan models.Quote
	wake  chan struct{}
}

// Option - настройка Engine
type Option func(*Engine)

// WithClock подменяет источник времени
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLogger задаёт logger
func WithLogger(l *utils.Logger) Option { return func(e *Engine) { e.log = l } }

// WithNotifier задаёт получателя событий
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithWebSocketHub включает рассылку снимков пар в UI
func WithWebSocketHub(h WebSocketHub) Option { return func(e *Engine) { e.wsHub = h } }

// WithLotSizer подменяет расчёт объёма
func WithLotSizer(s LotSizer) Option { return func(e *Engine) { e.sizer = s } }

// WithStopPlanner подключает индикаторный расчёт SL/TP
func WithStopPlanner(p StopPlanner) Option { return func(e *Engine) { e.planner = p } }

// WithTrailingPolicy подменяет политику трейлинга
func WithTrailingPolicy(p TrailingPolicy) Option { return func(e *Engine) { e.trailing = p } }

// NewEngine создаёт движок
func NewEngine(cfg config.BotConfig, gw Gateway, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		clock:    SystemClock{},
		notifier: nopNotifier{},
		sizer:    NewFixedLotSizer(cfg),
		trailing: NewTrailingPolicy(cfg),
		store:    NewPairStore(),
		ticks:    make(chan models.Quote, 1),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = utils.L()
	}
	e.log = e.log.WithComponent("engine").WithSymbol(cfg.Symbol)

	e.exec = NewOrderExecutor(gw, cfg, e.log)
	e.registry = NewOwnershipRegistry(e.clock, cfg.RecentTTL)
	e.signals = newSignalSet(cfg.SignalTTL, cfg.SignalCacheSize)
	e.entryLock = NewEntryLock(e.clock, cfg.EntryLockTimeout, e.log)
	e.lastReconcileErr.Store("")
	return e
}

// Symbol возвращает символ движка
func (e *Engine) Symbol() string {
	return e.cfg.Symbol
}

// Run запускает планировщик и воркер тиков. Блокируется до отмены ctx.
func (e *Engine) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	wg.Go(func() { e.tickLoop(ctx) })
	if e.wsHub != nil && e.cfg.SnapshotInterval > 0 {
		wg.Go(func() { e.snapshotLoop(ctx) })
	}

	e.log.Info("engine started",
		utils.String("trailing", e.trailing.Name()),
		utils.Duration("reconcile_interval", e.cfg.ReconcileInterval))

	e.scheduleLoop(ctx, &wg)
	wg.Wait()

	e.log.Info("engine stopped")
	return ctx.Err()
}

// scheduleLoop - единый планировщик: спит до ближайшего из
// (интервал сверки, интервал guard, срок LEG2, таймаут входа)
func (e *Engine) scheduleLoop(ctx context.Context, wg *conc.WaitGroup) {
	now := e.clock.Now()
	nextReconcile := now
	nextGuard := now.Add(e.cfg.GuardInterval)

	for {
		next := nextReconcile
		if nextGuard.Before(next) {
			next = nextGuard
		}
		if d := e.nextDeadline(); !d.IsZero() && d.Before(next) {
			next = d
		}
		wait := next.Sub(e.clock.Now())
		if wait < minWake {
			wait = minWake
		}

		select {
		case <-ctx.Done():
			return
		case <-e.clock.After(wait):
		case <-e.wake:
		}

		now = e.clock.Now()
		deadline := e.nextDeadline()
		deadlineDue := !deadline.IsZero() && !now.Before(deadline)

		if !now.Before(nextGuard) || deadlineDue {
			wg.Go(func() { e.GuardEntryTimeouts(ctx) })
			nextGuard = now.Add(e.cfg.GuardInterval)
		}
		if !now.Before(nextReconcile) || deadlineDue || e.reconcileWanted.Swap(false) {
			wg.Go(func() { _ = e.Reconcile(ctx) })
			nextReconcile = now.Add(e.cfg.ReconcileInterval)
		}
	}
}

func (e *Engine) nextDeadline() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.nextDeadline(e.cfg.EntryTimeout)
}

// poke будит планировщик (новый срок или запрос сверки)
func (e *Engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// requestReconcile - внеочередная сверка при ближайшем пробуждении
func (e *Engine) requestReconcile() {
	e.reconcileWanted.Store(true)
	e.poke()
}

// OnTick принимает котировку. Необработанная предыдущая котировка вытесняется.
func (e *Engine) OnTick(q models.Quote) {
	if tryEnqueueQuote(e.ticks, q) {
		TicksTotal.WithLabelValues("coalesced").Inc()
	}
}

func (e *Engine) tickLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-e.ticks:
			e.ProcessTick(ctx, q)
		}
	}
}

func (e *Engine) snapshotLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.clock.After(e.cfg.SnapshotInterval):
			e.wsHub.BroadcastPairUpdate(e.Snapshot())
		}
	}
}

// ============ Чтение состояния ============

// Snapshot возвращает копии всех пар
func (e *Engine) Snapshot() []*models.Pair {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Snapshot()
}

// Pair возвращает копию пары
func (e *Engine) Pair(id string) (*models.Pair, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.store.get(id)
	if p == nil {
		return nil, false
	}
	return p.Clone(), true
}

// EngineStatus - сводка для API
type EngineStatus struct {
	Symbol         string               `json:"symbol"`
	EntryLock      LockStatus           `json:"entry_lock"`
	Pairs          map[models.State]int `json:"pairs"`
	OwnedTickets   int                  `json:"owned_tickets"`
	Reconciling    bool                 `json:"reconciling"`
	LastReconcile  time.Time            `json:"last_reconcile,omitempty"`
	ReconcileError string               `json:"reconcile_error,omitempty"`
	Trailing       string               `json:"trailing"`
}

// Status возвращает сводку движка
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	counts := e.store.CountByState()
	owned := e.registry.Len()
	e.mu.Unlock()

	st := EngineStatus{
		Symbol:         e.cfg.Symbol,
		EntryLock:      e.entryLock.Status(),
		Pairs:          counts,
		OwnedTickets:   owned,
		Reconciling:    e.reconciling.Load(),
		ReconcileError: e.lastReconcileErr.Load().(string),
		Trailing:       e.trailing.Name(),
	}
	if ns := e.lastReconcileAt.Load(); ns > 0 {
		st.LastReconcile = time.Unix(0, ns)
	}
	return st
}

// EntryLockStatus возвращает состояние лока входа
func (e *Engine) EntryLockStatus() LockStatus {
	return e.entryLock.Status()
}

// ============ События ============

func (e *Engine) newEvent(typ string, p *models.Pair, msg string, meta map[string]interface{}) *models.Notification {
	n := &models.Notification{
		Timestamp: e.clock.Now(),
		Type:      typ,
		Severity:  models.SeverityFor(typ),
		Symbol:    e.cfg.Symbol,
		Message:   msg,
		Meta:      meta,
	}
	if p != nil {
		n.PairID = p.ID
		n.Pair = p.Clone()
	}
	return n
}

func (e *Engine) emit(events ...*models.Notification) {
	for _, n := range events {
		if n != nil {
			e.notifier.Emit(n)
		}
	}
}

// refreshGaugesLocked обновляет gauge по состояниям. Вызывается под mu.
func (e *Engine) refreshGaugesLocked() {
	UpdatePairGauges(e.store.CountByState())
}
