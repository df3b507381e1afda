package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pairbot/internal/config"
	"pairbot/internal/models"
	"pairbot/pkg/utils"
)

var errBrokerDown = errors.New("broker unavailable")

var testStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type placeCall struct {
	Side models.Side
	Lot  float64
	SL   float64
	TP   float64
}

type closeCall struct {
	Ticket string
	Lot    float64
}

// fakeGateway - брокер в памяти со сценарием ответов
type fakeGateway struct {
	mu    sync.Mutex
	clock Clock

	seq       int
	positions []models.Position
	quote     *models.Quote
	priceErr  error

	placeErrs  []error // по одной на вызов, затем placeErr
	placeErr   error
	placePrice float64
	listPlaced bool // открытые позиции сразу видны в ListPositions
	listErr    error
	closeErrs  map[string]error
	afterClose func(ticket string) // вызывается после закрытия, вне g.mu

	placed []placeCall
	closed []closeCall
	lists  int
}

func newFakeGateway(clock Clock) *fakeGateway {
	return &fakeGateway{
		clock:     clock,
		quote:     &models.Quote{Symbol: "XAUUSD", Bid: 2000, Ask: 2000},
		closeErrs: make(map[string]error),
	}
}

func (g *fakeGateway) PlaceMarket(_ context.Context, symbol string, side models.Side, lot, sl, tp float64) (models.PlaceResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.placed = append(g.placed, placeCall{Side: side, Lot: lot, SL: sl, TP: tp})
	if len(g.placeErrs) > 0 {
		err := g.placeErrs[0]
		g.placeErrs = g.placeErrs[1:]
		if err != nil {
			return models.PlaceResult{}, err
		}
	} else if g.placeErr != nil {
		return models.PlaceResult{}, g.placeErr
	}

	g.seq++
	ticket := fmt.Sprintf("T%d", g.seq)
	if g.listPlaced {
		g.positions = append(g.positions, models.Position{
			Ticket:   ticket,
			Symbol:   symbol,
			Side:     side,
			Volume:   lot,
			OpenTime: g.clock.Now(),
		})
	}
	return models.PlaceResult{Ticket: ticket, Price: g.placePrice}, nil
}

func (g *fakeGateway) ClosePosition(ctx context.Context, ticket string, lot float64) (models.CloseResult, error) {
	res, err := g.closePosition(ticket, lot)
	if err == nil && g.afterClose != nil {
		g.afterClose(ticket)
	}
	return res, err
}

func (g *fakeGateway) closePosition(ticket string, lot float64) (models.CloseResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = append(g.closed, closeCall{Ticket: ticket, Lot: lot})
	if err := g.closeErrs[ticket]; err != nil {
		return models.CloseResult{}, err
	}
	for i, p := range g.positions {
		if p.Ticket == ticket {
			g.positions = append(g.positions[:i], g.positions[i+1:]...)
			return models.CloseResult{}, nil
		}
	}
	return models.CloseResult{AlreadyClosed: true}, nil
}

func (g *fakeGateway) ListPositions(context.Context) ([]models.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lists++
	if g.listErr != nil {
		return nil, g.listErr
	}
	out := make([]models.Position, len(g.positions))
	copy(out, g.positions)
	return out, nil
}

func (g *fakeGateway) LastPrice(context.Context, string) (*models.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.priceErr != nil {
		return nil, g.priceErr
	}
	if g.quote == nil {
		return nil, nil
	}
	q := *g.quote
	return &q, nil
}

func (g *fakeGateway) setPositions(ps ...models.Position) {
	g.mu.Lock()
	g.positions = ps
	g.mu.Unlock()
}

func (g *fakeGateway) addPosition(p models.Position) {
	g.mu.Lock()
	g.positions = append(g.positions, p)
	g.mu.Unlock()
}

func (g *fakeGateway) placeCalls() []placeCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]placeCall(nil), g.placed...)
}

func (g *fakeGateway) closeCalls() []closeCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]closeCall(nil), g.closed...)
}

func (g *fakeGateway) closedTickets() []string {
	var out []string
	for _, c := range g.closeCalls() {
		out = append(out, c.Ticket)
	}
	return out
}

// recordingNotifier запоминает все события
type recordingNotifier struct {
	mu     sync.Mutex
	events []*models.Notification
}

func (n *recordingNotifier) Emit(ev *models.Notification) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Type
	}
	return out
}

func (n *recordingNotifier) count(typ string) int {
	c := 0
	for _, t := range n.types() {
		if t == typ {
			c++
		}
	}
	return c
}

func testBotConfig() config.BotConfig {
	cfg := config.DefaultBotConfig()
	cfg.Lot = 0.02
	cfg.MaxRetries = 0
	cfg.RetryBackoff = time.Millisecond
	cfg.BrokerTimeout = time.Second
	return cfg
}

type testRig struct {
	eng    *Engine
	gw     *fakeGateway
	clock  *ManualClock
	events *recordingNotifier
}

func newTestRig(t testing.TB, mutate ...func(*config.BotConfig)) *testRig {
	t.Helper()

	cfg := testBotConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	clock := NewManualClock(testStart)
	gw := newFakeGateway(clock)
	events := &recordingNotifier{}
	eng := NewEngine(cfg, gw,
		WithClock(clock),
		WithNotifier(events),
		WithLogger(utils.NewNopLogger()))

	return &testRig{eng: eng, gw: gw, clock: clock, events: events}
}

// admit открывает LEG1 по сигналу и возвращает снимок пары
func (r *testRig) admit(t *testing.T, id string, side models.Side) *models.Pair {
	t.Helper()
	adm, err := r.eng.AdmitSignal(context.Background(), models.Signal{ID: id, Kind: models.SignalEntry, Side: side})
	if err != nil {
		t.Fatalf("AdmitSignal(%s): %v", id, err)
	}
	if adm.Pair == nil {
		t.Fatalf("AdmitSignal(%s): no pair in admission", id)
	}
	return adm.Pair
}

// activePair кладёт в движок готовую ACTIVE пару со своими тикетами
func (r *testRig) activePair(id string, side models.Side, entry, sl, tp float64, openedAt time.Time) *models.Pair {
	p := &models.Pair{
		ID:         id,
		SignalID:   "sig-" + id,
		Symbol:     "XAUUSD",
		Side:       side,
		Category:   models.DefaultCategory(side),
		LotEach:    0.02,
		EntryPrice: entry,
		SL:         sl,
		TP:         tp,
		Partial:    models.Leg{Ticket: id + "-P", Lot: 0.02},
		Trailing:   models.Leg{Ticket: id + "-T", Lot: 0.02},
		State:      models.StateActive,
		OpenedAt:   openedAt,
		Entry:      models.EntryPhase{Timestamp: openedAt, ConfirmDeadline: openedAt.Add(3 * time.Second)},
	}

	r.eng.mu.Lock()
	r.eng.store.put(p)
	r.eng.registry.Register(p.Partial.Ticket, p.ID)
	r.eng.registry.Register(p.Trailing.Ticket, p.ID)
	r.eng.mu.Unlock()

	return p.Clone()
}

func (r *testRig) pair(t *testing.T, id string) *models.Pair {
	t.Helper()
	p, ok := r.eng.Pair(id)
	if !ok {
		t.Fatalf("pair %s not found", id)
	}
	return p
}

func quote(bid, ask float64) models.Quote {
	return models.Quote{Symbol: "XAUUSD", Bid: bid, Ask: ask}
}

func position(ticket string, side models.Side, volume float64, openTime time.Time) models.Position {
	return models.Position{Ticket: ticket, Symbol: "XAUUSD", Side: side, Volume: volume, OpenTime: openTime}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
