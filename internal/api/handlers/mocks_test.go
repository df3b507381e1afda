package handlers

import (
	"context"
	"sync"
	"time"

	"pairbot/internal/bot"
	"pairbot/internal/models"
	"pairbot/internal/service"
)

// ============ Mock Engine ============

// MockEngine мок для Engine
type MockEngine struct {
	mu sync.Mutex

	pairs    map[string]*models.Pair
	signals  []models.Signal
	closed   []string
	admitErr error
	closeErr error
	admitFn  func(sig models.Signal) *bot.Admission
	status   bot.EngineStatus
}

// NewMockEngine создает мок движка
func NewMockEngine() *MockEngine {
	return &MockEngine{pairs: make(map[string]*models.Pair)}
}

func (m *MockEngine) AddPair(p *models.Pair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[p.ID] = p
}

func (m *MockEngine) AdmitSignal(ctx context.Context, sig models.Signal) (*bot.Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, sig)
	if m.admitErr != nil {
		return nil, m.admitErr
	}
	if m.admitFn != nil {
		return m.admitFn(sig), nil
	}
	return &bot.Admission{Pair: &models.Pair{ID: "pair-" + sig.ID, Side: sig.Side, Category: sig.Category}}, nil
}

func (m *MockEngine) ForceClose(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		return m.closeErr
	}
	if _, ok := m.pairs[id]; !ok {
		return bot.ErrPairNotFound
	}
	m.closed = append(m.closed, id)
	return nil
}

func (m *MockEngine) Snapshot() []*models.Pair {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Pair, 0, len(m.pairs))
	for _, p := range m.pairs {
		out = append(out, p.Clone())
	}
	return out
}

func (m *MockEngine) Pair(id string) (*models.Pair, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pairs[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (m *MockEngine) Status() bot.EngineStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *MockEngine) lastSignal() models.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.signals) == 0 {
		return models.Signal{}
	}
	return m.signals[len(m.signals)-1]
}

// ============ Mock Journal ============

// MockJournal мок для Journal
type MockJournal struct {
	events    []*models.Notification
	trades    []*models.TradeRecord
	stats     map[string]int
	disabled  bool
	getErr    error
	gotTypes  []string
	gotLimit  int
	gotPeriod time.Duration
}

func NewMockJournal() *MockJournal {
	return &MockJournal{stats: make(map[string]int)}
}

func (m *MockJournal) AddEvent(typ, pairID, msg string) {
	m.events = append(m.events, &models.Notification{
		ID:        len(m.events) + 1,
		Timestamp: time.Date(2026, 3, 2, 10, 0, len(m.events), 0, time.UTC),
		Type:      typ,
		Severity:  models.SeverityFor(typ),
		PairID:    pairID,
		Message:   msg,
	})
}

func (m *MockJournal) err() error {
	if m.disabled {
		return service.ErrJournalDisabled
	}
	return m.getErr
}

func (m *MockJournal) GetNotifications(types []string, limit int) ([]*models.Notification, error) {
	m.gotTypes, m.gotLimit = types, limit
	if err := m.err(); err != nil {
		return nil, err
	}
	want := make(map[string]bool)
	for _, t := range types {
		want[t] = true
	}
	var out []*models.Notification
	for _, n := range m.events {
		if len(want) == 0 || want[n.Type] {
			out = append(out, n)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockJournal) GetPairHistory(pairID string) ([]*models.Notification, error) {
	if err := m.err(); err != nil {
		return nil, err
	}
	var out []*models.Notification
	for _, n := range m.events {
		if n.PairID == pairID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *MockJournal) GetTrades(limit int) ([]*models.TradeRecord, error) {
	m.gotLimit = limit
	if err := m.err(); err != nil {
		return nil, err
	}
	return m.trades, nil
}

func (m *MockJournal) GetExitStats(period time.Duration) (map[string]int, error) {
	m.gotPeriod = period
	if err := m.err(); err != nil {
		return nil, err
	}
	return m.stats, nil
}
