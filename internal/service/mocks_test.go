package service

import (
	"errors"
	"sync"
	"time"

	"pairbot/internal/models"
	"pairbot/internal/repository"
)

// ============ Mock EventRepository ============

type MockEventRepository struct {
	mu        sync.Mutex
	events    []*models.Notification
	createErr error
	getErr    error
	deleted   []time.Time
	nextID    int
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{nextID: 1}
}

func (m *MockEventRepository) Create(n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	n.ID = m.nextID
	m.nextID++
	m.events = append(m.events, n)
	return nil
}

func (m *MockEventRepository) GetRecent(limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.Notification
	for i := len(m.events) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, m.events[i])
	}
	return result, nil
}

func (m *MockEventRepository) GetByPair(pairID string) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.Notification
	for _, n := range m.events {
		if n.PairID == pairID {
			result = append(result, n)
		}
	}
	return result, nil
}

func (m *MockEventRepository) GetByTypes(types []string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var result []*models.Notification
	for i := len(m.events) - 1; i >= 0 && len(result) < limit; i-- {
		if want[m.events[i].Type] {
			result = append(result, m.events[i])
		}
	}
	return result, nil
}

func (m *MockEventRepository) DeleteOlderThan(before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, before)
	return 0, nil
}

func (m *MockEventRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ============ Mock TradeRepository ============

type MockTradeRepository struct {
	mu        sync.Mutex
	trades    map[string]*models.TradeRecord
	createErr error
	since     time.Time
}

func NewMockTradeRepository() *MockTradeRepository {
	return &MockTradeRepository{trades: make(map[string]*models.TradeRecord)}
}

func (m *MockTradeRepository) Create(t *models.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.trades[t.PairID]; !ok {
		m.trades[t.PairID] = t
	}
	return nil
}

func (m *MockTradeRepository) GetByPairID(pairID string) (*models.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[pairID]
	if !ok {
		return nil, repository.ErrTradeNotFound
	}
	return t, nil
}

func (m *MockTradeRepository) GetRecent(limit int) ([]*models.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*models.TradeRecord, 0, len(m.trades))
	for _, t := range m.trades {
		if len(result) == limit {
			break
		}
		result = append(result, t)
	}
	return result, nil
}

func (m *MockTradeRepository) CountByReason(since time.Time) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.since = since
	counts := make(map[string]int)
	for _, t := range m.trades {
		if !t.ClosedAt.Before(since) {
			counts[t.Reason]++
		}
	}
	return counts, nil
}

// ============ Mock WebSocketBroadcaster ============

type MockBroadcaster struct {
	mu     sync.Mutex
	events []*models.Notification
}

func (m *MockBroadcaster) BroadcastNotification(n *models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, n)
}

func (m *MockBroadcaster) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ============ Mock ChatSender ============

type MockChat struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
}

func (m *MockChat) Send(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return m.sendErr
}

func (m *MockChat) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

var errSinkDown = errors.New("sink down")
