package bot

import (
	"sort"
	"time"

	"pairbot/internal/models"
)

// PairStore - хранилище пар движка. Наружу отдаёт копии (Snapshot),
// внутренние указатели - только коду пакета под mutex движка.
type PairStore struct {
	pairs map[string]*models.Pair
}

// NewPairStore создаёт пустое хранилище
func NewPairStore() *PairStore {
	return &PairStore{pairs: make(map[string]*models.Pair)}
}

func (s *PairStore) put(p *models.Pair) {
	s.pairs[p.ID] = p
}

func (s *PairStore) get(id string) *models.Pair {
	return s.pairs[id]
}

func (s *PairStore) delete(id string) {
	delete(s.pairs, id)
}

// list возвращает пары в порядке открытия
func (s *PairStore) list() []*models.Pair {
	out := make([]*models.Pair, 0, len(s.pairs))
	for _, p := range s.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func (s *PairStore) inState(state models.State) []*models.Pair {
	var out []*models.Pair
	for _, p := range s.list() {
		if p.State == state {
			out = append(out, p)
		}
	}
	return out
}

// Snapshot возвращает копии всех пар
func (s *PairStore) Snapshot() []*models.Pair {
	src := s.list()
	out := make([]*models.Pair, len(src))
	for i, p := range src {
		out[i] = p.Clone()
	}
	return out
}

// Len возвращает количество пар
func (s *PairStore) Len() int {
	return len(s.pairs)
}

// CountByState - количество пар по состояниям
func (s *PairStore) CountByState() map[models.State]int {
	out := make(map[models.State]int, len(models.AllStates))
	for _, st := range models.AllStates {
		out[st] = 0
	}
	for _, p := range s.pairs {
		out[p.State]++
	}
	return out
}

// countInState - количество пар в состоянии
func (s *PairStore) countInState(state models.State) int {
	n := 0
	for _, p := range s.pairs {
		if p.State == state {
			n++
		}
	}
	return n
}

// countCategory - занятые слоты категории: пары без частичного закрытия с обеими ногами
func (s *PairStore) countCategory(category string) int {
	n := 0
	for _, p := range s.pairs {
		if p.Category == category && p.State != models.StateClosed && !p.PartialClosed && p.HasBothTickets() {
			n++
		}
	}
	return n
}

// hasMaturedOpposite - есть активная пара противоположного направления,
// уже сделавшая частичное закрытие
func (s *PairStore) hasMaturedOpposite(side models.Side) bool {
	for _, p := range s.pairs {
		if p.State == models.StateActive && p.Side == side.Opposite() && p.PartialClosed {
			return true
		}
	}
	return false
}

// ownsTicket - тикет стоит в ноге какой-либо пары
func (s *PairStore) ownsTicket(ticket string) bool {
	for _, p := range s.pairs {
		if p.Partial.Ticket == ticket || p.Trailing.Ticket == ticket {
			return true
		}
	}
	return false
}

// nextDeadline - ближайший момент, когда пара в процессе входа требует внимания:
// срок ожидания LEG2 или таймаут входа. Нулевое время - таких пар нет.
func (s *PairStore) nextDeadline(entryTimeout time.Duration) time.Time {
	var next time.Time
	consider := func(t time.Time) {
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	for _, p := range s.pairs {
		if p.State != models.StateEntryInProgress {
			continue
		}
		if !p.Entry.Leg2Attempted {
			consider(p.Entry.ConfirmDeadline)
		}
		consider(p.Entry.Timestamp.Add(entryTimeout))
	}
	return next
}
