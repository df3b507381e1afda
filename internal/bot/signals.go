package bot

import "time"

// signalSet - недавно обработанные id сигналов (дедупликация).
// Ограничен по времени жизни и размеру; при переполнении вытесняются самые старые.
type signalSet struct {
	seen    map[string]time.Time
	order   []string
	ttl     time.Duration
	maxSize int
}

func newSignalSet(ttl time.Duration, maxSize int) *signalSet {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &signalSet{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

func (s *signalSet) has(id string, now time.Time) bool {
	at, ok := s.seen[id]
	if !ok {
		return false
	}
	if s.ttl > 0 && now.Sub(at) >= s.ttl {
		delete(s.seen, id)
		return false
	}
	return true
}

func (s *signalSet) mark(id string, now time.Time) {
	if _, ok := s.seen[id]; !ok {
		s.order = append(s.order, id)
	}
	s.seen[id] = now
	for len(s.seen) > s.maxSize && len(s.order) > 0 {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
}

// sweep удаляет просроченные id
func (s *signalSet) sweep(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		at, ok := s.seen[id]
		if !ok {
			continue
		}
		if now.Sub(at) >= s.ttl {
			delete(s.seen, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func (s *signalSet) len() int {
	return len(s.seen)
}

// forget снимает отметку (сигнал отклонён и может быть отправлен повторно)
func (s *signalSet) forget(id string) {
	delete(s.seen, id)
}
