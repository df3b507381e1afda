package bot

import "time"

// OwnershipRegistry отвечает на вопрос "чья это позиция".
//
// owners: тикет -> id пары; recent: тикеты, открытые нами только что
// (брокер может ещё не показывать их в списке позиций).
// Не потокобезопасен: все вызовы идут под mutex движка.
type OwnershipRegistry struct {
	owners    map[string]string
	byPair    map[string]map[string]struct{}
	recent    map[string]time.Time
	recentTTL time.Duration
	clock     Clock
}

// NewOwnershipRegistry создаёт реестр
func NewOwnershipRegistry(clock Clock, recentTTL time.Duration) *OwnershipRegistry {
	return &OwnershipRegistry{
		owners:    make(map[string]string),
		byPair:    make(map[string]map[string]struct{}),
		recent:    make(map[string]time.Time),
		recentTTL: recentTTL,
		clock:     clock,
	}
}

// Register закрепляет тикет за парой
func (r *OwnershipRegistry) Register(ticket, pairID string) {
	if ticket == "" {
		return
	}
	if prev, ok := r.owners[ticket]; ok && prev != pairID {
		delete(r.byPair[prev], ticket)
	}
	r.owners[ticket] = pairID
	set, ok := r.byPair[pairID]
	if !ok {
		set = make(map[string]struct{}, 2)
		r.byPair[pairID] = set
	}
	set[ticket] = struct{}{}
}

// Unregister снимает владение тикетом (идемпотентно)
func (r *OwnershipRegistry) Unregister(ticket string) {
	pairID, ok := r.owners[ticket]
	if !ok {
		return
	}
	delete(r.owners, ticket)
	if set := r.byPair[pairID]; set != nil {
		delete(set, ticket)
		if len(set) == 0 {
			delete(r.byPair, pairID)
		}
	}
}

// UnregisterPair снимает все тикеты пары и возвращает их
func (r *OwnershipRegistry) UnregisterPair(pairID string) []string {
	set := r.byPair[pairID]
	out := make([]string, 0, len(set))
	for t := range set {
		delete(r.owners, t)
		out = append(out, t)
	}
	delete(r.byPair, pairID)
	return out
}

// IsOwned - тикет принадлежит какой-либо паре
func (r *OwnershipRegistry) IsOwned(ticket string) bool {
	_, ok := r.owners[ticket]
	return ok
}

// Owner возвращает id пары-владельца или ""
func (r *OwnershipRegistry) Owner(ticket string) string {
	return r.owners[ticket]
}

// TicketsOf возвращает тикеты пары
func (r *OwnershipRegistry) TicketsOf(pairID string) []string {
	set := r.byPair[pairID]
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

// MarkRecent помечает тикет как только что открытый
func (r *OwnershipRegistry) MarkRecent(ticket string) {
	if ticket == "" {
		return
	}
	r.recent[ticket] = r.clock.Now()
}

// IsRecent - тикет открыт нами не раньше recentTTL назад
func (r *OwnershipRegistry) IsRecent(ticket string) bool {
	at, ok := r.recent[ticket]
	if !ok {
		return false
	}
	if r.clock.Now().Sub(at) >= r.recentTTL {
		delete(r.recent, ticket)
		return false
	}
	return true
}

// Sweep удаляет просроченные recent записи
func (r *OwnershipRegistry) Sweep() int {
	now := r.clock.Now()
	removed := 0
	for t, at := range r.recent {
		if now.Sub(at) >= r.recentTTL {
			delete(r.recent, t)
			removed++
		}
	}
	return removed
}

// Len возвращает количество закреплённых тикетов
func (r *OwnershipRegistry) Len() int {
	return len(r.owners)
}
