package bot

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"pairbot/pkg/utils"
)

// EntryLock - глобальный флаг "идёт вход". Не даёт начать второй вход,
// пока первый не стал ACTIVE или не истёк. Зависший лок снимается сам через timeout.
type EntryLock struct {
	mu         sync.Mutex
	held       bool
	reason     string
	acquiredAt time.Time
	token      uint64 // номер текущего захвата
	released   string // причина последнего освобождения
	timeout    time.Duration
	clock      Clock
	log        *utils.Logger
}

// LockStatus - состояние лока для API
type LockStatus struct {
	Held        bool      `json:"held"`
	Reason      string    `json:"reason,omitempty"`
	AcquiredAt  time.Time `json:"acquired_at,omitempty"`
	LastRelease string    `json:"last_release,omitempty"`
}

// NewEntryLock создаёт лок с авто-освобождением через timeout
func NewEntryLock(clock Clock, timeout time.Duration, log *utils.Logger) *EntryLock {
	return &EntryLock{timeout: timeout, clock: clock, log: log}
}

// Acquire захватывает лок. false - лок уже занят.
func (l *EntryLock) Acquire(reason string) bool {
	_, ok := l.AcquireToken(reason)
	return ok
}

// AcquireToken захватывает лок и возвращает номер захвата для ReleaseToken
func (l *EntryLock) AcquireToken(reason string) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.expireLocked() && l.held {
		return 0, false
	}
	l.token++
	l.held = true
	l.reason = reason
	l.acquiredAt = l.clock.Now()
	EntryLockHeld.Set(1)
	l.log.Debug("entry lock acquired", utils.Reason(reason), zap.Uint64("token", l.token))
	return l.token, true
}

// Release освобождает лок (идемпотентно). Причина запоминается и для
// уже свободного лока.
func (l *EntryLock) Release(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.releaseLocked(reason)
}

// ReleaseToken освобождает лок, только если он всё ещё принадлежит захвату
// token. Лок, захваченный следующим входом, не трогается: false.
func (l *EntryLock) ReleaseToken(token uint64, reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held && l.token != token {
		l.log.Debug("entry lock held by a newer entry, release skipped",
			utils.Reason(reason),
			zap.Uint64("token", token),
			zap.Uint64("holder", l.token))
		return false
	}
	l.releaseLocked(reason)
	return true
}

func (l *EntryLock) releaseLocked(reason string) {
	l.released = reason
	if !l.held {
		l.log.Debug("entry lock already free", utils.Reason(reason))
		return
	}
	held := l.clock.Now().Sub(l.acquiredAt)
	l.held = false
	l.reason = ""
	l.acquiredAt = time.Time{}
	EntryLockHeld.Set(0)
	l.log.Info("entry lock released", utils.Reason(reason), utils.Elapsed(held))
}

// IsLocked проверяет лок, попутно снимая просроченный
func (l *EntryLock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.expireLocked()
	return l.held
}

// Status возвращает состояние лока
func (l *EntryLock) Status() LockStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.expireLocked()
	return LockStatus{Held: l.held, Reason: l.reason, AcquiredAt: l.acquiredAt, LastRelease: l.released}
}

// expireLocked снимает лок старше timeout. true - лок был снят.
func (l *EntryLock) expireLocked() bool {
	if !l.held || l.timeout <= 0 {
		return false
	}
	if l.clock.Now().Sub(l.acquiredAt) < l.timeout {
		return false
	}
	l.log.Warn("entry lock auto-released",
		utils.Reason(l.reason),
		utils.Elapsed(l.clock.Now().Sub(l.acquiredAt)))
	l.held = false
	l.reason = ""
	l.acquiredAt = time.Time{}
	l.released = "auto-expired"
	EntryLockHeld.Set(0)
	EntryLockExpired.Inc()
	return true
}
