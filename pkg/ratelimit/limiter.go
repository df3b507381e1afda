package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter - Token Bucket rate limiter для контроля частоты запросов к API брокера
//
// Использование:
//
//	limiter := NewRateLimiter(10, 20) // 10 req/sec, burst 20
//	err := limiter.Wait(ctx)          // блокирующее ожидание
//	if limiter.Allow() { ... }        // неблокирующая проверка
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter создаёт новый rate limiter
//
// Параметры:
//   - r: количество запросов в секунду
//   - burst: максимальный burst (обычно 1.5-2x от rate)
func NewRateLimiter(r, burst float64) *RateLimiter {
	if r <= 0 {
		r = 10
	}
	if burst <= 0 {
		burst = r * 2
	}
	if burst < r {
		burst = r
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(r), int(burst))}
}

// Wait блокируется до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Allow - неблокирующая попытка взять токен
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// Tokens возвращает текущее количество токенов
func (rl *RateLimiter) Tokens() float64 {
	return rl.limiter.Tokens()
}

// Rate возвращает скорость пополнения
func (rl *RateLimiter) Rate() float64 {
	return float64(rl.limiter.Limit())
}

// Burst возвращает ёмкость
func (rl *RateLimiter) Burst() int {
	return rl.limiter.Burst()
}

// SetRate меняет скорость на лету
func (rl *RateLimiter) SetRate(r float64) {
	rl.limiter.SetLimit(rate.Limit(r))
}

// MultiLimiter управляет лимитами по категориям запросов
// (у брокерских REST мостов торговые и справочные запросы лимитируются раздельно)
type MultiLimiter struct {
	limiters map[string]*RateLimiter
	mu       sync.RWMutex
}

// NewMultiLimiter создаёт новый MultiLimiter
func NewMultiLimiter() *MultiLimiter {
	return &MultiLimiter{limiters: make(map[string]*RateLimiter)}
}

// Add добавляет rate limiter для категории запросов
func (ml *MultiLimiter) Add(category string, r, burst float64) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.limiters[category] = NewRateLimiter(r, burst)
}

// Wait ожидает токен для указанной категории
func (ml *MultiLimiter) Wait(ctx context.Context, category string) error {
	ml.mu.RLock()
	limiter, ok := ml.limiters[category]
	ml.mu.RUnlock()

	if !ok {
		return nil // нет лимита для этой категории
	}
	return limiter.Wait(ctx)
}

// Allow проверяет доступность токена для категории
func (ml *MultiLimiter) Allow(category string) bool {
	ml.mu.RLock()
	limiter, ok := ml.limiters[category]
	ml.mu.RUnlock()

	if !ok {
		return true
	}
	return limiter.Allow()
}
