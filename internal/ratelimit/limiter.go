// Package ratelimit 跟踪 GitHub API 的剩余额度，是所有抓取协程共享的唯一额度来源
package ratelimit

import (
	"sync"
	"time"

	"classifyhub/internal/domain"
)

// Limiter 记录最近一次观测到的额度，并在本地乐观扣减
type Limiter struct {
	mu        sync.Mutex
	remaining int
	resetAt   time.Time
	known     bool
	observed  domain.RateBudget
	nowFunc   func() time.Time
}

// New 创建额度未知的 Limiter
func New() *Limiter {
	return &Limiter{nowFunc: time.Now}
}

// NewWithClock 使用指定时钟创建 Limiter，便于测试
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{nowFunc: now}
}

// Reserve 预留一次请求
func (l *Limiter) Reserve() bool {
	return l.ReserveN(1)
}

// ReserveN 预留 n 次请求，成功时扣减本地计数
// 从未观测或已过重置时间时放行，由下一次观测校正
func (l *Limiter) ReserveN(n int) bool {
	if n <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.known {
		return true
	}
	if l.remaining >= n {
		l.remaining -= n
		return true
	}
	if !l.resetAt.IsZero() && !l.nowFunc().Before(l.resetAt) {
		l.known = false
		return true
	}
	return false
}

// Observe 以远程响应中的额度覆盖本地记录
func (l *Limiter) Observe(remaining int, resetAt time.Time) {
	if remaining < 0 {
		remaining = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.remaining = remaining
	l.resetAt = resetAt
	l.known = true
	l.observed = domain.RateBudget{Remaining: remaining, ResetAt: resetAt, Known: true}
}

// Status 返回最近一次观测到的额度，而不是本地扣减后的值
func (l *Limiter) Status() domain.RateBudget {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.observed
}

// ResumeAt 剩余额度不足 n 时返回可以重试的时刻，否则返回零值
func (l *Limiter) ResumeAt(n int) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.known || l.remaining >= n {
		return time.Time{}
	}
	if l.nowFunc().Before(l.resetAt) {
		return l.resetAt
	}
	return time.Time{}
}
