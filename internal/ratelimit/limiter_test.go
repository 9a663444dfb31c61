package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLimiter_UnknownAllowsAndReportsUnknown(t *testing.T) {
	l := New()
	assert.True(t, l.Reserve())
	assert.True(t, l.ReserveN(100))

	st := l.Status()
	assert.False(t, st.Known)
	assert.Equal(t, -1, st.Display())
	assert.True(t, l.ResumeAt(1).IsZero())
}

func TestLimiter_ReserveDecrementsUntilExhausted(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	l := NewWithClock(clock.Now)
	reset := clock.now.Add(time.Hour)

	l.Observe(2, reset)
	assert.True(t, l.Reserve())
	assert.True(t, l.Reserve())
	assert.False(t, l.Reserve(), "额度为 0 且未到重置时间时必须拒绝")
	assert.Equal(t, reset, l.ResumeAt(1))

	// Status 反映观测值，而非本地扣减值
	assert.Equal(t, 2, l.Status().Remaining)

	clock.Advance(time.Hour)
	assert.True(t, l.Reserve(), "过了重置时间后放行")
	assert.True(t, l.Reserve(), "下一次观测前持续放行")
	assert.True(t, l.ResumeAt(1).IsZero())
}

func TestLimiter_ReserveN(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewWithClock(clock.Now)
	l.Observe(5, clock.now.Add(time.Minute))

	tests := []struct {
		name string
		n    int
		want bool
	}{
		{name: "预留 3 次", n: 3, want: true},
		{name: "剩余 2 次不足 3 次", n: 3, want: false},
		{name: "预留剩余 2 次", n: 2, want: true},
		{name: "零次总是成功", n: 0, want: true},
		{name: "耗尽后拒绝", n: 1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, l.ReserveN(tt.n))
		})
	}
}

func TestLimiter_ObserveIsAuthoritative(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewWithClock(clock.Now)

	l.Observe(0, clock.now.Add(time.Hour))
	assert.False(t, l.Reserve())

	l.Observe(10, clock.now.Add(time.Hour))
	assert.True(t, l.Reserve())
	assert.Equal(t, 10, l.Status().Remaining)

	l.Observe(-3, clock.now.Add(time.Hour))
	assert.Equal(t, 0, l.Status().Remaining)
}

func TestLimiter_ConcurrentReserveNeverOverspends(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewWithClock(clock.Now)
	l.Observe(50, clock.now.Add(time.Hour))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Reserve() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, granted)
}
