package usecase

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vitos/trade_engine/internal/domain"
	"go.uber.org/zap"
)

func TestNextDelay_Backoff(t *testing.T) {
	loop := NewControlLoop(nil, nil, domain.NewProcessState(), nil, LoopConfig{
		Interval:   time.Second,
		BackoffMax: 10 * time.Second,
	}, zap.NewNop())

	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, want := range expected {
		loop.failures.Store(int32(i))
		assert.Equal(t, want, loop.nextDelay(), "failures=%d", i)
	}
}

func TestKeyedLocks_Exclusive(t *testing.T) {
	locks := newKeyedLocks()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  = map[string]int{}
		overlap bool
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		key := []string{"a", "b"}[i%2]
		go func() {
			defer wg.Done()
			unlock := locks.Lock(key)
			defer unlock()

			mu.Lock()
			active[key]++
			if active[key] > 1 {
				overlap = true
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active[key]--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.False(t, overlap)
	assert.Zero(t, locks.size())
}
