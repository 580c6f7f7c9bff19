package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestConnectionLimiter(t *testing.T) {
	cl := NewConnectionLimiter(2)

	assert.True(t, cl.Acquire("p1"))
	assert.True(t, cl.Acquire("p1"))
	assert.False(t, cl.Acquire("p1"))
	assert.True(t, cl.Acquire("p2"))
	assert.Equal(t, 2, cl.Count("p1"))

	cl.Release("p1")
	assert.True(t, cl.Acquire("p1"))

	cl.Release("p1")
	cl.Release("p1")
	cl.Release("p1")
	assert.Zero(t, cl.Count("p1"))
}

func TestConnectionLimiter_Disabled(t *testing.T) {
	cl := NewConnectionLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, cl.Acquire("p1"))
	}
}

func TestConnectionLimiter_Concurrent(t *testing.T) {
	cl := NewConnectionLimiter(5)
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cl.Acquire("p1") {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, granted)
}

func TestFrameLimiter_Window(t *testing.T) {
	fl := NewFrameLimiter(3, time.Second)
	now := time.Unix(1700000000, 0)
	fl.now = func() time.Time { return now }

	assert.True(t, fl.Allow("c1"))
	assert.True(t, fl.Allow("c1"))
	assert.True(t, fl.Allow("c1"))
	assert.False(t, fl.Allow("c1"))
	assert.True(t, fl.Allow("c2"))

	now = now.Add(time.Second)
	assert.True(t, fl.Allow("c1"))

	fl.Forget("c1")
	assert.True(t, fl.Allow("c1"))
	assert.True(t, fl.Allow("c1"))
}

func TestProperty_FrameLimiterNeverExceedsLimit(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("allowed frames in any window never exceed the limit", prop.ForAll(
		func(limit int, gaps []int) bool {
			fl := NewFrameLimiter(limit, time.Second)
			now := time.Unix(0, 0)
			fl.now = func() time.Time { return now }

			var allowed []time.Time
			for _, gap := range gaps {
				now = now.Add(time.Duration(gap) * time.Millisecond)
				if fl.Allow("k") {
					allowed = append(allowed, now)
				}
			}

			for i := range allowed {
				inWindow := 0
				for j := i; j < len(allowed) && allowed[j].Sub(allowed[i]) < time.Second; j++ {
					inWindow++
				}
				if inWindow > limit {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.SliceOf(gen.IntRange(0, 400)),
	))

	properties.TestingRun(t)
}
