package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/vecload/core"
)

func testConfig(cc CategoryConfig) *Config {
	return &Config{
		Categories: map[string]CategoryConfig{CategoryEmbedding: cc},
	}
}

func TestClient_Execute_RunsOperation(t *testing.T) {
	client, err := NewClient(testConfig(CategoryConfig{
		MaxConcurrent:      2,
		MaxThrottleRetries: 0,
	}))
	require.NoError(t, err)
	defer client.Close()

	ran := false
	err = client.Execute(context.Background(), CategoryEmbedding, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestClient_Execute_UnknownCategory(t *testing.T) {
	client, err := NewClient(testConfig(CategoryConfig{MaxConcurrent: 1}))
	require.NoError(t, err)
	defer client.Close()

	err = client.Execute(context.Background(), "completion", func(ctx context.Context) error {
		return nil
	})
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestClient_Execute_ConcurrencyCeiling(t *testing.T) {
	client, err := NewClient(testConfig(CategoryConfig{
		MaxConcurrent: 2,
	}))
	require.NoError(t, err)
	defer client.Close()

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = client.Execute(context.Background(), CategoryEmbedding, func(ctx context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestClient_Execute_QueueExpiration(t *testing.T) {
	client, err := NewClient(testConfig(CategoryConfig{
		MaxConcurrent:   1,
		QueueExpiration: 30 * time.Millisecond,
	}))
	require.NoError(t, err)
	defer client.Close()

	release := make(chan struct{})
	go func() {
		_ = client.Execute(context.Background(), CategoryEmbedding, func(ctx context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	err = client.Execute(context.Background(), CategoryEmbedding, func(ctx context.Context) error {
		return nil
	})
	close(release)

	assert.ErrorIs(t, err, core.ErrQueueExpired)
}

func TestClient_Execute_CallerCancellationIsNotExpiration(t *testing.T) {
	client, err := NewClient(testConfig(CategoryConfig{
		MaxConcurrent:   1,
		QueueExpiration: time.Minute,
	}))
	require.NoError(t, err)
	defer client.Close()

	release := make(chan struct{})
	go func() {
		_ = client.Execute(context.Background(), CategoryEmbedding, func(ctx context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err = client.Execute(ctx, CategoryEmbedding, func(ctx context.Context) error {
		return nil
	})
	close(release)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, core.ErrQueueExpired)
}

func TestClient_Execute_ThrottleRetrySucceeds(t *testing.T) {
	client, err := NewClient(testConfig(CategoryConfig{
		MaxConcurrent:      1,
		MaxThrottleRetries: 3,
		ThrottleBaseDelay:  time.Millisecond,
	}))
	require.NoError(t, err)
	defer client.Close()

	calls := 0
	err = client.Execute(context.Background(), CategoryEmbedding, func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return errors.New("429 too many requests")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	// both throttled attempts were counted even though the caller saw
	// only the final success
	assert.Equal(t, int64(2), client.stats.SnapshotAndReset().ThrottleHits)
}

func TestClient_Execute_ThrottleBudgetExhausted(t *testing.T) {
	client, err := NewClient(testConfig(CategoryConfig{
		MaxConcurrent:      1,
		MaxThrottleRetries: 2,
		ThrottleBaseDelay:  time.Millisecond,
	}))
	require.NoError(t, err)
	defer client.Close()

	calls := 0
	err = client.Execute(context.Background(), CategoryEmbedding, func(ctx context.Context) error {
		calls++
		return core.ErrThrottled
	})

	assert.ErrorIs(t, err, core.ErrThrottled)
	assert.Equal(t, 3, calls)
}

func TestClient_Execute_NonThrottleErrorNotRetried(t *testing.T) {
	client, err := NewClient(testConfig(CategoryConfig{
		MaxConcurrent:      1,
		MaxThrottleRetries: 3,
		ThrottleBaseDelay:  time.Millisecond,
	}))
	require.NoError(t, err)
	defer client.Close()

	boom := errors.New("schema mismatch")
	calls := 0
	err = client.Execute(context.Background(), CategoryEmbedding, func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestStats_SnapshotAndReset(t *testing.T) {
	s := NewStats()
	s.Enqueued()
	s.Completed(10 * time.Millisecond)
	s.Completed(30 * time.Millisecond)
	s.Throttled()

	snap := s.SnapshotAndReset()
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.Queued)
	assert.Equal(t, int64(1), snap.ThrottleHits)
	assert.Equal(t, 20*time.Millisecond, snap.AverageLatency)

	// counters reset, queued gauge persists
	snap = s.SnapshotAndReset()
	assert.Zero(t, snap.TotalRequests)
	assert.Equal(t, int64(1), snap.Queued)
	assert.Zero(t, snap.ThrottleHits)
	assert.Zero(t, snap.AverageLatency)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := &Config{}
	assert.Error(t, cfg.Validate())

	cfg = testConfig(CategoryConfig{MaxConcurrent: 0})
	assert.Error(t, cfg.Validate())

	cfg = testConfig(CategoryConfig{MaxConcurrent: 1, Reservoir: 10})
	assert.Error(t, cfg.Validate())
}

func TestNopLimiter(t *testing.T) {
	var l Limiter = NopLimiter{}
	ran := false
	require.NoError(t, l.Execute(context.Background(), "any", func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
	require.NoError(t, l.Close())
}
