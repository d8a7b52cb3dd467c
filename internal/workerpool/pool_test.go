package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/multierr"

	"temperature-bench/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	for _, limit := range []int{1, 2, 4, 8} {
		p := New(context.Background(), limit)
		var done atomic.Int64

		for i := 0; i < 40; i++ {
			p.Submit(func(ctx context.Context) error {
				time.Sleep(2 * time.Millisecond)
				done.Add(1)
				return nil
			})
		}

		require.NoError(t, p.Wait())
		assert.EqualValues(t, 40, done.Load())
		assert.LessOrEqual(t, p.Peak(), limit, "limit %d", limit)
		assert.GreaterOrEqual(t, p.Peak(), 1)
	}
}

func TestPool_Unbounded(t *testing.T) {
	p := New(context.Background(), 0)
	release := make(chan struct{})
	var started atomic.Int64

	for i := 0; i < 16; i++ {
		p.Submit(func(ctx context.Context) error {
			started.Add(1)
			<-release
			return nil
		})
	}

	// every task must be able to start without any finishing
	require.Eventually(t, func() bool { return started.Load() == 16 }, time.Second, time.Millisecond)
	close(release)

	require.NoError(t, p.Wait())
	assert.Equal(t, 16, p.Peak())
}

func TestPool_ErrorsDoNotStopSiblings(t *testing.T) {
	p := New(context.Background(), 2)
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	var ok atomic.Int64

	p.Submit(func(ctx context.Context) error { return errA })
	for i := 0; i < 5; i++ {
		p.Submit(func(ctx context.Context) error {
			ok.Add(1)
			return nil
		})
	}
	p.Submit(func(ctx context.Context) error { return errB })

	err := p.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Len(t, multierr.Errors(err), 2)
	assert.EqualValues(t, 5, ok.Load())
}

func TestPool_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(ctx, 1)

	block := make(chan struct{})
	p.Submit(func(ctx context.Context) error {
		close(block)
		<-ctx.Done()
		return ctx.Err()
	})
	<-block
	cancel()

	var ran atomic.Bool
	p.Submit(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	err := p.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInterruptedWait)
	assert.False(t, ran.Load())
	assert.Equal(t, 1, p.Skipped())
}

func TestPool_Gauge(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "active"})
	p := New(context.Background(), 3, WithGauge(gauge))

	for i := 0; i < 6; i++ {
		p.Submit(func(ctx context.Context) error { return nil })
	}
	require.NoError(t, p.Wait())
	assert.Equal(t, 0.0, testutil.ToFloat64(gauge))
}
