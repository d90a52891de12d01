package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LJTian/MarketPulse/internal/config"
	"github.com/LJTian/MarketPulse/internal/coordinator"
	"github.com/LJTian/MarketPulse/internal/logger"
)

type blockingRunner struct {
	calls   int32
	started chan struct{}
	release chan struct{}
	err     error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 10), release: make(chan struct{})}
}

func (b *blockingRunner) Run(ctx context.Context, _ []config.Source) (*coordinator.CollectionRun, error) {
	atomic.AddInt32(&b.calls, 1)
	b.started <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return &coordinator.CollectionRun{ID: "canceled", State: coordinator.StateFailed}, ctx.Err()
	}
	return &coordinator.CollectionRun{ID: "run", State: coordinator.StateFinalized}, b.err
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New("not a cron spec", newBlockingRunner(), nil, 0, logger.Discard())
	require.Error(t, err)
}

func TestRunOnceRejectsConcurrentRun(t *testing.T) {
	r := newBlockingRunner()
	s, err := New("0 */6 * * *", r, nil, 0, logger.Discard())
	require.NoError(t, err)

	require.NoError(t, s.Trigger())
	<-r.started
	require.True(t, s.Running())

	// 执行中再次触发
	_, err = s.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)
	require.ErrorIs(t, s.Trigger(), ErrRunInProgress)

	close(r.release)
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, 10*time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&r.calls))
	require.Equal(t, "run", s.Last().ID)

	// 结束后可以再次执行
	run, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, coordinator.StateFinalized, run.State)
	require.Equal(t, int32(2), atomic.LoadInt32(&r.calls))
}

func TestRunOnceTimeout(t *testing.T) {
	r := newBlockingRunner()
	s, err := New("0 */6 * * *", r, nil, 20*time.Millisecond, logger.Discard())
	require.NoError(t, err)

	run, err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, coordinator.StateFailed, run.State)
	require.False(t, s.Running())
}

func TestRunOnceReturnsRunError(t *testing.T) {
	r := newBlockingRunner()
	r.err = coordinator.ErrNoDataCollected
	close(r.release)
	s, err := New("0 */6 * * *", r, nil, 0, logger.Discard())
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	require.True(t, errors.Is(err, coordinator.ErrNoDataCollected))
}

func TestStartStop(t *testing.T) {
	s, err := New("@every 1h", newBlockingRunner(), nil, 0, logger.Discard())
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestStopWaitsForTriggeredRun(t *testing.T) {
	r := newBlockingRunner()
	s, err := New("@every 1h", r, nil, 0, logger.Discard())
	require.NoError(t, err)
	s.Start()

	require.NoError(t, s.Trigger())
	<-r.started

	// 手动触发的采集未结束前 Stop 不返回
	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Stop(short), context.DeadlineExceeded)

	close(r.release)
	ctx, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, s.Stop(ctx))
	require.False(t, s.Running())
	require.Equal(t, "run", s.Last().ID)
}
