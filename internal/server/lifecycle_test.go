package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// blockingService blocks in Start until Stop is called and records stop order.
type blockingService struct {
	name    string
	started atomic.Bool
	stopCh  chan struct{}
	once    sync.Once
	order   *stopOrder
}

type stopOrder struct {
	mu    sync.Mutex
	names []string
}

func (o *stopOrder) add(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.names = append(o.names, name)
}

func newBlockingService(name string, order *stopOrder) *blockingService {
	return &blockingService{name: name, stopCh: make(chan struct{}), order: order}
}

func (s *blockingService) Start() error {
	s.started.Store(true)
	<-s.stopCh
	return nil
}

func (s *blockingService) Stop() {
	s.once.Do(func() {
		s.order.add(s.name)
		close(s.stopCh)
	})
}

func waitStarted(t *testing.T, svcs ...*blockingService) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, s := range svcs {
			if !s.started.Load() {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLifecycleStartsAndStopsInReverseOrder(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t))
	order := &stopOrder{}
	game := newBlockingService("game", order)
	ws := newBlockingService("websocket", order)
	lc.Add("game", game)
	lc.Add("websocket", ws)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lc.Run(ctx) }()

	waitStarted(t, game, ws)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not shut down in time")
	}
	assert.Equal(t, []string{"websocket", "game"}, order.names)
}

func TestLifecycleStopsOthersWhenServiceFails(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t))
	order := &stopOrder{}
	healthy := newBlockingService("healthy", order)
	boom := errors.New("listen failed")

	lc.Add("healthy", healthy)
	lc.Add("broken", &FuncService{
		StartFn: func() error {
			for !healthy.started.Load() {
				time.Sleep(5 * time.Millisecond)
			}
			return boom
		},
		StopFn: func() {},
	})

	done := make(chan error, 1)
	go func() { done <- lc.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "service broken")
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not shut down after failure")
	}
	assert.Equal(t, []string{"healthy"}, order.names)
}

func TestFuncService(t *testing.T) {
	started := false
	stopped := false

	svc := &FuncService{
		StartFn: func() error {
			started = true
			return nil
		},
		StopFn: func() {
			stopped = true
		},
	}

	assert.NoError(t, svc.Start())
	assert.True(t, started)

	svc.Stop()
	assert.True(t, stopped)
}
