package backend_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTrimLoopInvokesOnTrimAndStopsOnCancel(t *testing.T) {
	b, done := newTestBackend(t)
	defer done()

	ctx, cancel := context.WithCancel(context.Background())

	var passes int32
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		b.TrimLoop(ctx, 10*time.Millisecond, func(err error, d time.Duration) {
			if err != nil {
				t.Errorf("unexpected trim error: %v", err)
			}
			atomic.AddInt32(&passes, 1)
		})
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-loopDone:
	case <-time.After(time.Second):
		t.Fatal("trim loop did not stop after cancel")
	}

	if atomic.LoadInt32(&passes) < 2 {
		t.Fatalf("expected at least 2 trim passes, got %d", passes)
	}
}
