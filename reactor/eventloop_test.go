package reactor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newRunningLoop(t *testing.T) (*EventLoop, func()) {
	t.Helper()
	loop, err := NewEventLoop()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()

	// wait for the loop to actually start looping before returning
	for i := 0; i < 1000 && !loop.running.Load(); i++ {
		time.Sleep(time.Millisecond)
	}
	require.True(t, loop.running.Load())

	return loop, func() {
		loop.Quit()
		<-done
		_ = loop.Close()
	}
}

func TestEventLoopRunInLoopFromOwnThread(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	var ran atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	loop.RunInLoop(func() {
		// posted from the test goroutine, not the loop's own thread, so
		// this exercises QueueInLoop's cross-thread path and, once
		// running on the loop, a nested synchronous RunInLoop call.
		loop.RunInLoop(func() { ran.Store(true) })
		wg.Done()
	})
	wg.Wait()
	require.Eventually(t, func() bool { return ran.Load() }, time.Second, time.Millisecond)
}

func TestEventLoopQueueInLoopRunsExactlyOnce(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	loop.QueueInLoop(func() {
		count.Add(1)
		wg.Done()
	})
	wg.Wait()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), count.Load())
}

func TestEventLoopQuitFromAnotherGoroutineBounded(t *testing.T) {
	loop, err := NewEventLoop()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()

	for i := 0; i < 1000 && !loop.running.Load(); i++ {
		time.Sleep(time.Millisecond)
	}

	loop.Quit()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not quit within bound")
	}
	_ = loop.Close()
}

func TestEventLoopRunAfterFiresTimer(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	fired := make(chan struct{})
	loop.RunAfter(Duration(0.01), func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestEventLoopCancelPreventsFire(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	var fired atomic.Bool
	id := loop.RunAfter(Duration(0.05), func() { fired.Store(true) })
	loop.Cancel(id)

	time.Sleep(150 * time.Millisecond)
	require.False(t, fired.Load())
}

func TestEventLoopRunEveryFiresRepeatedly(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	var count atomic.Int32
	id := loop.RunEvery(Duration(0.01), func() { count.Add(1) })
	defer loop.Cancel(id)

	require.Eventually(t, func() bool { return count.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}
