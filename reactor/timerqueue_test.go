package reactor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerCancelDuringOwnCallbackSuppressesRepeat(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	var fireCount atomic.Int32
	var id TimerId
	idCh := make(chan struct{})

	loop.RunInLoop(func() {
		id = loop.timers.addTimer(Now().Add(Duration(0.01)), Duration(0.01), true, func() {
			n := fireCount.Add(1)
			if n == 1 {
				loop.timers.cancel(id)
			}
		})
		close(idCh)
	})
	<-idCh

	require.Eventually(t, func() bool { return fireCount.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), fireCount.Load())
}

func TestTimerCancelBeforeFirePreventsCallback(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	var fired atomic.Bool
	id := loop.RunAfter(Duration(0.2), func() { fired.Store(true) })
	loop.Cancel(id)

	time.Sleep(400 * time.Millisecond)
	require.False(t, fired.Load())
}
