package reactor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// socketpairConn returns one end of a connected, nonblocking Unix socket
// pair wrapped as a TcpConnection on loop, plus the raw fd for the peer
// end so the test can drive the other side directly.
func socketpairConn(t *testing.T, loop *EventLoop) (*TcpConnection, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	conn := NewTcpConnection(loop, "test-conn", fds[0], nil, nil)
	established := make(chan struct{})
	loop.RunInLoop(func() {
		conn.connectEstablished()
		close(established)
	})
	<-established
	return conn, fds[1]
}

func TestTcpConnectionSendOrderPreserved(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	conn, peerFd := socketpairConn(t, loop)
	defer unix.Close(peerFd)

	for i := 0; i < 50; i++ {
		conn.SendString("x")
	}

	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	buf := make([]byte, 64)
	for len(got) < 50 && time.Now().Before(deadline) {
		n, err := unix.Read(peerFd, buf)
		if err == unix.EAGAIN {
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	require.Len(t, got, 50)
	for _, b := range got {
		require.Equal(t, byte('x'), b)
	}
}

func TestTcpConnectionHandleCloseStopsFurtherCallbacks(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	conn, peerFd := socketpairConn(t, loop)

	var messageCount atomic.Int32
	var closeCount atomic.Int32
	var mu sync.Mutex
	conn.SetMessageCallback(func(*TcpConnection, *Buffer, Timestamp) { messageCount.Add(1) })
	conn.setCloseCallback(func(*TcpConnection) {
		mu.Lock()
		closeCount.Add(1)
		mu.Unlock()
	})

	_, _ = unix.Write(peerFd, []byte("hello"))
	require.Eventually(t, func() bool { return messageCount.Load() == 1 }, time.Second, 5*time.Millisecond)

	unix.Close(peerFd)
	require.Eventually(t, func() bool { return closeCount.Load() == 1 }, time.Second, 5*time.Millisecond)

	// after close, the connection must not fire further message callbacks
	require.Equal(t, int32(1), messageCount.Load())
	require.Equal(t, int32(1), closeCount.Load())
	require.True(t, conn.Disconnected())
}

func TestTcpConnectionShutdownHalfClosesWrite(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	conn, peerFd := socketpairConn(t, loop)
	defer unix.Close(peerFd)

	conn.Shutdown()

	buf := make([]byte, 16)
	require.Eventually(t, func() bool {
		n, err := unix.Read(peerFd, buf)
		return err == nil && n == 0
	}, time.Second, 5*time.Millisecond)
}
