//go:build linux

package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// createTimerFd creates a monotonic, nonblocking, close-on-exec timerfd
// (component E is backed by a single kernel timer descriptor per loop).
func createTimerFd() (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("reactor: timerfd_create: %w", err)
	}
	return fd, nil
}

// minTimerDelay floors every armed delay so a backlog of already-due
// timers cannot busy-loop the kernel with a zero itimerspec (a zero
// itimerspec disarms the timer entirely, so the floor must be > 0).
const minTimerDelay = 100 * time.Microsecond

// resetTimerFd arms fd to fire once after d, clamped to minTimerDelay.
func resetTimerFd(fd int, d time.Duration) error {
	if d < minTimerDelay {
		d = minTimerDelay
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	return unix.TimerfdSettime(fd, 0, &spec, nil)
}

// readTimerFd drains the expiration counter, returning the number of
// expirations since the last read (normally 1).
func readTimerFd(fd int) (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, err
	}
	if n != 8 {
		return 0, nil
	}
	var count uint64
	for i := 7; i >= 0; i-- {
		count = count<<8 | uint64(buf[i])
	}
	return count, nil
}
