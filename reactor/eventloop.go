//go:build linux

package reactor

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// pollTimeoutMs is the demultiplexer ceiling: a liveness backstop, not a
// per-operation deadline (spec §5, §6).
const pollTimeoutMs = 10000

// Task is an opaque nullary effect enqueued cross-thread to a loop
// (spec §3, "PendingTask").
type Task func()

// EventLoop is a single-threaded driver owning a Demultiplexer, a
// TimerQueue and a cross-thread pending-task list (component F). An
// EventLoop must be Run on exactly one goroutine for its entire
// lifetime; every other public method that touches channel or timer
// state is safe to call from any goroutine and forwards itself onto the
// loop's own goroutine when necessary.
type EventLoop struct {
	ownerGoroutineID atomic.Uint64
	running          atomic.Bool
	quit             atomic.Bool

	poller   Poller
	timers   *timerQueue
	channels []*Channel // reused active-channel scratch slice

	wakeFd      int
	wakeChannel *Channel

	pendingMu           sync.Mutex
	pendingTasks        []Task
	callingPendingTasks bool

	// index assigned by the LoopPool for getLoopFromHash (component G).
	poolIndex int
}

// NewEventLoop constructs an EventLoop owned by the calling goroutine
// until Run, which pins ownership to the goroutine that runs it.
func NewEventLoop() (*EventLoop, error) {
	poller, err := newPoller()
	if err != nil {
		return nil, err
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}

	loop := &EventLoop{
		poller: poller,
		wakeFd: wakeFd,
	}
	// the timerfd and wakeup channels below are registered from here
	loop.ownerGoroutineID.Store(currentGoroutineID())

	timers, err := newTimerQueue(loop)
	if err != nil {
		return nil, err
	}
	loop.timers = timers

	loop.wakeChannel = NewChannel(loop, wakeFd)
	loop.wakeChannel.SetReadCallback(loop.handleWakeup)
	loop.wakeChannel.EnableReading()

	return loop, nil
}

// IsInLoopThread reports whether the calling goroutine is the one
// currently running Loop.
func (l *EventLoop) IsInLoopThread() bool {
	return currentGoroutineID() == l.ownerGoroutineID.Load()
}

// AssertInLoopThread is the fatal programming-contract check described
// in spec §4.5 and §7 category 1: every channel-mutating operation must
// run on the loop's own goroutine.
func (l *EventLoop) AssertInLoopThread() {
	if !l.IsInLoopThread() {
		loopLogger().Panic().
			Uint64("owner", l.ownerGoroutineID.Load()).
			Uint64("caller", currentGoroutineID()).
			Msg("reactor: channel operation off the owning loop's goroutine")
		panic("reactor: channel operation off the owning loop's goroutine")
	}
}

// Run repeatedly polls with a 10-second ceiling, dispatches active
// channels, then drains pending tasks, exiting only once quit has been
// observed after a pending-task drain (spec §4.5).
func (l *EventLoop) Run() {
	l.ownerGoroutineID.Store(currentGoroutineID())
	l.running.Store(true)
	defer l.running.Store(false)

	for {
		l.channels = l.channels[:0]
		active, receiveTime, err := l.poller.Poll(pollTimeoutMs, l.channels)
		if err == nil {
			l.channels = active
			for _, ch := range l.channels {
				ch.HandleEvent(receiveTime)
			}
		}

		l.doPendingTasks()

		if l.quit.Load() {
			break
		}
	}
}

// Quit requests the loop to stop. Safe from any goroutine; wakes the
// loop if called off-thread so it does not wait out the full poll
// ceiling (spec §5, "Cancellation and timeouts").
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		l.wakeup()
	}
}

// RunInLoop executes task synchronously if called from the loop's own
// goroutine, otherwise defers to QueueInLoop (spec §4.5).
func (l *EventLoop) RunInLoop(task Task) {
	if l.IsInLoopThread() {
		task()
		return
	}
	l.QueueInLoop(task)
}

// QueueInLoop appends task under the pending-task mutex and wakes the
// loop iff the caller is on another goroutine or the loop is currently
// draining pending tasks — otherwise the upcoming demux call will pick
// the task up naturally (spec §4.5, §9).
func (l *EventLoop) QueueInLoop(task Task) {
	l.pendingMu.Lock()
	l.pendingTasks = append(l.pendingTasks, task)
	draining := l.callingPendingTasks
	l.pendingMu.Unlock()

	if !l.IsInLoopThread() || draining {
		l.wakeup()
	}
}

// doPendingTasks implements the drain protocol of spec §4.5: swap the
// queue under mutex into a local slice, set the draining flag, run each
// task in order, clear the flag. Tasks enqueued during draining are
// deferred to the next iteration but cause an immediate wake-up.
func (l *EventLoop) doPendingTasks() {
	l.pendingMu.Lock()
	tasks := l.pendingTasks
	l.pendingTasks = nil
	l.callingPendingTasks = true
	l.pendingMu.Unlock()

	for _, t := range tasks {
		t()
	}

	l.pendingMu.Lock()
	l.callingPendingTasks = false
	l.pendingMu.Unlock()
}

func (l *EventLoop) wakeup() {
	one := uint64(1)
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(one >> (8 * i))
	}
	_, _ = unix.Write(l.wakeFd, b[:])
}

func (l *EventLoop) handleWakeup(_ Timestamp) {
	var b [8]byte
	_, _ = unix.Read(l.wakeFd, b[:])
}

// updateChannel/removeChannel are called only from Channel; they assert
// that the caller is on this loop's goroutine.
func (l *EventLoop) updateChannel(c *Channel) {
	l.AssertInLoopThread()
	if err := l.poller.UpdateChannel(c); err != nil {
		loopLogger().Error().Err(err).Msg("eventloop: updateChannel failed")
	}
}

func (l *EventLoop) removeChannel(c *Channel) {
	l.AssertInLoopThread()
	if err := l.poller.RemoveChannel(c); err != nil {
		loopLogger().Error().Err(err).Msg("eventloop: removeChannel failed")
	}
}

// RunAt schedules cb to run once at `when`. The returned TimerId is
// valid immediately, regardless of which goroutine calls RunAt: the id
// is allocated up front rather than inside the (possibly deferred)
// insertion closure.
func (l *EventLoop) RunAt(when Timestamp, cb TimerCallback) TimerId {
	id := l.timers.nextTimerId()
	l.RunInLoop(func() { l.timers.addTimerWithID(id, when, 0, false, cb) })
	return id
}

// RunAfter schedules cb to run once after delay.
func (l *EventLoop) RunAfter(delay Duration, cb TimerCallback) TimerId {
	return l.RunAt(Now().Add(delay), cb)
}

// RunEvery schedules cb to run repeatedly every interval, starting one
// interval from now. See RunAt for why the id is valid immediately.
func (l *EventLoop) RunEvery(interval Duration, cb TimerCallback) TimerId {
	id := l.timers.nextTimerId()
	when := Now().Add(interval)
	l.RunInLoop(func() { l.timers.addTimerWithID(id, when, interval, true, cb) })
	return id
}

// Cancel cancels a previously scheduled timer. Safe from any goroutine.
func (l *EventLoop) Cancel(id TimerId) {
	l.RunInLoop(func() { l.timers.cancel(id) })
}

// Close releases the loop's own kernel resources. Must be called after
// Run has returned; the calling goroutine then takes over ownership for
// the teardown.
func (l *EventLoop) Close() error {
	l.ownerGoroutineID.Store(currentGoroutineID())
	l.timers.close()
	l.wakeChannel.DisableAll()
	l.wakeChannel.Remove()
	_ = closeFd(l.wakeFd)
	return l.poller.Close()
}
