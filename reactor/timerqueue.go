//go:build linux

package reactor

import (
	"container/heap"
	"sync/atomic"
)

// timerQueue is the per-loop ordered set of timers backed by a single
// timerfd (component E). All mutating methods are called only on the
// owning loop's thread; EventLoop.Cancel is safe from any thread and
// forwards cancel via the loop's task queue.
type timerQueue struct {
	loop *EventLoop

	timerFd        int
	timerFdChannel *Channel

	heap    timerHeap
	active  map[uint64]*timer
	cancels map[uint64]struct{}

	callingExpiredTimers bool

	nextSeq atomic.Uint64
}

func newTimerQueue(loop *EventLoop) (*timerQueue, error) {
	fd, err := createTimerFd()
	if err != nil {
		return nil, err
	}
	tq := &timerQueue{
		loop:    loop,
		timerFd: fd,
		active:  make(map[uint64]*timer),
		cancels: make(map[uint64]struct{}),
	}
	tq.timerFdChannel = NewChannel(loop, fd)
	tq.timerFdChannel.SetReadCallback(tq.handleRead)
	tq.timerFdChannel.EnableReading()
	return tq, nil
}

func (tq *timerQueue) close() {
	tq.timerFdChannel.DisableAll()
	tq.timerFdChannel.Remove()
	_ = closeFd(tq.timerFd)
}

// nextTimerId allocates the TimerId a timer will use before the timer
// itself is constructed. Safe to call from any goroutine: the caller
// can hand the id back before the insertion that uses it has actually
// run on the loop thread, mirroring TimerQueue::addTimer in the
// original (it builds the Timer, including its sequence number, before
// ever touching loop-owned state).
func (tq *timerQueue) nextTimerId() TimerId {
	return TimerId{seq: tq.nextSeq.Add(1)}
}

// addTimerWithID inserts a timer under a previously allocated id. Must
// run on the loop thread.
func (tq *timerQueue) addTimerWithID(id TimerId, when Timestamp, interval Duration, repeat bool, cb TimerCallback) {
	t := &timer{
		expiration: when,
		interval:   interval,
		repeat:     repeat,
		callback:   cb,
		seq:        id.seq,
	}
	tq.insert(t)
}

// addTimer schedules cb to run at `when`, repeating every `interval` if
// repeat is true, allocating its own id. Must run on the loop thread
// (callers go through EventLoop.RunAt/RunAfter/RunEvery which enforce
// this via RunInLoop).
func (tq *timerQueue) addTimer(when Timestamp, interval Duration, repeat bool, cb TimerCallback) TimerId {
	id := tq.nextTimerId()
	tq.addTimerWithID(id, when, interval, repeat, cb)
	return id
}

func (tq *timerQueue) insert(t *timer) {
	earliestChanged := tq.heap.Len() == 0 || t.expiration < tq.heap[0].expiration
	heap.Push(&tq.heap, t)
	tq.active[t.seq] = t
	if earliestChanged {
		_ = resetTimerFd(tq.timerFd, t.expiration.Time().Sub(Now().Time()))
	}
}

// cancel removes id from the active set. If id's timer is currently
// firing, it is instead recorded as cancelled so its repeat is not
// reinstalled (spec §4.4 cancellation, §4.4 step 4).
func (tq *timerQueue) cancel(id TimerId) {
	if t, ok := tq.active[id.seq]; ok {
		delete(tq.active, id.seq)
		if t.heapIndex >= 0 {
			heap.Remove(&tq.heap, t.heapIndex)
		}
		return
	}
	if tq.callingExpiredTimers {
		tq.cancels[id.seq] = struct{}{}
	}
}

// handleRead runs when the timerfd becomes readable: it drains the
// expiration counter, fires every timer whose expiration has passed,
// then reinstalls repeats and resets the timerfd to the new earliest
// deadline, following the five steps in spec §4.4.
func (tq *timerQueue) handleRead(receiveTime Timestamp) {
	_, _ = readTimerFd(tq.timerFd)

	expired := tq.popExpired(receiveTime)

	tq.callingExpiredTimers = true
	clear(tq.cancels)
	for _, t := range expired {
		t.callback()
	}
	tq.callingExpiredTimers = false

	tq.reset(expired, receiveTime)
}

func (tq *timerQueue) popExpired(now Timestamp) []*timer {
	var expired []*timer
	for tq.heap.Len() > 0 && tq.heap[0].expiration <= now {
		t := heap.Pop(&tq.heap).(*timer)
		delete(tq.active, t.seq)
		expired = append(expired, t)
	}
	return expired
}

func (tq *timerQueue) reset(expired []*timer, now Timestamp) {
	for _, t := range expired {
		_, cancelled := tq.cancels[t.seq]
		if t.repeat && !cancelled {
			t.expiration = now.Add(t.interval)
			tq.insert(t)
		}
	}

	if tq.heap.Len() > 0 {
		next := tq.heap[0].expiration
		_ = resetTimerFd(tq.timerFd, next.Time().Sub(Now().Time()))
	}
}
