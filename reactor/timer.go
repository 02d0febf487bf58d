//go:build linux

package reactor

import "container/heap"

// TimerCallback is run when a timer fires.
type TimerCallback func()

// timer is a single scheduled callback (spec §3, "Timer").
type timer struct {
	expiration Timestamp
	interval   Duration
	repeat     bool
	callback   TimerCallback
	seq        uint64
	heapIndex  int
}

// TimerId identifies a timer for cancellation. seq disambiguates a
// reused heap slot / sequence, matching the original's
// (Timer*, int64 sequence) pair (spec §9, "Sequence-id disambiguation").
type TimerId struct {
	seq uint64
}

// timerHeap is a min-heap ordered by (expiration, sequence) so that two
// timers with identical expirations still sort deterministically
// (spec §4.4, "ordering tie-break").
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].expiration != h[j].expiration {
		return h[i].expiration < h[j].expiration
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

var _ = heap.Interface(&timerHeap{})
