//go:build linux

package reactor

import (
	"bytes"
	"runtime"
	"strconv"
)

// currentGoroutineID returns the calling goroutine's runtime id.
//
// The original source caches an OS thread id (base/CurrentThread.h) to
// assert that channel-mutating calls happen on the loop's own thread.
// Go deliberately hides stable thread identity from user code since the
// scheduler is free to move a goroutine between OS threads between
// blocking points, so the original's exact mechanism has no portable
// equivalent here. What IS stable for the lifetime of EventLoop.Run is
// the *goroutine* that runs it (it never yields to another goroutine
// mid-iteration other than via channel operations it owns), so the loop
// stores the id parsed here at construction and again at loop start, and
// compares it on every assertion — the idiomatic Go analogue, see DESIGN.md OQ-1.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
