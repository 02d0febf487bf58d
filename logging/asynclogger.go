// Package logging implements the asynchronous logging pipeline
// (component L): producers append formatted records into a small set of
// front buffers under a mutex; a dedicated background goroutine swaps
// the full buffers out from under the producers and writes them to a
// rolling file, outside the critical section. This mirrors
// base/AsyncLogging.{h,cc} from the original source.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// bufferSize is the capacity of each front/spare buffer.
	bufferSize = 4 << 20 // 4MiB, matches AsyncLogging::kLargeBuffer
	// flushInterval is the backend goroutine's periodic flush backstop.
	flushInterval = 3 * time.Second
	// defaultRollSize rolls the active file once it exceeds this size.
	defaultRollSize = 64 << 20 // 64MiB
)

// AsyncLogger owns the double-buffer swap and the rolling file backend.
// It implements io.Writer so it can be handed directly to zerolog as the
// sink for a structured Logger.
type AsyncLogger struct {
	mu          sync.Mutex
	notify      chan struct{}
	current     *bytes.Buffer
	next        *bytes.Buffer
	full        []*bytes.Buffer
	running     bool
	stop        chan struct{}
	done        chan struct{}
	dir         string
	basename    string
	rollSize    int64
	file        *os.File
	fileSize    int64
	lastRollDay int
}

// NewAsyncLogger creates a logger rolling files named
// "<basename>.<yyyymmdd-hhmmss>.<seq>.log" under dir. basename is typically the
// server's process name (matches AsyncLogging's ctor signature).
func NewAsyncLogger(dir, basename string, rollSize int64) (*AsyncLogger, error) {
	if rollSize <= 0 {
		rollSize = defaultRollSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create dir: %w", err)
	}
	l := &AsyncLogger{
		current:  bytes.NewBuffer(make([]byte, 0, bufferSize)),
		next:     bytes.NewBuffer(make([]byte, 0, bufferSize)),
		dir:      dir,
		basename: basename,
		rollSize: rollSize,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		notify:   make(chan struct{}, 1),
	}
	if err := l.rollFile(time.Now()); err != nil {
		return nil, err
	}
	l.running = true
	go l.backendLoop()
	return l, nil
}

// Write implements io.Writer: it is the append path used by producers
// (any goroutine, typically via a zerolog.Logger configured with this
// writer). It never blocks on file I/O.
func (l *AsyncLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	if l.current.Len()+len(p) > l.current.Cap() {
		l.full = append(l.full, l.current)
		if l.next != nil {
			l.current, l.next = l.next, nil
		} else {
			l.current = bytes.NewBuffer(make([]byte, 0, bufferSize))
		}
		l.signal()
	}
	l.current.Write(p)
	l.mu.Unlock()
	return len(p), nil
}

// Flush forces an immediate swap-and-write cycle, for callers (e.g.
// tests, or a SIGTERM handler) that need durability before returning.
func (l *AsyncLogger) Flush() {
	l.mu.Lock()
	if l.current.Len() > 0 {
		l.full = append(l.full, l.current)
		l.current = bytes.NewBuffer(make([]byte, 0, bufferSize))
	}
	l.mu.Unlock()
	l.signal()
}

// Close stops the backend goroutine after flushing pending data.
func (l *AsyncLogger) Close() error {
	l.Flush()
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
	close(l.stop)
	<-l.done
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// signal wakes backendLoop without blocking; a pending, undelivered
// wakeup already covers the next iteration so a full channel is
// dropped rather than queued.
func (l *AsyncLogger) signal() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// backendLoop is the single consumer: it wakes on notify (buffer full
// or an explicit Flush) or a 3s timer (flushInterval) as a backstop,
// swaps out whatever is pending, and writes it to disk outside the
// lock. This mirrors AsyncLogging::threadFunc's
// cond_.waitForSeconds(flushInterval_), re-expressed with a channel
// since sync.Cond has no bounded wait.
func (l *AsyncLogger) backendLoop() {
	defer close(l.done)
	reserve := bytes.NewBuffer(make([]byte, 0, bufferSize))
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			l.drainAndWrite()
			return
		case <-l.notify:
		case <-ticker.C:
		}

		l.mu.Lock()
		toWrite := l.full
		l.full = nil
		if l.current.Len() > 0 {
			toWrite = append(toWrite, l.current)
			if l.next == nil {
				l.next = reserve
			}
			l.current = l.next
			l.next = nil
		}
		running := l.running
		l.mu.Unlock()

		for _, buf := range toWrite {
			l.writeBuffer(buf)
			buf.Reset()
			reserve = buf
		}
		if !running {
			return
		}
	}
}

func (l *AsyncLogger) drainAndWrite() {
	l.mu.Lock()
	toWrite := l.full
	l.full = nil
	if l.current.Len() > 0 {
		toWrite = append(toWrite, l.current)
	}
	l.mu.Unlock()
	for _, buf := range toWrite {
		l.writeBuffer(buf)
	}
}

func (l *AsyncLogger) writeBuffer(buf *bytes.Buffer) {
	if buf.Len() == 0 {
		return
	}
	now := time.Now()
	if now.YearDay() != l.lastRollDay || l.fileSize+int64(buf.Len()) > l.rollSize {
		if err := l.rollFile(now); err != nil {
			return
		}
	}
	n, _ := l.file.Write(buf.Bytes())
	l.fileSize += int64(n)
}

// rollFile closes the current file (if any) and opens a fresh one named
// by the current date and time plus a sequence number that increases
// until the name is unused, so several rolls within one second still
// produce distinct files (AsyncLogging's day-boundary and size-based rolling).
func (l *AsyncLogger) rollFile(now time.Time) error {
	if l.file != nil {
		_ = l.file.Close()
	}
	stamp := now.Format("20060102-150405")
	var f *os.File
	var err error
	for seq := 0; ; seq++ {
		name := fmt.Sprintf("%s.%s.%d.log", l.basename, stamp, seq)
		f, err = os.OpenFile(filepath.Join(l.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
		if !os.IsExist(err) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("logging: roll file: %w", err)
	}
	l.file = f
	l.fileSize = 0
	l.lastRollDay = now.YearDay()
	return nil
}

// NewStructuredLogger wraps dest (an AsyncLogger, or os.Stdout for the
// default sink per spec §6) in a zerolog.Logger with timestamps, the
// structured-logging backend named in SPEC_FULL.md's Domain Stack table.
func NewStructuredLogger(dest io.Writer) zerolog.Logger {
	return zerolog.New(dest).With().Timestamp().Logger()
}
