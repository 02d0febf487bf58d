//go:build linux

package reactor

import (
	"bytes"
	"errors"
	"syscall"
)

// cheapPrependSize is the reserved header room at the front of every
// Buffer, matching the original Buffer::kCheapPrepend.
const cheapPrependSize = 8

// initialBufferSize is the default allocation, matching Buffer::kInitialSize.
const initialBufferSize = 1024

// extensionBufferSize is the size of the stack-allocated scatter-read
// extension used by ReadFd, matching the 64KiB "extrabuf" in Buffer::readFd.
const extensionBufferSize = 65536

// notFound is returned by FindCRLF when no terminator is present.
const notFound = -1

// Buffer is a growable byte region split into a prepend reserve, a
// readable region and a writable region by two indices. See spec §3/4.1.
type Buffer struct {
	data     []byte
	readIdx  int
	writeIdx int
}

// NewBuffer creates an empty buffer with the standard initial capacity.
func NewBuffer() *Buffer {
	return NewBufferSize(initialBufferSize)
}

// NewBufferSize creates an empty buffer with a custom initial capacity.
func NewBufferSize(size int) *Buffer {
	return &Buffer{
		data:     make([]byte, cheapPrependSize+size),
		readIdx:  cheapPrependSize,
		writeIdx: cheapPrependSize,
	}
}

// ReadableBytes returns the number of bytes available to retrieve.
func (b *Buffer) ReadableBytes() int { return b.writeIdx - b.readIdx }

// WritableBytes returns the number of bytes that can be appended before
// a slide or grow is required.
func (b *Buffer) WritableBytes() int { return len(b.data) - b.writeIdx }

// PrependableBytes returns the current size of the prepend region.
func (b *Buffer) PrependableBytes() int { return b.readIdx }

// Peek returns the readable region without consuming it. The slice is
// only valid until the next mutating call.
func (b *Buffer) Peek() []byte { return b.data[b.readIdx:b.writeIdx] }

// Append copies bytes into the writable region, growing or sliding the
// buffer first if necessary.
func (b *Buffer) Append(bs []byte) {
	b.ensureWritable(len(bs))
	n := copy(b.data[b.writeIdx:], bs)
	b.writeIdx += n
}

// AppendString is a convenience wrapper around Append.
func (b *Buffer) AppendString(s string) {
	b.Append([]byte(s))
}

// ensureWritable guarantees at least n writable bytes, sliding the
// readable region back onto the prepend reserve first and only
// reallocating if that is still insufficient (spec §3, Buffer invariants).
func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.PrependableBytes()+b.WritableBytes() >= cheapPrependSize+n {
		readable := b.ReadableBytes()
		copy(b.data[cheapPrependSize:], b.data[b.readIdx:b.writeIdx])
		b.readIdx = cheapPrependSize
		b.writeIdx = b.readIdx + readable
		return
	}
	grown := make([]byte, b.writeIdx+n)
	copy(grown, b.data[:b.writeIdx])
	b.data = grown
}

// Retrieve advances readIdx by n, resetting both indices to the prepend
// boundary once the readable region is fully consumed (amortising).
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readIdx += n
		return
	}
	b.RetrieveAll()
}

// RetrieveAll resets the buffer to empty.
func (b *Buffer) RetrieveAll() {
	b.readIdx = cheapPrependSize
	b.writeIdx = cheapPrependSize
}

// RetrieveAsString copies out n readable bytes and advances past them.
func (b *Buffer) RetrieveAsString(n int) string {
	s := string(b.data[b.readIdx : b.readIdx+n])
	b.Retrieve(n)
	return s
}

// RetrieveAllAsString copies out the entire readable region.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// FindCRLF returns the index (relative to the start of the readable
// region) of the earliest "\r\n", or notFound if absent.
func (b *Buffer) FindCRLF() int {
	idx := bytes.Index(b.Peek(), []byte("\r\n"))
	return idx
}

var errReadFailed = errors.New("reactor: readFd failed")

// ReadFd performs a single scatter read from fd into the buffer's tail
// plus a 64KiB stack extension, matching Buffer::readFd: this keeps the
// buffer itself small in the steady state while still draining the
// socket in one syscall when a large message arrives. It returns 0 at
// end of file and -1 when the read fails; EAGAIN is reported as -1 with
// a nil error.
func (b *Buffer) ReadFd(fd int) (n int, savedErrno error) {
	var extra [extensionBufferSize]byte
	writable := b.WritableBytes()

	iov := make([][]byte, 0, 2)
	iov = append(iov, b.data[b.writeIdx:])
	if writable < len(extra) {
		iov = append(iov, extra[:])
	}

	nr, err := readv(fd, iov)
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return -1, nil
		}
		return -1, err
	}

	if nr <= writable {
		b.writeIdx += nr
	} else {
		b.writeIdx = len(b.data)
		b.Append(extra[:nr-writable])
	}
	return nr, nil
}
