package reactor

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferAppendRetrieveRoundTrip(t *testing.T) {
	b := NewBuffer()
	b.AppendString("hello world")
	got := b.RetrieveAsString(len("hello world"))
	assert.Equal(t, "hello world", got)
	assert.Equal(t, 0, b.ReadableBytes())
}

func TestBufferInvariant(t *testing.T) {
	b := NewBufferSize(8)
	data := strings.Repeat("x", 200)
	b.AppendString(data)

	capacity := len(b.data)
	assert.Equal(t, capacity, b.PrependableBytes()+b.ReadableBytes()+b.WritableBytes())

	b.Retrieve(50)
	assert.Equal(t, capacity, b.PrependableBytes()+b.ReadableBytes()+b.WritableBytes())
}

func TestBufferRetrieveAllResetsToPrependBoundary(t *testing.T) {
	b := NewBuffer()
	b.AppendString("some bytes")
	b.RetrieveAll()
	assert.Equal(t, cheapPrependSize, b.readIdx)
	assert.Equal(t, cheapPrependSize, b.writeIdx)
}

func TestBufferEnsureWritableSlidesBeforeGrowing(t *testing.T) {
	b := NewBufferSize(16)
	b.AppendString(strings.Repeat("a", 10))
	b.Retrieve(6) // readable now 4, readIdx advanced past prepend boundary
	b.AppendString(strings.Repeat("b", 4))

	before := len(b.data)
	// writable is 2, but prependable+writable (16) covers the reserve plus 4,
	// so this slides rather than grows
	b.ensureWritable(4)
	assert.Equal(t, before, len(b.data))
	assert.Equal(t, cheapPrependSize, b.readIdx)
}

func TestBufferEnsureWritableGrowsWhenSlideInsufficient(t *testing.T) {
	b := NewBufferSize(4)
	b.AppendString("1234")
	before := len(b.data)
	b.AppendString(strings.Repeat("z", 100))
	assert.Greater(t, len(b.data), before)
}

func TestBufferFindCRLF(t *testing.T) {
	b := NewBuffer()
	b.AppendString("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	idx := b.FindCRLF()
	require.NotEqual(t, notFound, idx)
	line := b.RetrieveAsString(idx)
	assert.Equal(t, "GET / HTTP/1.1", line)
}

func TestBufferReadFdScatterRead(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	payload := strings.Repeat("payload-", 10000) // forces the extension path
	go func() {
		_, _ = w.Write([]byte(payload))
		w.Close()
	}()

	b := NewBuffer()
	total := 0
	for total < len(payload) {
		n, err := b.ReadFd(int(r.Fd()))
		require.NoError(t, err)
		if n == 0 {
			break
		}
		total += n
	}
	assert.Equal(t, payload, b.RetrieveAllAsString())
}
