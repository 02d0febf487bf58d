package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAsyncLoggerWritesAndFlushesToFile(t *testing.T) {
	dir := t.TempDir()
	l, err := NewAsyncLogger(dir, "test", 0)
	require.NoError(t, err)
	defer l.Close()

	logger := NewStructuredLogger(l)
	logger.Info().Msg("hello from async logger")
	l.Flush()

	require.Eventually(t, func() bool {
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			data, _ := os.ReadFile(filepath.Join(dir, e.Name()))
			if strings.Contains(string(data), "hello from async logger") {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestAsyncLoggerCloseAfterWriteSucceeds(t *testing.T) {
	dir := t.TempDir()
	l, err := NewAsyncLogger(dir, "test2", 0)
	require.NoError(t, err)

	l.Write([]byte("a line\n"))
	require.NoError(t, l.Close())
}

func TestAsyncLoggerRollsOnSizeThreshold(t *testing.T) {
	dir := t.TempDir()
	l, err := NewAsyncLogger(dir, "roll", 64)
	require.NoError(t, err)
	defer l.Close()

	big := strings.Repeat("x", 200)
	for i := 0; i < 5; i++ {
		l.Write([]byte(big))
		l.Flush()
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		entries, _ := os.ReadDir(dir)
		return len(entries) >= 2
	}, time.Second, 10*time.Millisecond)
}
