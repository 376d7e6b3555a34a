package nanochan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/nanotube/internal/nanorun"
)

func TestTryWriteTryReadRoundTrip(t *testing.T) {
	c := New("test", 4, 2, BusUnspecified, 0, nil)

	require.True(t, c.TryWrite([]byte{1, 2, 3, 4}))
	require.True(t, c.TryWrite([]byte{5, 6, 7, 8}))
	assert.False(t, c.TryWrite([]byte{9, 9, 9, 9}), "ring should be full")

	out := make([]byte, 4)
	require.True(t, c.TryRead(out))
	assert.Equal(t, []byte{1, 2, 3, 4}, out)

	require.True(t, c.TryRead(out))
	assert.Equal(t, []byte{5, 6, 7, 8}, out)

	assert.False(t, c.TryRead(out), "ring should be empty")
	assert.Equal(t, []byte{0, 0, 0, 0}, out, "empty read zero-fills destination")
}

func TestWrapAround(t *testing.T) {
	c := New("test", 2, 2, BusUnspecified, 0, nil)
	out := make([]byte, 2)

	for i := 0; i < 10; i++ {
		require.True(t, c.TryWrite([]byte{byte(i), byte(i + 1)}))
		require.True(t, c.TryRead(out))
		assert.Equal(t, byte(i), out[0])
	}
}

func TestHasSpaceAndStats(t *testing.T) {
	c := New("test", 1, 3, BusUnspecified, 0, nil)
	assert.True(t, c.HasSpace())
	assert.Equal(t, ChannelStats{Capacity: 3, Filled: 0}, c.Stats())

	c.TryWrite([]byte{1})
	c.TryWrite([]byte{2})
	assert.Equal(t, 2, c.Stats().Filled)
	assert.True(t, c.HasSpace())

	c.TryWrite([]byte{3})
	assert.False(t, c.HasSpace())
	assert.Equal(t, 3, c.Stats().Filled)
}

func TestMatchingElementSizeWriteSucceeds(t *testing.T) {
	// Fatal calls os.Exit; we only verify the non-fatal paths here since
	// exercising Fatal itself belongs to nanorun's own test suite.
	c := New("test", 4, 1, BusUnspecified, 0, nil)
	require.True(t, c.TryWrite([]byte{1, 2, 3, 4}))
}

func TestBlockingWriteWakesReaderThread(t *testing.T) {
	c := New("test", 4, 1, BusUnspecified, 0, nil)

	reader := nanorun.New("reader", nil, nil)
	writer := nanorun.New("writer", nil, nil)
	c.BindReader(reader)
	c.BindWriter(writer)

	done := make(chan struct{})
	go func() {
		out := make([]byte, 4)
		c.Read(reader, out)
		if out[0] != 42 {
			t.Errorf("expected 42, got %d", out[0])
		}
		close(done)
	}()

	// Give the reader goroutine time to block in Sleep.
	time.Sleep(20 * time.Millisecond)
	c.Write(writer, []byte{42, 0, 0, 0})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader was not woken by Write")
	}
}

func TestBlockingReadWakesWriterThread(t *testing.T) {
	c := New("test", 4, 1, BusUnspecified, 0, nil)

	reader := nanorun.New("reader", nil, nil)
	writer := nanorun.New("writer", nil, nil)
	c.BindReader(reader)
	c.BindWriter(writer)

	require.True(t, c.TryWrite([]byte{1, 2, 3, 4}))

	done := make(chan struct{})
	go func() {
		c.Write(writer, []byte{9, 9, 9, 9})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	out := make([]byte, 4)
	c.Read(reader, out)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer was not woken by Read")
	}
}
