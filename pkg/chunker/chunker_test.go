package chunker_test

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storacha/kfs/pkg/chunker"
)

type collector struct {
	chunks [][]byte
}

func (c *collector) WriteChunk(chunk []byte) error {
	c.chunks = append(c.chunks, chunk)
	return nil
}

func (c *collector) joined() []byte {
	return bytes.Join(c.chunks, nil)
}

// writeRandomly feeds data to the chunker in randomly sized pieces.
func writeRandomly(t *testing.T, rng *rand.Rand, c *chunker.Chunker, data []byte) {
	t.Helper()
	for len(data) > 0 {
		n := rng.Intn(len(data)) + 1
		written, err := c.Write(data[:n])
		require.NoError(t, err)
		require.Equal(t, n, written)
		data = data[n:]
	}
}

func TestChunker(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, size := range []int{1, 3, 4, 7, 64} {
		for _, length := range []int{0, 1, size - 1, size, size + 1, 5*size + 2, 1000} {
			if length < 0 {
				continue
			}
			data := make([]byte, length)
			rng.Read(data)

			t.Run("unpadded", func(t *testing.T) {
				sink := &collector{}
				c := chunker.New(size, sink)
				writeRandomly(t, rng, c, data)
				require.NoError(t, c.Close())

				require.Equal(t, data, append([]byte{}, sink.joined()...))
				for i, chunk := range sink.chunks {
					if i < len(sink.chunks)-1 {
						require.Len(t, chunk, size)
					} else {
						require.NotEmpty(t, chunk)
						require.LessOrEqual(t, len(chunk), size)
					}
				}
				require.Len(t, sink.chunks, (length+size-1)/size)
			})

			t.Run("padded", func(t *testing.T) {
				sink := &collector{}
				c := chunker.New(size, sink, chunker.WithPadding())
				writeRandomly(t, rng, c, data)
				require.NoError(t, c.Close())

				require.Len(t, sink.chunks, (length+size-1)/size)
				for _, chunk := range sink.chunks {
					require.Len(t, chunk, size)
				}
				joined := sink.joined()
				require.Equal(t, data, joined[:length])
				for _, b := range joined[length:] {
					require.Zero(t, b)
				}
			})
		}
	}
}

func TestChunkerCopiesInput(t *testing.T) {
	sink := &collector{}
	c := chunker.New(4, sink)
	buf := []byte("ab")
	_, err := c.Write(buf)
	require.NoError(t, err)
	copy(buf, "zz")
	_, err = c.Write([]byte("cd"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("abcd")}, sink.chunks)
}

func TestChunkerPartialSegments(t *testing.T) {
	sink := &collector{}
	c := chunker.New(4, sink)
	_, err := c.Write([]byte("ABCDEF"))
	require.NoError(t, err)
	require.Equal(t, 2, c.Buffered())
	_, err = c.Write([]byte("GHI"))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.Equal(t, [][]byte{[]byte("ABCD"), []byte("EFGH"), []byte("I")}, sink.chunks)
}

func TestChunkerSinkError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	c := chunker.New(2, chunker.SinkFunc(func(chunk []byte) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	}))

	_, err := c.Write([]byte("abcdef"))
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, calls)

	_, err = c.Write([]byte("gh"))
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, c.Close(), boom)
	require.Equal(t, 2, calls)
}

func TestChunkerClosed(t *testing.T) {
	c := chunker.New(2, &collector{})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err := c.Write([]byte("a"))
	require.ErrorIs(t, err, chunker.ErrClosed)
}
