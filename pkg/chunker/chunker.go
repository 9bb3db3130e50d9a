// Package chunker re-segments a stream of arbitrarily sized writes into fixed
// size chunks.
package chunker

import (
	"errors"
)

// ErrClosed is returned when writing to a closed Chunker.
var ErrClosed = errors.New("chunker closed")

// Sink receives chunks in order. A Sink may block to apply backpressure; an
// error stops the chunker and is returned from Write or Close.
type Sink interface {
	WriteChunk(chunk []byte) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(chunk []byte) error

func (f SinkFunc) WriteChunk(chunk []byte) error {
	return f(chunk)
}

type Option func(*Chunker)

// WithPadding zero pads the final chunk up to the chunk size.
func WithPadding() Option {
	return func(c *Chunker) {
		c.pad = true
	}
}

// Chunker buffers written bytes in a FIFO of segments and hands every full
// chunk to its sink. Only the final chunk, emitted by Close, may be shorter
// than the chunk size. A Chunker is not safe for concurrent use.
type Chunker struct {
	size int
	pad  bool
	sink Sink

	// queue holds unconsumed segments, offset is the read cursor into
	// queue[0] and buffered counts every byte not yet emitted.
	queue    [][]byte
	offset   int
	buffered int

	err    error
	closed bool
}

// New returns a chunker emitting chunks of size bytes to sink.
func New(size int, sink Sink, opts ...Option) *Chunker {
	if size <= 0 {
		panic("chunker: chunk size must be positive")
	}
	c := &Chunker{size: size, sink: sink}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Write queues p and emits as many full chunks as are now available. p is
// copied; the caller may reuse it once Write returns.
func (c *Chunker) Write(p []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if c.err != nil {
		return 0, c.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	seg := make([]byte, len(p))
	copy(seg, p)
	c.queue = append(c.queue, seg)
	c.buffered += len(seg)

	for c.buffered >= c.size {
		if err := c.emit(c.drain(c.size, c.size)); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Close emits any leftover bytes as the final chunk. It does not close the
// sink.
func (c *Chunker) Close() error {
	if c.closed {
		return c.err
	}
	c.closed = true
	if c.err != nil || c.buffered == 0 {
		return c.err
	}

	n := c.buffered
	if c.pad {
		n = c.size
	}
	return c.emit(c.drain(c.buffered, n))
}

// Buffered reports the number of bytes waiting for a full chunk.
func (c *Chunker) Buffered() int {
	return c.buffered
}

func (c *Chunker) emit(chunk []byte) error {
	if err := c.sink.WriteChunk(chunk); err != nil {
		c.err = err
		return err
	}
	return nil
}

// drain removes n bytes from the head of the queue into a new buffer of
// length size (size >= n), leaving any tail zeroed.
func (c *Chunker) drain(n, size int) []byte {
	chunk := make([]byte, size)
	i := 0
	for i < n {
		head := c.queue[0][c.offset:]
		k := copy(chunk[i:n], head)
		i += k
		if k == len(head) {
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.offset = 0
		} else {
			c.offset += k
		}
	}
	c.buffered -= n
	if len(c.queue) == 0 {
		// drop the backing array once drained
		c.queue = nil
	}
	return chunk
}
