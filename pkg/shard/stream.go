package shard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/storacha/kfs/pkg/chunker"
	"github.com/storacha/kfs/pkg/keys"
	"github.com/storacha/kfs/pkg/kvstore"
)

var ErrStreamClosed = errors.New("stream is closed")

// ReadStream reads a file chunk by chunk; chunk n+1 is only fetched once
// chunk n has been consumed. It holds a pending operation on its shard until
// it is closed or destroyed.
type ReadStream struct {
	ctx   context.Context
	s     *Shard
	db    kvstore.Store
	key   string
	index int
	skip  int
	buf   []byte
	err   error
	once  sync.Once
}

// CreateReadStream opens a stream over the content of key. ctx bounds every
// chunk read made by the stream.
func (s *Shard) CreateReadStream(ctx context.Context, key string) (*ReadStream, error) {
	return s.CreateReadStreamAt(ctx, key, 0)
}

// CreateReadStreamAt opens a stream starting offset bytes into key. Chunks
// before offset are never read.
func (s *Shard) CreateReadStreamAt(ctx context.Context, key string, offset int64) (*ReadStream, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset %d", ErrInvalidRange, offset)
	}
	if _, err := s.codec.Prefix(key); err != nil {
		return nil, err
	}
	db, err := s.enter()
	if err != nil {
		return nil, err
	}
	chunk := int64(s.cfg.ChunkSize)
	return &ReadStream{
		ctx:   ctx,
		s:     s,
		db:    db,
		key:   key,
		index: int(offset / chunk),
		skip:  int(offset % chunk),
	}, nil
}

// EmptyReadStream returns a stream that holds no shard and ends at once.
func EmptyReadStream() *ReadStream {
	return &ReadStream{err: io.EOF}
}

func (r *ReadStream) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.fetch()
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// fetch loads the next chunk into buf or sets err. A missing chunk ends the
// stream.
func (r *ReadStream) fetch() {
	if err := r.ctx.Err(); err != nil {
		r.err = err
		return
	}
	itemKey, err := r.s.codec.ItemKey(r.key, r.index)
	if errors.Is(err, keys.ErrIndexOutOfRange) {
		r.err = io.EOF
		return
	}
	if err != nil {
		r.err = err
		return
	}

	chunk, err := r.db.Get([]byte(itemKey))
	if errors.Is(err, kvstore.ErrNotFound) {
		r.err = io.EOF
		return
	}
	r.s.metrics.RecordChunk(r.ctx, "get", len(chunk), err)
	if err != nil {
		r.err = fmt.Errorf("reading %s chunk %d: %w", r.key, r.index, err)
		return
	}

	r.index++
	if r.skip > 0 {
		chunk = chunk[min(r.skip, len(chunk)):]
		r.skip = 0
	}
	r.buf = chunk
}

// Close releases the stream. It is safe to call more than once.
func (r *ReadStream) Close() error {
	r.once.Do(func() {
		r.buf = nil
		if r.err == nil || r.err == io.EOF {
			r.err = ErrStreamClosed
		}
		if r.s != nil {
			r.s.release()
		}
	})
	return nil
}

// Destroy stops the stream and unlinks its key. Chunk reads already in flight
// complete first.
func (r *ReadStream) Destroy(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		r.buf = nil
		r.err = ErrStreamClosed
		if r.s == nil {
			return
		}
		err = r.s.unlink(ctx, r.db, r.key)
		r.s.release()
	})
	return err
}

// WriteStream splits written bytes into chunks stored under consecutive item
// keys. Any previous content of the key is unlinked when the stream is
// created. A WriteStream is not safe for concurrent use.
type WriteStream struct {
	ctx     context.Context
	s       *Shard
	db      kvstore.Store
	key     string
	index   int
	chunker *chunker.Chunker
	done    bool
}

// CreateWriteStream unlinks key and returns a stream writing its new content.
// ctx bounds every chunk write made by the stream.
func (s *Shard) CreateWriteStream(ctx context.Context, key string) (*WriteStream, error) {
	if _, err := s.codec.Prefix(key); err != nil {
		return nil, err
	}
	db, err := s.enter()
	if err != nil {
		return nil, err
	}
	if err := s.unlink(ctx, db, key); err != nil {
		s.release()
		return nil, err
	}
	w := &WriteStream{
		ctx: ctx,
		s:   s,
		db:  db,
		key: key,
	}
	w.chunker = chunker.New(s.cfg.ChunkSize, chunker.SinkFunc(w.put))
	return w, nil
}

func (w *WriteStream) put(chunk []byte) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	itemKey, err := w.s.codec.ItemKey(w.key, w.index)
	if err != nil {
		return err
	}
	err = w.db.Put([]byte(itemKey), chunk)
	w.s.metrics.RecordChunk(w.ctx, "put", len(chunk), err)
	if err != nil {
		return fmt.Errorf("writing %s chunk %d: %w", w.key, w.index, err)
	}
	w.index++
	return nil
}

func (w *WriteStream) Write(p []byte) (int, error) {
	if w.done {
		return 0, ErrStreamClosed
	}
	return w.chunker.Write(p)
}

// Close stores the final chunk and releases the stream.
func (w *WriteStream) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	err := w.chunker.Close()
	w.s.release()
	return err
}

// Destroy discards buffered bytes and unlinks the key. Chunk writes already
// in flight complete first.
func (w *WriteStream) Destroy(ctx context.Context) error {
	if w.done {
		return nil
	}
	w.done = true
	err := w.s.unlink(ctx, w.db, w.key)
	w.s.release()
	return err
}
