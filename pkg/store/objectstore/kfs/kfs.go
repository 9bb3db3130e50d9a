// Package kfs implements objectstore.Store on top of a kfs table. Objects are
// streamed in and out chunk by chunk, so neither Put nor Get buffers a whole
// object in memory.
package kfs

import (
	"context"
	"fmt"
	"io"

	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multihash"

	"github.com/storacha/kfs/lib/verifyread"
	"github.com/storacha/kfs/pkg/store/objectstore"
	"github.com/storacha/kfs/pkg/table"
)

var log = logging.Logger("kfs/objectstore")

type Store struct {
	tbl *table.Table
}

var _ objectstore.Store = (*Store)(nil)

func New(tbl *table.Table) *Store {
	return &Store{tbl: tbl}
}

// MultihashKey renders a multihash as an object key. The table hashes it into
// a file key like any other input.
func MultihashKey(mh multihash.Multihash) string {
	return mh.HexString()
}

// Put streams size bytes from data into key. Anything already stored at key is
// replaced. If data yields fewer bytes the partial object is removed.
func (s *Store) Put(ctx context.Context, key string, size uint64, data io.Reader) error {
	return s.put(ctx, key, size, io.LimitReader(data, int64(size)), nil)
}

// PutMultihash stores size bytes from data under the key of mh, checking them
// against mh as they stream in. Content that does not match is removed.
func (s *Store) PutMultihash(ctx context.Context, mh multihash.Multihash, size uint64, data io.Reader) error {
	vr, err := verifyread.NewMultihash(io.LimitReader(data, int64(size)), mh)
	if err != nil {
		return err
	}
	return s.put(ctx, MultihashKey(mh), size, vr, vr.Verify)
}

func (s *Store) put(ctx context.Context, key string, size uint64, data io.Reader, verify func() error) error {
	ws, err := s.tbl.CreateWriteStream(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to open write stream: %w", err)
	}
	n, err := io.Copy(ws, data)
	if err == nil && uint64(n) != size {
		err = fmt.Errorf("expected %d bytes but read %d", size, n)
	}
	if err == nil && verify != nil {
		err = verify()
	}
	if err != nil {
		if derr := ws.Destroy(ctx); derr != nil {
			log.Warnw("failed to remove partial object", "key", key, "error", derr)
		}
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := ws.Close(); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// Get streams the object stored at key. Empty objects are not stored, so
// they are reported as missing.
func (s *Store) Get(ctx context.Context, key string, opts ...objectstore.GetOption) (objectstore.Object, error) {
	size, err := s.tbl.Size(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to size object: %w", err)
	}
	if size == 0 {
		return nil, objectstore.ErrNotExist
	}

	cfg := objectstore.NewGetConfig()
	cfg.ProcessOptions(opts)
	offset, length, err := cfg.Range().Bounds(size)
	if err != nil {
		return nil, err
	}

	rs, err := s.tbl.CreateReadStreamAt(ctx, key, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to open read stream: %w", err)
	}
	return &object{
		size: length,
		body: readCloser{Reader: io.LimitReader(rs, length), Closer: rs},
	}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.tbl.Unlink(ctx, key)
}

// Has reports whether an object is stored at key.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	ok, err := s.tbl.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check object: %w", err)
	}
	return ok, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

type object struct {
	size int64
	body io.ReadCloser
}

func (o *object) Size() int64 {
	return o.size
}

func (o *object) Body() io.ReadCloser {
	return o.body
}
