// Package objectstore is the object storage interface kfs exposes to callers
// that address whole objects by key and read them back by byte range.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap/zapcore"
)

var ErrNotExist = errors.New("object does not exist")

// ErrRangeNotSatisfiable is returned by Get when the requested range falls
// outside the object.
type ErrRangeNotSatisfiable struct {
	Range Range
}

func (e ErrRangeNotSatisfiable) Error() string {
	if e.Range.End == nil {
		return fmt.Sprintf("range not satisfiable: %d-", e.Range.Start)
	}
	return fmt.Sprintf("range not satisfiable: %d-%d", e.Range.Start, *e.Range.End)
}

type Store interface {
	// Put stores an object with the given key and size from the provided reader.
	// The size parameter must match the bytes read from data.
	Put(ctx context.Context, key string, size uint64, data io.Reader) error
	// Get retrieves the object identified by the given key. Use WithRange to
	// retrieve part of it.
	Get(ctx context.Context, key string, opts ...GetOption) (Object, error)
	// Delete removes the object. Deleting a missing object succeeds.
	Delete(ctx context.Context, key string) error
}

type Object interface {
	// Size is the number of bytes Body yields.
	Size() int64
	Body() io.ReadCloser
}

type GetConfig interface {
	ProcessOptions([]GetOption)
	Range() Range
}

func NewGetConfig() GetConfig {
	return &options{}
}

type GetOption func(cfg *options)

type Range struct {
	// Start is the starting byte position (inclusive)
	Start uint64
	// End is the ending byte position (inclusive), nil means read to EOF
	End *uint64
}

// Specified reports whether the range selects less than the whole object.
func (r Range) Specified() bool {
	return r.Start != 0 || r.End != nil
}

// Bounds resolves the range against an object of size bytes, returning the
// offset and length to read.
func (r Range) Bounds(size int64) (int64, int64, error) {
	if !r.Specified() {
		return 0, size, nil
	}
	start := int64(r.Start)
	if start >= size {
		return 0, 0, ErrRangeNotSatisfiable{Range: r}
	}
	end := size - 1
	if r.End != nil {
		if *r.End < r.Start || int64(*r.End) >= size {
			return 0, 0, ErrRangeNotSatisfiable{Range: r}
		}
		end = int64(*r.End)
	}
	return start, end - start + 1, nil
}

type options struct {
	byteRange Range
}

func (o *options) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddUint64("start", o.byteRange.Start)
	if o.byteRange.End != nil {
		encoder.AddUint64("end", *o.byteRange.End)
	}
	return nil
}

func (o *options) ProcessOptions(opts []GetOption) {
	for _, opt := range opts {
		opt(o)
	}
}

func (o *options) Range() Range {
	return o.byteRange
}

// WithRange configures a byte range to extract.
// Start and End are inclusive byte positions, following HTTP range semantics.
// End can be nil to read from Start to EOF.
func WithRange(byteRange Range) GetOption {
	return func(opts *options) {
		opts.byteRange = byteRange
	}
}
