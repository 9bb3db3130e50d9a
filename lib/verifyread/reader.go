// Package verifyread checks streamed content against an expected digest. The
// digest is only known to match once the source is exhausted, so callers must
// treat everything read before a mismatch as untrusted.
package verifyread

import (
	"bytes"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/multiformats/go-multihash"
)

var ErrHashMismatch = errors.New("hash validation failed")

type Reader struct {
	src         io.Reader
	h           hash.Hash
	expectedSum []byte

	bytesRead uint64
	done      bool  // reached EOF
	finalErr  error // latched terminal error (e.g., mismatch)
}

func New(src io.Reader, h hash.Hash, expected []byte) (*Reader, error) {
	if src == nil || h == nil {
		return nil, errors.New("source and hash are required")
	}
	if len(expected) == 0 || len(expected) > h.Size() {
		return nil, fmt.Errorf("expected digest is %d bytes, hash produces %d", len(expected), h.Size())
	}
	return &Reader{src: src, h: h, expectedSum: expected}, nil
}

// NewMultihash verifies src against mh. Truncated multihashes are compared
// against the same prefix of the full digest.
func NewMultihash(src io.Reader, mh multihash.Multihash) (*Reader, error) {
	decoded, err := multihash.Decode(mh)
	if err != nil {
		return nil, fmt.Errorf("decoding multihash: %w", err)
	}
	h, err := multihash.GetHasher(decoded.Code)
	if err != nil {
		return nil, err
	}
	return New(src, h, decoded.Digest)
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.finalErr != nil {
		return 0, r.finalErr
	}
	if r.done {
		return 0, io.EOF
	}

	n, err := r.src.Read(p)
	if n > 0 {
		if _, herr := r.h.Write(p[:n]); herr != nil {
			r.finalErr = herr
			return 0, herr
		}
		r.bytesRead += uint64(n)
	}

	if err == io.EOF {
		r.done = true
		sum := r.h.Sum(nil)[:len(r.expectedSum)]
		if !bytes.Equal(sum, r.expectedSum) {
			r.finalErr = fmt.Errorf("%w: expected %x, got %x", ErrHashMismatch, r.expectedSum, sum)
			// the caller still gets the last n bytes along with the failure
			return n, r.finalErr
		}
		return n, io.EOF
	}
	return n, err
}

// Verify drains whatever is left of the source and reports whether the
// content matched.
func (r *Reader) Verify() error {
	if !r.done && r.finalErr == nil {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return err
		}
	}
	return r.finalErr
}

func (r *Reader) BytesRead() uint64 { return r.bytesRead }

// Validated reports whether the whole source was read and matched.
func (r *Reader) Validated() bool {
	return r.done && r.finalErr == nil
}
