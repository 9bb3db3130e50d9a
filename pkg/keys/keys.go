// Package keys derives every key used by a kfs table: the canonical file key,
// the per-chunk item keys stored inside a shard, shard directory names and the
// table reference ID.
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// KeyBits is the length in bits of a file key and of a reference ID.
	KeyBits = 160
	// KeyBytes is the decoded length of a file key.
	KeyBytes = KeyBits / 8
	// Separator sits between the file key and the chunk index of an item key.
	// It is never a valid hex character.
	Separator = ' '
	// ShardDirSuffix is appended to the zero padded shard index.
	ShardDirSuffix = ".s"
)

var (
	ErrInvalidKey         = errors.New("invalid key length")
	ErrIndexOutOfRange    = errors.New("index is out of bounds")
	ErrInvalidReferenceID = errors.New("invalid reference id")
)

// IsValidKey reports whether key is already a canonical file key, i.e. hex
// text decoding to exactly KeyBytes bytes.
func IsValidKey(key string) bool {
	if len(key) != KeyBytes*2 {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}

// Normalize returns the canonical file key for input using the default
// hasher.
func Normalize(input string) string {
	return DefaultHasher.Normalize(input)
}

// Codec renders item keys for a shard. The index width is fixed by the
// shard capacity so that item keys of one file sort in chunk order.
type Codec struct {
	width int
}

// NewCodec returns a codec whose index width is the number of decimal digits
// in maxShardSize/chunkSize.
func NewCodec(maxShardSize int64, chunkSize int) Codec {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	width := len(strconv.FormatInt(maxShardSize/int64(chunkSize), 10))
	return Codec{width: width}
}

// IndexWidth is the number of digits used for the chunk index.
func (c Codec) IndexWidth() int {
	return c.width
}

// ItemKey returns "<fileKey> <padded index>".
func (c Codec) ItemKey(fileKey string, index int) (string, error) {
	prefix, err := c.Prefix(fileKey)
	if err != nil {
		return "", err
	}
	if index < 0 {
		return "", fmt.Errorf("%w: chunk index %d", ErrIndexOutOfRange, index)
	}
	idx := strconv.Itoa(index)
	if len(idx) > c.width {
		return "", fmt.Errorf("%w: chunk index %d exceeds %d digits", ErrIndexOutOfRange, index, c.width)
	}

	var b strings.Builder
	b.Grow(len(prefix) + c.width)
	b.WriteString(prefix)
	for i := len(idx); i < c.width; i++ {
		b.WriteByte('0')
	}
	b.WriteString(idx)
	return b.String(), nil
}

// Prefix returns the part shared by every item key of fileKey, including the
// trailing separator.
func (c Codec) Prefix(fileKey string) (string, error) {
	if !IsValidKey(fileKey) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, fileKey)
	}
	return strings.ToLower(fileKey) + string(Separator), nil
}

// BaseKey returns the file key part of an item key.
func BaseKey(itemKey string) string {
	base, _, _ := strings.Cut(itemKey, string(Separator))
	return base
}

// ShardDirName zero pads index to the width of shardCount-1 and appends the
// shard directory suffix.
func ShardDirName(index, shardCount int) string {
	width := len(strconv.Itoa(max(shardCount-1, 0)))
	return fmt.Sprintf("%0*d%s", width, index, ShardDirSuffix)
}

// ReferenceID decodes existingHex when given, otherwise it generates KeyBytes
// random bytes.
func ReferenceID(existingHex string) ([]byte, error) {
	if existingHex == "" {
		rid := make([]byte, KeyBytes)
		if _, err := rand.Read(rid); err != nil {
			return nil, fmt.Errorf("generating reference id: %w", err)
		}
		return rid, nil
	}
	rid, err := hex.DecodeString(existingHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidReferenceID, err)
	}
	if len(rid) != KeyBytes {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrInvalidReferenceID, len(rid), KeyBytes)
	}
	return rid, nil
}
