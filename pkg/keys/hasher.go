package keys

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/multiformats/go-multihash"
)

// DefaultDigest is the multihash name of the default key digest.
const DefaultDigest = "sha1"

// DefaultHasher hashes with SHA-1, whose digest is exactly KeyBytes long.
var DefaultHasher = Hasher{code: multihash.SHA1, name: DefaultDigest}

// Hasher turns arbitrary input into a file key. Digests longer than KeyBytes
// are truncated.
type Hasher struct {
	code uint64
	name string
}

// NewHasher looks up a digest by its multihash name (e.g. "sha1",
// "sha2-256", "blake3").
func NewHasher(name string) (Hasher, error) {
	code, ok := multihash.Names[name]
	if !ok {
		return Hasher{}, fmt.Errorf("unknown digest algorithm %q", name)
	}
	h := Hasher{code: code, name: name}
	// a digest shorter than a key can never produce one
	if _, err := h.sum(nil); err != nil {
		return Hasher{}, fmt.Errorf("digest algorithm %q cannot produce %d byte keys: %w", name, KeyBytes, err)
	}
	return h, nil
}

// Name is the multihash name of the digest.
func (h Hasher) Name() string {
	return h.name
}

// Sum returns the hex encoded digest of data.
func (h Hasher) Sum(data []byte) (string, error) {
	digest, err := h.sum(data)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(digest), nil
}

// Normalize returns input unchanged (lower cased) when it is already a valid
// key, otherwise the hex digest of its bytes.
func (h Hasher) Normalize(input string) string {
	if IsValidKey(input) {
		return strings.ToLower(input)
	}
	key, err := h.Sum([]byte(input))
	if err != nil {
		// NewHasher rejects digests that cannot produce a key
		panic(fmt.Sprintf("hashing key with %s: %s", h.name, err))
	}
	return key
}

func (h Hasher) sum(data []byte) ([]byte, error) {
	mh, err := multihash.Sum(data, h.code, KeyBytes)
	if err != nil {
		return nil, err
	}
	decoded, err := multihash.Decode(mh)
	if err != nil {
		return nil, err
	}
	return decoded.Digest, nil
}
