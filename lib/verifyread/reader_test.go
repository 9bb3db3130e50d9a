package verifyread

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"io"
	"testing"

	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRead(t *testing.T) {
	createTestData := func(content string) (data []byte, hash []byte) {
		data = []byte(content)
		h := sha256.Sum256(data)
		return data, h[:]
	}

	t.Run("successful validation", func(t *testing.T) {
		data, expectedHash := createTestData("Hello, World!")
		reader, err := New(bytes.NewReader(data), sha256.New(), expectedHash)
		require.NoError(t, err)

		result := &bytes.Buffer{}
		n, err := io.Copy(result, reader)

		assert.NoError(t, err)
		assert.Equal(t, int64(len(data)), n)
		assert.Equal(t, data, result.Bytes())
		assert.Equal(t, uint64(len(data)), reader.BytesRead())
		assert.True(t, reader.Validated())
	})

	t.Run("hash mismatch causes consumer failure", func(t *testing.T) {
		data, _ := createTestData("Hello, World!")
		wrongHash := sha256.Sum256([]byte("Different content"))
		reader, err := New(bytes.NewReader(data), sha256.New(), wrongHash[:])
		require.NoError(t, err)

		result := &bytes.Buffer{}
		n, err := io.Copy(result, reader)

		// every byte is handed over before the mismatch is known
		assert.ErrorIs(t, err, ErrHashMismatch)
		assert.Equal(t, int64(len(data)), n)
		assert.False(t, reader.Validated())
		assert.ErrorIs(t, reader.Verify(), ErrHashMismatch)
	})

	t.Run("partial reads", func(t *testing.T) {
		data, expectedHash := createTestData("Hello, World! This is a longer message.")
		reader, err := New(bytes.NewReader(data), sha256.New(), expectedHash)
		require.NoError(t, err)

		result := &bytes.Buffer{}
		buf := make([]byte, 4)
		for {
			n, err := reader.Read(buf)
			if n > 0 {
				result.Write(buf[:n])
			}
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
		}

		assert.Equal(t, data, result.Bytes())
		assert.True(t, reader.Validated())
	})

	t.Run("verify drains the source", func(t *testing.T) {
		data, expectedHash := createTestData("read only the start")
		reader, err := New(bytes.NewReader(data), sha256.New(), expectedHash)
		require.NoError(t, err)

		_, err = reader.Read(make([]byte, 4))
		require.NoError(t, err)
		require.NoError(t, reader.Verify())
		assert.Equal(t, uint64(len(data)), reader.BytesRead())
	})

	t.Run("chaining", func(t *testing.T) {
		data := bytes.Repeat([]byte("a"), 10*1024)
		shaDigest := sha256.Sum256(data)
		md5Digest := md5.Sum(data)

		reader1, err := New(bytes.NewReader(data), sha256.New(), shaDigest[:])
		require.NoError(t, err)
		reader2, err := New(reader1, md5.New(), md5Digest[:])
		require.NoError(t, err)

		result := &bytes.Buffer{}
		n, err := io.Copy(result, reader2)

		assert.NoError(t, err)
		assert.Equal(t, int64(len(data)), n)
		assert.Equal(t, uint64(len(data)), reader1.BytesRead())
		assert.Equal(t, uint64(len(data)), reader2.BytesRead())
	})

	t.Run("rejects bad arguments", func(t *testing.T) {
		_, err := New(bytes.NewReader(nil), sha256.New(), nil)
		assert.Error(t, err)
		_, err = New(bytes.NewReader(nil), sha256.New(), make([]byte, 64))
		assert.Error(t, err)
	})
}

func TestNewMultihash(t *testing.T) {
	data := []byte("content addressed")

	t.Run("full digest", func(t *testing.T) {
		mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
		require.NoError(t, err)
		reader, err := NewMultihash(bytes.NewReader(data), mh)
		require.NoError(t, err)
		require.NoError(t, reader.Verify())
	})

	t.Run("truncated digest", func(t *testing.T) {
		mh, err := multihash.Sum(data, multihash.SHA2_256, 20)
		require.NoError(t, err)
		reader, err := NewMultihash(bytes.NewReader(data), mh)
		require.NoError(t, err)
		require.NoError(t, reader.Verify())
	})

	t.Run("other content", func(t *testing.T) {
		mh, err := multihash.Sum([]byte("something else"), multihash.SHA1, -1)
		require.NoError(t, err)
		reader, err := NewMultihash(bytes.NewReader(data), mh)
		require.NoError(t, err)
		require.ErrorIs(t, reader.Verify(), ErrHashMismatch)
	})
}

func BenchmarkHashValidatingReader(b *testing.B) {
	data := bytes.Repeat([]byte("a"), 10*1024*1024)
	hash := sha256.Sum256(data)

	b.Run("WithValidation", func(b *testing.B) {
		b.SetBytes(int64(len(data)))
		for b.Loop() {
			reader, _ := New(bytes.NewReader(data), sha256.New(), hash[:])
			_, _ = io.Copy(io.Discard, reader)
		}
	})

	b.Run("WithoutValidation", func(b *testing.B) {
		b.SetBytes(int64(len(data)))
		for b.Loop() {
			_, _ = io.Copy(io.Discard, bytes.NewReader(data))
		}
	})
}
