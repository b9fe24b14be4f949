package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// ContentETag returns the hex sha256 of raw content. Byte stores that
// cannot validate revisions server-side use it as an etag surrogate.
func ContentETag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ReaderETag drains r and returns the content etag together with the
// bytes read, so callers pay for a single pass.
func ReaderETag(r io.Reader) (string, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, err
	}
	return ContentETag(data), data, nil
}
