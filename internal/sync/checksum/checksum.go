// Package checksum computes the streaming MD5 digests Drive reports as
// md5Checksum, so local and remote content can be compared directly.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"strings"

	"github.com/spf13/afero"
)

// Reader hashes r without buffering it and returns the hex digest and the
// number of bytes read.
func Reader(r io.Reader) (string, int64, error) {
	h := md5.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// File hashes the file at name on fs.
func File(fs afero.Fs, name string) (hash string, err error) {
	f, err := fs.Open(name)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	hash, _, err = Reader(f)
	return hash, err
}

// Equal compares two hex digests. Unknown (empty) digests never match.
func Equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}
