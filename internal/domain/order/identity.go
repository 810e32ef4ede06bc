package order

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"math/big"
	"time"

	"github.com/go-faster/errors"
)

const (
	numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	numberSuffix   = 6

	// DefaultTokenBytes is the entropy of a public access token.
	DefaultTokenBytes = 24
	// MinTokenBytes is the smallest accepted token size.
	MinTokenBytes = 16
)

// NewNumber returns a human-readable order number such as ORD-20260314-K7QX2M.
func NewNumber(now time.Time) (string, error) {
	buf := make([]byte, 0, len("ORD-20060102-")+numberSuffix)
	buf = append(buf, "ORD-"...)
	buf = now.UTC().AppendFormat(buf, "20060102")
	buf = append(buf, '-')

	base := big.NewInt(int64(len(numberAlphabet)))
	for range numberSuffix {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", errors.Wrap(err, "read random")
		}
		buf = append(buf, numberAlphabet[n.Int64()])
	}
	return string(buf), nil
}

// NewAccessToken returns a URL-safe token carrying size random bytes.
func NewAccessToken(size int) (string, error) {
	if size < MinTokenBytes {
		size = MinTokenBytes
	}
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "read random")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// TokenMatches compares tokens in constant time.
func TokenMatches(stored, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
