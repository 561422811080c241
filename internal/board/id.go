package board

import (
	"crypto/rand"
	"math/big"
)

const (
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	idLength   = 7
)

// NewID returns a short random lowercase alphanumeric token, suitable for
// board ids (shared in links) and card ids.
func NewID() string {
	max := big.NewInt(int64(len(idAlphabet)))
	b := make([]byte, idLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = idAlphabet[n.Int64()]
	}
	return string(b)
}

// ValidID reports whether id is a non-empty alphanumeric token.
func ValidID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
