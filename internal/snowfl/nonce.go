package snowfl

import (
	"strings"

	"go.mau.fi/util/random"
)

// NonceLength is the length of nonces produced by RandomNonce.
const NonceLength = 8

// NonceSource produces the per-request nonce path segment.
type NonceSource interface {
	Nonce() string
}

// NonceFunc adapts a plain function to NonceSource.
type NonceFunc func() string

func (f NonceFunc) Nonce() string { return f() }

// RandomNonce returns NonceLength lowercase alphanumeric characters.
// Uniqueness is best-effort.
var RandomNonce NonceSource = NonceFunc(func() string {
	return strings.ToLower(random.String(NonceLength))
})
