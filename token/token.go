// Package token holds the CSRF token primitives shared by the server guard and
// the client: names, the safe-method set, generation, format and signatures.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	HeaderName = "X-CSRF-Token"
	CookieName = "csrf-token"

	ByteLength = 32
	HexLength  = ByteLength * 2

	prefixLength = 10
)

// ErrRandomUnavailable is returned when the random source cannot supply bytes.
var ErrRandomUnavailable = errors.New("secure random source unavailable")

// SafeMethods is the one safe-method set used on both sides of the wire.
var SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}

func IsSafeMethod(method string) bool {
	method = strings.ToUpper(method)
	for _, m := range SafeMethods {
		if m == method {
			return true
		}
	}
	return false
}

// Generate returns 32 random bytes from crypto/rand, hex-encoded.
func Generate() (string, error) {
	return GenerateFrom(rand.Reader)
}

func GenerateFrom(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, ByteLength)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRandomUnavailable, err)
	}
	return hex.EncodeToString(b), nil
}

// Valid reports whether tok is exactly 64 lowercase hex characters.
func Valid(tok string) bool {
	if len(tok) != HexLength {
		return false
	}
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Sign returns the hex HMAC-SHA256 of tok under secret.
func Sign(secret []byte, tok string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(tok))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedValue is the header value expected by the signed-cookie strategy.
func SignedValue(secret []byte, tok string) string {
	return tok + "." + Sign(secret, tok)
}

func SplitSigned(v string) (tok, sig string, ok bool) {
	tok, sig, ok = strings.Cut(v, ".")
	if !ok || sig == "" {
		return tok, "", false
	}
	return tok, sig, true
}

// VerifySignature compares sig against the expected signature of tok.
func VerifySignature(secret []byte, tok, sig string) bool {
	return hmac.Equal([]byte(sig), []byte(Sign(secret, tok)))
}

// Prefix is the only form in which a token may be logged.
func Prefix(tok string) string {
	if tok == "" {
		return "missing"
	}
	if len(tok) <= prefixLength {
		return tok[:len(tok)/2] + "..."
	}
	return tok[:prefixLength] + "..."
}
