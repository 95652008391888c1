package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// DefaultHeader is the HTTP header carrying the payload signature unless the
// endpoint configures its own.
const DefaultHeader = "X-Webhook-Signature"

// Algorithm selects the HMAC hash used to sign delivery bodies.
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// Default is the algorithm used when an endpoint does not configure one.
const Default = SHA256

func (a Algorithm) hasher() (func() hash.Hash, error) {
	switch a {
	case SHA1:
		return sha1.New, nil
	case SHA256, "":
		return sha256.New, nil
	case SHA512:
		return sha512.New, nil
	}
	return nil, fmt.Errorf("unsupported signature algorithm %q", a)
}

// Valid reports whether a names a supported algorithm. The empty string is
// valid and means the default.
func (a Algorithm) Valid() bool {
	_, err := a.hasher()
	return err == nil
}

// Sign computes the header value for body: "<algorithm>=<hex hmac>" over the
// exact raw bytes using the endpoint's shared secret.
func Sign(alg Algorithm, secret string, body []byte) (string, error) {
	h, err := alg.hasher()
	if err != nil {
		return "", err
	}
	if alg == "" {
		alg = Default
	}
	mac := hmac.New(h, []byte(secret))
	mac.Write(body)
	return string(alg) + "=" + hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the signature for body and compares it against header in
// constant time. The algorithm is taken from the header prefix.
func Verify(header, secret string, body []byte) bool {
	algName, _, ok := strings.Cut(header, "=")
	if !ok {
		return false
	}
	want, err := Sign(Algorithm(algName), secret, body)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(header), []byte(want))
}
