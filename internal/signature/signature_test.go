package signature

import (
	"strings"
	"testing"
)

func TestSignFormat(t *testing.T) {
	tests := []struct {
		name   string
		alg    Algorithm
		prefix string
		hexLen int
	}{
		{"sha256", SHA256, "sha256=", 64},
		{"sha1", SHA1, "sha1=", 40},
		{"sha512", SHA512, "sha512=", 128},
		{"empty algorithm defaults to sha256", "", "sha256=", 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := Sign(tt.alg, "s3cr3t", []byte(`{"id":"c1"}`))
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			if !strings.HasPrefix(sig, tt.prefix) {
				t.Errorf("Sign() = %q, want prefix %q", sig, tt.prefix)
			}
			if got := len(strings.TrimPrefix(sig, tt.prefix)); got != tt.hexLen {
				t.Errorf("digest length = %d, want %d", got, tt.hexLen)
			}
		})
	}
}

func TestSignUnsupportedAlgorithm(t *testing.T) {
	if _, err := Sign("md5", "secret", []byte("body")); err == nil {
		t.Error("Sign() with md5 should fail")
	}
	if Algorithm("md5").Valid() {
		t.Error("md5 should not be a valid algorithm")
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"id":"c1","status":"published"}`)
	secret := "s3cr3t"

	for _, alg := range []Algorithm{SHA1, SHA256, SHA512} {
		sig, err := Sign(alg, secret, body)
		if err != nil {
			t.Fatalf("Sign(%s) error = %v", alg, err)
		}
		if !Verify(sig, secret, body) {
			t.Errorf("Verify(Sign(body)) = false for %s", alg)
		}
	}
}

func TestVerifyRejectsMutation(t *testing.T) {
	body := []byte(`{"id":"c1"}`)
	secret := "s3cr3t"
	sig, err := Sign(SHA256, secret, body)
	if err != nil {
		t.Fatal(err)
	}

	// Single-byte body mutation.
	mutated := append([]byte(nil), body...)
	mutated[2] ^= 0x01
	if Verify(sig, secret, mutated) {
		t.Error("Verify() accepted a mutated body")
	}

	// Wrong secret.
	if Verify(sig, "s3cr3u", body) {
		t.Error("Verify() accepted the wrong secret")
	}

	// Mutated signature.
	bad := []byte(sig)
	bad[len(bad)-1] ^= 0x01
	if Verify(string(bad), secret, body) {
		t.Error("Verify() accepted a mutated signature")
	}
}

func TestVerifyMalformedHeader(t *testing.T) {
	if Verify("not-a-signature", "secret", []byte("body")) {
		t.Error("Verify() accepted a header with no algorithm prefix")
	}
	if Verify("md5=abcdef", "secret", []byte("body")) {
		t.Error("Verify() accepted an unsupported algorithm")
	}
}
