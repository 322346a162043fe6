package utils

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestCheckPassword(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"short", false},
		{"1234567", false},
		{"12345678", true},
		{"correct horse battery", true},
		{strings.Repeat("x", 73), false},
	}
	for _, tc := range cases {
		if err := CheckPassword(tc.in); (err == nil) != tc.ok {
			t.Fatalf("CheckPassword(%q) = %v, want ok=%v", tc.in, err, tc.ok)
		}
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("scanner pass", 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !VerifyPassword(hash, "scanner pass") {
		t.Fatalf("correct password rejected")
	}
	if VerifyPassword(hash, "scanner pas") || VerifyPassword("not-a-hash", "scanner pass") {
		t.Fatalf("wrong password or hash accepted")
	}
}

func TestRandomURLToken(t *testing.T) {
	a, err := RandomURLToken(16)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	b, _ := RandomURLToken(16)
	if a == b {
		t.Fatalf("two tokens are equal")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil || len(raw) != 16 {
		t.Fatalf("token %q decodes to %d bytes (%v)", a, len(raw), err)
	}
}

func TestHashHelpers(t *testing.T) {
	h := SHA256Hex("abc")
	if h != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("SHA256Hex = %s", h)
	}
	if !EqualHash(h, HashRefreshRaw("abc")) || EqualHash(h, SHA256Hex("abd")) {
		t.Fatalf("EqualHash mismatch")
	}
	r, err := NewRefreshToken(7)
	if err != nil || len(r.Raw) != 96 {
		t.Fatalf("refresh token %q (%v)", r.Raw, err)
	}
}

func TestNewAccessToken(t *testing.T) {
	tok, err := NewAccessToken("s3cret", 7, "COUNTER", 15)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parsed, err := jwt.Parse(tok.Token, func(*jwt.Token) (interface{}, error) { return []byte("s3cret"), nil })
	if err != nil || !parsed.Valid {
		t.Fatalf("parse: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["sub"].(float64) != 7 || claims["role"] != "COUNTER" {
		t.Fatalf("claims = %v", claims)
	}
	if tok.Exp.IsZero() {
		t.Fatalf("expiry not set")
	}
}

func TestRenderQRDataURI(t *testing.T) {
	uri, err := RenderQRDataURI("zqr_abcdef", 64)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(uri, prefix) {
		t.Fatalf("uri = %.40s", uri)
	}
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	if err != nil || !strings.HasPrefix(string(png), "\x89PNG") {
		t.Fatalf("payload is not a PNG (%v)", err)
	}
}
