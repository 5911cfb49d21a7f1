package usertoken

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func toJWK(kid string, pub rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func signUserToken(t *testing.T, key *rsa.PrivateKey, kid, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "issuer-a",
		Audience:  jwt.ClaimStrings{"aud-a"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Second)),
	})
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestNewVerifierRequiresJWKSURL(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("expected missing jwks url to fail")
	}
}

func TestVerifySubjectRefreshesOnUnknownKid(t *testing.T) {
	key1, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key1: %v", err)
	}
	key2, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key2: %v", err)
	}

	activeKid := "kid-1"
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		pub := key1.PublicKey
		if activeKid == "kid-2" {
			pub = key2.PublicKey
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK(activeKid, pub)}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{JWKSURL: jwksServer.URL, Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	if sub, err := v.VerifySubject(signUserToken(t, key1, "kid-1", "user-a")); err != nil || sub != "user-a" {
		t.Fatalf("verify with initial key: sub=%q err=%v", sub, err)
	}

	// Key rotation: the unknown kid must trigger a jwks refresh.
	activeKid = "kid-2"
	if sub, err := v.VerifySubject(signUserToken(t, key2, "kid-2", "user-b")); err != nil || sub != "user-b" {
		t.Fatalf("verify after rotation: sub=%q err=%v", sub, err)
	}
}

func TestVerifySubjectRejectsWrongAudience(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK("kid-1", key.PublicKey)}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{JWKSURL: jwksServer.URL, Issuer: "issuer-a", Audience: "other-aud"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := v.VerifySubject(signUserToken(t, key, "kid-1", "user-a")); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
}
