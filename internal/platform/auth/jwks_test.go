package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func jwksServer(t *testing.T, kid string, pub *rsa.PublicKey) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		json.NewEncoder(w).Encode(JWKSResponse{Keys: []JWKSKey{
			{Kty: "EC", Kid: "ignored"},
			{
				Kty: "RSA",
				Kid: kid,
				Alg: "RS256",
				N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		}})
	})
	var srv *httptest.Server
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"issuer": srv.URL, "jwks_uri": srv.URL + "/jwks"})
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestJWKSCache_GetKey(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv, hits := jwksServer(t, "k1", &priv.PublicKey)

	cache := NewJWKSCache(srv.URL+"/jwks", defaultJWKSCacheTTL)
	key, err := cache.GetKey("k1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if key.N.Cmp(priv.PublicKey.N) != 0 || key.E != priv.PublicKey.E {
		t.Error("fetched key does not match")
	}
	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatalf("cached GetKey: %v", err)
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
	if _, err := cache.GetKey("ignored"); err == nil {
		t.Error("expected non-RSA key to be skipped")
	}
}

func TestJWTMiddleware_JWKSDiscovery(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv, _ := jwksServer(t, "k1", &priv.PublicKey)

	claims := validClaims()
	claims.Issuer = srv.URL
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	c, err := runMiddleware(t, JWTConfig{Issuer: srv.URL}, "Bearer "+signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if UserIDFromContext(c.Request().Context()) != "user-123" {
		t.Error("expected subject in context")
	}

	hmac := createTestToken(t, claims, testSigningKey)
	_, err = runMiddleware(t, JWTConfig{Issuer: srv.URL}, "Bearer "+hmac)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestDiscoverJWKSURL_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"issuer":"x"}`))
	}))
	defer srv.Close()
	if _, err := DiscoverJWKSURL(srv.URL); err == nil {
		t.Error("expected error for missing jwks_uri")
	}

	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()
	if _, err := DiscoverJWKSURL(notFound.URL); err == nil {
		t.Error("expected error for 404")
	}
}
