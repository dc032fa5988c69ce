package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func TestJWTVerifierParse(t *testing.T) {
	v := JWTVerifier{Secret: []byte("k1")}

	good, err := v.Sign("alice", RoleAdmin)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := v.Parse(good)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "alice" || claims.Role != RoleAdmin {
		t.Fatalf("claims = %+v", claims)
	}

	otherKey, _ := JWTVerifier{Secret: []byte("k2")}.Sign("alice", "")
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}).SignedString([]byte("k1"))
	wrongAlg, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}).SignedString([]byte("k1"))

	for name, tok := range map[string]string{
		"wrong key": otherKey,
		"expired":   expired,
		"wrong alg": wrongAlg,
		"garbage":   "abc.def.ghi",
		"empty":     "",
	} {
		if _, err := v.Parse(tok); err == nil {
			t.Fatalf("%s: expected parse error", name)
		}
	}
}

func TestRequireAuthorInjectsSubject(t *testing.T) {
	s := &Server{verifier: JWTVerifier{Secret: []byte("k")}, logger: zap.NewNop()}

	var seen string
	h := s.requireAuthor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = AuthorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	noSubject, _ := s.verifier.Sign("", "")
	withSubject, _ := s.verifier.Sign("bob", "")
	cases := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Basic abc", http.StatusUnauthorized},
		{"Bearer " + noSubject, http.StatusUnauthorized},
		{"bearer " + withSubject, http.StatusNoContent},
	}
	for _, tt := range cases {
		seen = ""
		req := httptest.NewRequest(http.MethodPost, "/reviews", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.status {
			t.Fatalf("header %q: status = %d, want %d", tt.header, rec.Code, tt.status)
		}
		if tt.status == http.StatusNoContent && seen != "bob" {
			t.Fatalf("author = %q, want bob", seen)
		}
	}
}
