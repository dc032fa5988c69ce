package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
)

// RoleAdmin may create games and trigger a recompute.
const RoleAdmin = "admin"

type ctxKeyAuthor struct{}
type ctxKeyRole struct{}

// AuthorFromContext returns the authenticated author id.
func AuthorFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyAuthor{}).(string)
	return v, ok
}

func roleFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRole{}).(string)
	return v
}

// Claims identify the caller. The subject is the author id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// JWTVerifier checks HS256 bearer tokens.
type JWTVerifier struct {
	Secret []byte
}

func (v JWTVerifier) Parse(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return v.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Sign issues a token for subject. Used by tooling and tests.
func (v JWTVerifier) Sign(subject, role string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		Role:             role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.Secret)
}

// requireAuthor validates the bearer token and puts the author into the context.
func (s *Server) requireAuthor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
			return
		}
		claims, err := s.verifier.Parse(strings.TrimSpace(parts[1]))
		if err != nil || strings.TrimSpace(claims.Subject) == "" {
			s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyAuthor{}, claims.Subject)
		if role := strings.TrimSpace(claims.Role); role != "" {
			ctx = context.WithValue(ctx, ctxKeyRole{}, role)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole must run after requireAuthor.
func (s *Server) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if roleFromContext(r.Context()) != role {
				s.respondError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
