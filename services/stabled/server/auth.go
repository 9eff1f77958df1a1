package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"hedgepool/crypto"
)

// AuthConfig enables HMAC signed JWTs. The subject claim carries the bech32
// account the token holder acts for.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

type accountKey struct{}

func accountFromContext(ctx context.Context) (crypto.Address, bool) {
	addr, ok := ctx.Value(accountKey{}).(crypto.Address)
	return addr, ok
}

// authenticate accepts either the static bearer token or a signed JWT. A
// token subject binds the request to that account.
func (s *Server) authenticate(next http.Handler) http.Handler {
	static := strings.TrimSpace(s.cfg.BearerToken)
	secret := []byte(strings.TrimSpace(s.cfg.Auth.JWTSecret))
	if static == "" && len(secret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(strings.TrimSpace(r.Header.Get("Authorization")), "Bearer ")
		presented = strings.TrimSpace(presented)
		if !ok || presented == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if static != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(static)) == 1 {
			next.ServeHTTP(w, r)
			return
		}
		if len(secret) == 0 {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		account, err := s.parseToken(presented, secret)
		if err != nil {
			s.logger.Debug("token rejected", "request_id", RequestIDFromContext(r.Context()), "error", err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, account)))
	})
}

func (s *Server) parseToken(raw string, secret []byte) (crypto.Address, error) {
	skew := s.cfg.Auth.ClockSkew
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(skew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer := strings.TrimSpace(s.cfg.Auth.Issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience := strings.TrimSpace(s.cfg.Auth.Audience); audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return crypto.Address{}, err
	}
	if !token.Valid {
		return crypto.Address{}, errors.New("token invalid")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return crypto.Address{}, errors.New("token subject missing")
	}
	addr, err := crypto.DecodeAddress(subject)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("token subject: %w", err)
	}
	return addr, nil
}
