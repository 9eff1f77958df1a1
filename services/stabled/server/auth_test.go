package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"hedgepool/core/coretest"
	"hedgepool/crypto"
)

const testSecret = "jwt-test-secret"

func signToken(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func validClaims(subject crypto.Address) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject.String(),
		Issuer:    "stabled",
		Audience:  jwt.ClaimStrings{"api"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func (h *harness) withToken(t *testing.T, method, path, token string, account crypto.Address, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := h.request(t, method, path, account, body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestJWTBindsCallerAccount(t *testing.T) {
	h := newHarness(t, Config{Auth: AuthConfig{JWTSecret: testSecret, Issuer: "stabled", Audience: "api"}})
	seller := coretest.Account(t)
	h.env.Fund(seller, 1_000_000)
	sell := map[string]string{"asset": "WETH", "amount": "500000"}

	token := signToken(t, validClaims(seller))
	rec := h.withToken(t, http.MethodPost, "/v1/swap/sell", token, crypto.Address{}, sell)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.withToken(t, http.MethodPost, "/v1/swap/sell", token, seller, sell)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.withToken(t, http.MethodPost, "/v1/swap/sell", token, coretest.Account(t), sell)
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
}

func TestJWTRejectsBadTokens(t *testing.T) {
	h := newHarness(t, Config{Auth: AuthConfig{JWTSecret: testSecret, Issuer: "stabled", Audience: "api"}})
	subject := coretest.Account(t)

	wrongIssuer := validClaims(subject)
	wrongIssuer.Issuer = "elsewhere"
	wrongAudience := validClaims(subject)
	wrongAudience.Audience = jwt.ClaimStrings{"web"}
	expired := validClaims(subject)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	noExpiry := validClaims(subject)
	noExpiry.ExpiresAt = nil
	badSubject := validClaims(subject)
	badSubject.Subject = "not-an-address"

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims(subject)).SignedString([]byte("other"))
	require.NoError(t, err)

	cases := map[string]string{
		"issuer":    signToken(t, wrongIssuer),
		"audience":  signToken(t, wrongAudience),
		"expired":   signToken(t, expired),
		"no expiry": signToken(t, noExpiry),
		"subject":   signToken(t, badSubject),
		"signature": foreign,
		"garbage":   "abc.def.ghi",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			rec := h.withToken(t, http.MethodGet, "/v1/assets", token, crypto.Address{}, nil)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	rec := h.withToken(t, http.MethodGet, "/v1/assets", signToken(t, validClaims(subject)), crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStaticTokenAlongsideJWT(t *testing.T) {
	h := newHarness(t, Config{BearerToken: "static", Auth: AuthConfig{JWTSecret: testSecret}})
	account := coretest.Account(t)

	rec := h.withToken(t, http.MethodGet, "/v1/assets", "static", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	claims := validClaims(account)
	claims.Issuer, claims.Audience = "", nil
	rec = h.withToken(t, http.MethodGet, "/v1/assets", signToken(t, claims), crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.withToken(t, http.MethodGet, "/v1/assets", "wrong", crypto.Address{}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
