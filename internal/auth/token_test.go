package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	sentinal_errors "sentinal-relay/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims AccessClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func validClaims() AccessClaims {
	return AccessClaims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestAuthenticateQueryToken(t *testing.T) {
	v := NewVerifier("secret", false)
	token := signToken(t, "secret", jwt.SigningMethodHS256, validClaims())

	req := httptest.NewRequest("GET", "/ws?jwt="+token, nil)
	id, err := v.Authenticate(req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.UserID != "user-1" || id.Username != "alice" || id.Token != token {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestAuthenticateBearerHeader(t *testing.T) {
	v := NewVerifier("secret", false)
	token := signToken(t, "secret", jwt.SigningMethodHS256, validClaims())

	req := httptest.NewRequest("GET", "/v1/calls", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if _, err := v.Authenticate(req); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	v := NewVerifier("secret", false)
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noUID := validClaims()
	noUID.UserID = ""

	cases := map[string]string{
		"missing":      "",
		"wrong secret": signToken(t, "other", jwt.SigningMethodHS256, validClaims()),
		"expired":      signToken(t, "secret", jwt.SigningMethodHS256, expired),
		"no uid":       signToken(t, "secret", jwt.SigningMethodHS256, noUID),
		"garbage":      "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws?jwt="+token, nil)
			if _, err := v.Authenticate(req); !errors.Is(err, sentinal_errors.ErrUnauthorized) {
				t.Fatalf("expected unauthorized, got %v", err)
			}
		})
	}
}

func TestGatewayHeadersOnlyWhenTrusted(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set(HeaderGatewayUserID, "user-9")
	req.Header.Set(HeaderGatewayUsername, "bob")

	if _, err := NewVerifier("secret", false).Authenticate(req); err == nil {
		t.Fatal("gateway headers must be ignored when not trusted")
	}

	id, err := NewVerifier("secret", true).Authenticate(req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.UserID != "user-9" || id.Username != "bob" {
		t.Fatalf("unexpected identity %+v", id)
	}
}
