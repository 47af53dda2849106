package auth

import (
	"net/http"
	"strings"

	sentinal_errors "sentinal-relay/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Headers set by the API gateway after it has validated the token.
const (
	HeaderGatewayUserID   = "X-Kong-Jwt-Claim-Uid"
	HeaderGatewayUsername = "X-Kong-Jwt-Claim-Sub"
)

// Identity is the authenticated caller of a request or socket.
type Identity struct {
	UserID   string
	Username string
	Token    string
}

type AccessClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret      []byte
	trustHeader bool
}

// NewVerifier validates HS256 access tokens signed with secret. When
// trustGateway is set, gateway identity headers are accepted as-is.
func NewVerifier(secret string, trustGateway bool) *Verifier {
	return &Verifier{secret: []byte(secret), trustHeader: trustGateway}
}

func (v *Verifier) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, sentinal_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, sentinal_errors.ErrUnauthorized
		}
		return v.secret, nil
	})
	if err != nil {
		return AccessClaims{}, sentinal_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return AccessClaims{}, sentinal_errors.ErrUnauthorized
	}
	return *claims, nil
}

// Authenticate resolves the caller from gateway headers (when trusted), a
// bearer header or the "jwt"/"token" query parameter, in that order.
func (v *Verifier) Authenticate(r *http.Request) (Identity, error) {
	token := TokenFromRequest(r)

	if v.trustHeader {
		if uid := strings.TrimSpace(r.Header.Get(HeaderGatewayUserID)); uid != "" {
			return Identity{
				UserID:   uid,
				Username: strings.TrimSpace(r.Header.Get(HeaderGatewayUsername)),
				Token:    token,
			}, nil
		}
	}

	claims, err := v.ParseAccessToken(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.UserID, Username: claims.Subject, Token: token}, nil
}

// TokenFromRequest returns the raw access token carried by r, if any.
func TokenFromRequest(r *http.Request) string {
	if token := extractBearer(r.Header.Get("Authorization")); token != "" {
		return token
	}
	q := r.URL.Query()
	if token := strings.TrimSpace(q.Get("jwt")); token != "" {
		return token
	}
	return strings.TrimSpace(q.Get("token"))
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
