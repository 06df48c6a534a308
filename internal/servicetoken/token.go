// Package servicetoken issues and verifies short-lived JWTs for
// service-to-service calls, such as the internal extraction trigger.
package servicetoken

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultLeeway tolerates small clock skew between services.
const DefaultLeeway = 30 * time.Second

// DefaultTTL bounds how long an internal token stays valid.
const DefaultTTL = 5 * time.Minute

// Signer mints internal service tokens.
type Signer struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
}

// NewSigner builds a Signer from a shared key.
func NewSigner(key, issuer, audience string, ttl time.Duration) (*Signer, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("servicetoken: signing key required")
	}
	if issuer == "" || audience == "" {
		return nil, errors.New("servicetoken: issuer and audience required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{key: []byte(key), issuer: issuer, audience: audience, ttl: ttl}, nil
}

// Sign returns a signed token string.
func (s *Signer) Sign() (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}

// Verifier checks internal service tokens.
type Verifier struct {
	key            []byte
	audience       string
	allowedIssuers []string
	leeway         time.Duration
}

// NewVerifier builds a Verifier from the shared key.
func NewVerifier(key, audience string, allowedIssuers []string, leeway time.Duration) (*Verifier, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("servicetoken: verify key required")
	}
	if audience == "" {
		return nil, errors.New("servicetoken: audience required")
	}
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Verifier{key: []byte(key), audience: audience, allowedIssuers: allowedIssuers, leeway: leeway}, nil
}

// Verify parses and validates a token, returning its issuer.
func (v *Verifier) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.key, nil
	},
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("verify service token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("servicetoken: invalid token")
	}
	if len(v.allowedIssuers) > 0 {
		allowed := false
		for _, issuer := range v.allowedIssuers {
			if claims.Issuer == issuer {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", fmt.Errorf("servicetoken: issuer %q not allowed", claims.Issuer)
		}
	}
	return claims.Issuer, nil
}

// BearerToken extracts a bearer token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
