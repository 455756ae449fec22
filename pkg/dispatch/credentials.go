package dispatch

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/joeydtaylor/hermes/pkg/manifest"
)

// credentials decorate an outbound attempt with downstream auth.
type credentials interface {
	apply(h http.Header, deliveryID string, now time.Time) error
}

type noCredentials struct{}

func (noCredentials) apply(http.Header, string, time.Time) error { return nil }

type staticBearer struct {
	header string
	token  string
}

func (s staticBearer) apply(h http.Header, _ string, _ time.Time) error {
	h.Set(s.header, "Bearer "+s.token)
	return nil
}

// jwtMinter signs a short-lived HS256 token per attempt.
type jwtMinter struct {
	header   string
	secret   []byte
	issuer   string
	audience string
	subject  string
	ttl      time.Duration
}

func (j jwtMinter) apply(h http.Header, deliveryID string, now time.Time) error {
	claims := jwt.RegisteredClaims{
		Issuer:    j.issuer,
		Subject:   j.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		ID:        deliveryID,
	}
	if j.audience != "" {
		claims.Audience = jwt.ClaimStrings{j.audience}
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return fmt.Errorf("sign downstream jwt: %w", err)
	}
	h.Set(j.header, "Bearer "+tok)
	return nil
}

// newCredentials resolves secrets from the environment once, at startup.
func newCredentials(a *manifest.TargetAuth) (credentials, error) {
	if a == nil || a.Type == "" || a.Type == manifest.AuthNone {
		return noCredentials{}, nil
	}
	header := strings.TrimSpace(a.Header)
	if header == "" {
		header = "Authorization"
	}
	switch a.Type {
	case manifest.AuthStaticBearer:
		tok := strings.TrimSpace(os.Getenv(a.TokenEnv))
		if tok == "" {
			return nil, fmt.Errorf("auth: %s is empty", a.TokenEnv)
		}
		return staticBearer{header: header, token: tok}, nil
	case manifest.AuthJWT:
		secret := os.Getenv(a.SecretEnv)
		if secret == "" {
			return nil, fmt.Errorf("auth: %s is empty", a.SecretEnv)
		}
		ttl := time.Duration(a.TTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 60 * time.Second
		}
		return jwtMinter{
			header:   header,
			secret:   []byte(secret),
			issuer:   a.Issuer,
			audience: a.Audience,
			subject:  a.Subject,
			ttl:      ttl,
		}, nil
	default:
		return nil, fmt.Errorf("auth: unsupported type %q", a.Type)
	}
}
