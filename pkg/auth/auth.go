// Package auth implements the minimal login/verification surface for
// POST /api/v1/auth/token: a fixed operator credential set backed by
// config, issuing and verifying HMAC-signed JWTs. Header-based trust for
// dev/behind-a-proxy deployments is handled separately by Middleware,
// following the oauth2-proxy header convention.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCredentials is returned by Issuer.Login on a bad username or
// password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims is the JWT payload issued on successful login.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// Issuer issues and verifies bearer tokens for a single fixed operator
// account: a local bearer-token login backed by a fixed operator credential
// set from config.
type Issuer struct {
	secret       []byte
	ttl          time.Duration
	operatorUser string
	operatorPass string
}

// NewIssuer builds an Issuer. secret signs and verifies tokens; ttl bounds
// their lifetime; operatorUser/operatorPass are the only accepted login.
func NewIssuer(secret string, ttl time.Duration, operatorUser, operatorPass string) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, operatorUser: operatorUser, operatorPass: operatorPass}
}

// Login validates username/password against the configured operator
// account and issues a signed token on success.
func (i *Issuer) Login(username, password string) (string, error) {
	if username == "" || password == "" || username != i.operatorUser || password != i.operatorPass {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	claims := Claims{
		Subject: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify parses and validates a bearer token, returning its subject.
func (i *Issuer) Verify(raw string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidCredentials
	}
	return claims.Subject, nil
}
