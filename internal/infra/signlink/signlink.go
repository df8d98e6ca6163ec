// Package signlink mints and verifies the expiring tokens embedded in
// tenant signing links. Tokens are HS256 JWTs carrying the lease and tenant
// identity; possession of a live token is what authorizes the tenant
// signing endpoints.
package signlink

import (
	"errors"
	"fmt"
	"time"

	"leasecore/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

const tokenPurpose = "lease_signing"

type Claims struct {
	LeaseID string `json:"lease_id"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewManager(secret []byte, issuer string, now func() time.Time) (*Manager, error) {
	if len(secret) < 32 {
		return nil, errors.New("signing link secret must be at least 32 bytes")
	}
	if issuer == "" {
		issuer = "leasecore"
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{secret: secret, issuer: issuer, now: now}, nil
}

// Issue mints a token for one lease and tenant. The token is single-purpose
// and carries no other grants.
func (m *Manager) Issue(leaseID, tenantID string, expiry time.Duration) (string, time.Time, error) {
	if leaseID == "" {
		return "", time.Time{}, errors.New("lease_id is required")
	}
	if expiry <= 0 {
		return "", time.Time{}, errors.New("expiry must be positive")
	}
	now := m.now().UTC()
	expiresAt := now.Add(expiry)
	claims := Claims{
		LeaseID: leaseID,
		Purpose: tokenPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign link token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify parses a presented token and returns its claims. Expired, unsigned
// or wrong-purpose tokens yield domain.ErrNotAuthorized.
func (m *Manager) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(func() time.Time { return m.now().UTC() }),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !parsed.Valid {
		return nil, domain.ErrNotAuthorized
	}
	if claims.Purpose != tokenPurpose || claims.LeaseID == "" {
		return nil, domain.ErrNotAuthorized
	}
	return claims, nil
}
