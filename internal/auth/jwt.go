package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleUser  = "user"
	RoleGuest = "guest"

	defaultTokenTTL = 7 * 24 * time.Hour
	minSecretLength = 16
)

// Claims represents the claims in our session token
type Claims struct {
	AccountID string `json:"account_id"`
	Role      string `json:"role"` // "user" or "guest"
	jwt.RegisteredClaims
}

// Issuer signs and validates session tokens
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an Issuer. A zero ttl uses seven days.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("JWT secret must be at least %d characters", minSecretLength)
	}
	if ttl == 0 {
		ttl = defaultTokenTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue generates a token for accountID
func (i *Issuer) Issue(accountID, role string) (string, time.Time, error) {
	if accountID == "" {
		return "", time.Time{}, errors.New("account ID cannot be empty")
	}
	if role != RoleUser && role != RoleGuest {
		return "", time.Time{}, fmt.Errorf("unknown role %q", role)
	}

	now := time.Now()
	expiresAt := now.Add(i.ttl)
	claims := &Claims{
		AccountID: accountID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate validates a token and returns its claims
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.AccountID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
