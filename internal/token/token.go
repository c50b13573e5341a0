package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("session token expired")
)

// Claims carried by a session-scoped access token. Subject is the session
// ID, ID (jti) a random nonce so reissued tokens never collide.
type Claims struct {
	ProjectID string `json:"project_id"`
	jwt.RegisteredClaims
}

type Issuer interface {
	Issue(sessionID, projectID string, ttl time.Duration) (string, error)
	Verify(tokenString string) (*Claims, error)
}

var _ Issuer = (*HMACIssuer)(nil)

// HMACIssuer signs session tokens with HMAC-SHA256.
type HMACIssuer struct {
	secret []byte
	issuer string
}

func NewHMACIssuer(secret []byte, issuer string) *HMACIssuer {
	return &HMACIssuer{secret: secret, issuer: issuer}
}

func (i *HMACIssuer) Issue(sessionID, projectID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ProjectID: projectID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			Issuer:    i.issuer,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

func (i *HMACIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(i.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ProjectID == "" {
		return nil, fmt.Errorf("%w: missing session or project claim", ErrInvalidToken)
	}
	return claims, nil
}
