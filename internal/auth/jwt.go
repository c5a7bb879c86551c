// Package auth issues and validates credentials for the solve dashboard:
// JWTs whose claims carry the run kinds a client may submit, the bearer
// middleware that enforces them, and the OAuth login flow that mints
// identities.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("missing authorization token")
)

// tokenIssuer names tokens minted by this service; tokens from anything
// else are rejected even when the secret matches.
const tokenIssuer = "stackplan"

// Claims holds the JWT payload for a dashboard client.
type Claims struct {
	UserID   string `json:"user_id"`
	Provider string `json:"provider,omitempty"`

	// Kinds lists the run kinds this token may submit (dobss, cost,
	// uniform, whattofix, schedule). Empty grants every kind.
	Kinds []string `json:"kinds,omitempty"`

	jwt.RegisteredClaims
}

// AllowsKind reports whether the token may submit runs of the given kind.
func (c *Claims) AllowsKind(kind string) bool {
	if len(c.Kinds) == 0 {
		return true
	}
	for _, k := range c.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// JWTManager handles token creation and validation.
type JWTManager struct {
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

// NewJWTManager creates a JWTManager with the given secret.
func NewJWTManager(secret string) *JWTManager {
	return &JWTManager{
		secret:        []byte(secret),
		accessExpiry:  15 * time.Minute,
		refreshExpiry: 7 * 24 * time.Hour,
	}
}

// GenerateAccessToken creates a short-lived access token for a client,
// restricted to the given run kinds (nil grants all).
func (m *JWTManager) GenerateAccessToken(userID, provider string, kinds []string) (string, error) {
	return m.generate(userID, provider, kinds, m.accessExpiry)
}

// GenerateRefreshToken creates a long-lived refresh token carrying the same
// grants.
func (m *JWTManager) GenerateRefreshToken(userID, provider string, kinds []string) (string, error) {
	return m.generate(userID, provider, kinds, m.refreshExpiry)
}

func (m *JWTManager) generate(userID, provider string, kinds []string, expiry time.Duration) (string, error) {
	claims := &Claims{
		UserID:   userID,
		Provider: provider,
		Kinds:    kinds,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and validates a JWT string, returning the claims.
// Tokens without the stackplan issuer are rejected.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Issuer != tokenIssuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenPair holds an access and refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

// GenerateTokenPair creates both tokens for a client.
func (m *JWTManager) GenerateTokenPair(userID, provider string, kinds []string) (*TokenPair, error) {
	access, err := m.GenerateAccessToken(userID, provider, kinds)
	if err != nil {
		return nil, err
	}
	refresh, err := m.GenerateRefreshToken(userID, provider, kinds)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(m.accessExpiry.Seconds()),
	}, nil
}
