package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smilemakc/mbflow/internal/config"
	"github.com/smilemakc/mbflow/pkg/models"
)

var (
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrInvalidToken     = errors.New("invalid token")
)

// JWTClaims are the custom claims carried by an access token, on top of the
// standard registered claims (subject, issuer, iat/exp/nbf).
type JWTClaims struct {
	jwt.RegisteredClaims
	UserID   string   `json:"user_id"`
	Email    string   `json:"email"`
	Username string   `json:"username"`
	IsAdmin  bool     `json:"is_admin"`
	Roles    []string `json:"roles,omitempty"`
}

// JWTService issues and validates access tokens, and mints opaque refresh tokens.
type JWTService struct {
	secret            []byte
	issuer            string
	accessExpiryHrs   int
	refreshExpiryDays int
}

// NewJWTService creates a JWTService from auth configuration. IssuerURL
// defaults to "mbflow" when unset.
func NewJWTService(cfg *config.AuthConfig) *JWTService {
	issuer := cfg.IssuerURL
	if issuer == "" {
		issuer = "mbflow"
	}

	return &JWTService{
		secret:            []byte(cfg.JWTSecret),
		issuer:            issuer,
		accessExpiryHrs:   cfg.JWTExpirationHours,
		refreshExpiryDays: cfg.RefreshExpiryDays,
	}
}

// GenerateAccessToken issues a signed JWT carrying the user's identity and roles.
func (s *JWTService) GenerateAccessToken(user *models.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(time.Duration(s.accessExpiryHrs) * time.Hour)

	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
		},
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
		Roles:    user.Roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// ValidateAccessToken parses and verifies tokenStr, rejecting expired,
// not-yet-valid, or improperly signed tokens.
func (s *JWTService) ValidateAccessToken(tokenStr string) (*JWTClaims, error) {
	claims := &JWTClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, ErrTokenNotYetValid
		default:
			return nil, ErrInvalidToken
		}
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ExtractClaimsFromExpiredToken parses tokenStr without verifying its
// signature or expiry, for refresh flows that need the identity of an
// expired access token.
func (s *JWTService) ExtractClaimsFromExpiredToken(tokenStr string) (*JWTClaims, error) {
	claims := &JWTClaims{}

	_, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	return claims, nil
}

// GenerateRefreshToken creates a random, hex-encoded opaque refresh token.
func (s *JWTService) GenerateRefreshToken() (string, time.Time, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	expiresAt := time.Now().Add(time.Duration(s.refreshExpiryDays) * 24 * time.Hour)
	return hex.EncodeToString(buf), expiresAt, nil
}

// GetAccessTokenExpiry returns the access token lifetime in seconds.
func (s *JWTService) GetAccessTokenExpiry() int {
	return s.accessExpiryHrs * 3600
}

// GetRefreshTokenExpiry returns the refresh token lifetime in seconds.
func (s *JWTService) GetRefreshTokenExpiry() int {
	return s.refreshExpiryDays * 86400
}
