package approval

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smilemakc/mbflow/pkg/models"
)

// TokenClaims binds an approval token to the exact ticket and assignee it
// was issued for, so a token can't be replayed against a different ticket
// or forwarded to a different approver.
type TokenClaims struct {
	jwt.RegisteredClaims
	TicketID    string `json:"ticket_id"`
	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
}

// TokenService signs and verifies HMAC approval tokens.
type TokenService struct {
	secret []byte
	issuer string
}

// NewTokenService creates a TokenService from the configured HMAC secret.
func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret), issuer: "mbflow-approval"}
}

// Sign issues a token binding ticketID to executionID, nodeID and assignee
// (carried as the JWT subject, so a token can only be redeemed by the
// assignee it was minted for), expiring at deadline.
func (s *TokenService) Sign(ticketID, executionID, nodeID, assignee string, issuedAt, deadline time.Time) (string, error) {
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   assignee,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(deadline),
		},
		TicketID:    ticketID,
		ExecutionID: executionID,
		NodeID:      nodeID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign approval token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates tokenStr, returning its claims. It does not
// check assignee identity on its own; callers that receive an assignee from
// the request (rather than trusting the token alone) should additionally
// compare it against claims.Subject.
func (s *TokenService) Verify(tokenStr string) (*TokenClaims, error) {
	claims := &TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrApprovalTicketExpired
		}
		return nil, models.ErrApprovalTokenInvalid
	}

	if !token.Valid {
		return nil, models.ErrApprovalTokenInvalid
	}

	return claims, nil
}
