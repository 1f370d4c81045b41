package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenIssuer is the issuer claim of server bearer tokens
const TokenIssuer = "mcpwizard"

var ErrInvalidServerToken = errors.New("invalid server token")

// ServerClaims are carried by the bearer token a client uses to call its MCP server
type ServerClaims struct {
	OrganizationId string `json:"org"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 server tokens
type TokenService struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenService creates a token service. A zero ttl issues tokens without expiry.
func NewTokenService(signingKey string, ttl time.Duration) *TokenService {
	return &TokenService{
		key: []byte(signingKey),
		ttl: ttl,
		now: time.Now,
	}
}

// Issue signs a token scoped to one server
func (s *TokenService) Issue(serverId, organizationId string) (string, error) {
	now := s.now()
	claims := ServerClaims{
		OrganizationId: organizationId,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   TokenIssuer,
			Subject:  serverId,
			ID:       uuid.New().String(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign server token: %w", err)
	}
	return signed, nil
}

// Verify parses a server token and returns its claims
func (s *TokenService) Verify(token string) (*ServerClaims, error) {
	claims := &ServerClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	},
		jwt.WithIssuer(TokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServerToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidServerToken
	}
	return claims, nil
}
