package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Raas21/delay-prediction-api/config"
)

const (
	// RoleOperator may trigger training.
	RoleOperator = "operator"
	// RoleViewer may only read, e.g. the live feed.
	RoleViewer = "viewer"

	tokenIssuer = "delay-prediction-api"
)

var (
	ErrAuthDisabled = errors.New("jwt secret not configured")
	ErrUnknownRole  = errors.New("unknown role")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrForbidden    = errors.New("insufficient role")
)

// AuthService issues and checks HS256 tokens. Without a secret it is
// disabled and every request is allowed through.
type AuthService struct {
	secret []byte
	expiry time.Duration
	parser *jwt.Parser
	now    func() time.Time
}

func NewAuthService(cfg config.JWTConfig) *AuthService {
	return &AuthService{
		secret: []byte(cfg.Secret),
		expiry: time.Duration(cfg.ExpiryHours) * time.Hour,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
			jwt.WithExpirationRequired(),
		),
		now: time.Now,
	}
}

func (s *AuthService) Enabled() bool {
	return len(s.secret) > 0
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for subject acting as role.
func (s *AuthService) GenerateToken(subject, role string) (string, error) {
	if !s.Enabled() {
		return "", ErrAuthDisabled
	}
	if role != RoleOperator && role != RoleViewer {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	now := s.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateToken returns the claims of a well-formed, unexpired token issued
// by this service. Any failure is reported as ErrInvalidToken.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := s.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authorize validates tokenStr and, when role is non-empty, requires the
// token to carry it. Operators satisfy every role.
func (s *AuthService) Authorize(tokenStr, role string) (*Claims, error) {
	claims, err := s.ValidateToken(tokenStr)
	if err != nil {
		return nil, err
	}
	if role != "" && claims.Role != role && claims.Role != RoleOperator {
		return nil, ErrForbidden
	}
	return claims, nil
}
