package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// Scope is a permission carried by an operator token.
type Scope string

const (
	ScopeTileControl Scope = "tiles:control"
	ScopeRead        Scope = "read"
)

// AuthService issues and validates operator tokens for the control API.
type AuthService interface {
	GenerateToken(operator string, scopes ...Scope) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	Authorize(claims *Claims, required Scope) error
}

type Claims struct {
	Operator string  `json:"operator"`
	Scopes   []Scope `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) HasScope(scope Scope) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type authService struct {
	jwtSecret []byte
	issuer    string
	tokenTTL  time.Duration
	now       func() time.Time
}

func NewAuthService(jwtSecret, issuer string, tokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		issuer:    issuer,
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

func (s *authService) GenerateToken(operator string, scopes ...Scope) (string, error) {
	if operator == "" {
		return "", ErrUnauthorized
	}
	if len(scopes) == 0 {
		scopes = []Scope{ScopeRead}
	}

	now := s.now()
	claims := &Claims{
		Operator: operator,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   operator,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(s.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Operator != "" {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// Authorize checks that the token grants the required scope. Tile control
// implies read access.
func (s *authService) Authorize(claims *Claims, required Scope) error {
	if claims == nil {
		return ErrUnauthorized
	}
	if claims.HasScope(required) {
		return nil
	}
	if required == ScopeRead && claims.HasScope(ScopeTileControl) {
		return nil
	}
	return ErrUnauthorized
}
