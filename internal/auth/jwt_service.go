package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/soulline/lifeline/internal/identity"
	"github.com/soulline/lifeline/internal/roles"
)

// DefaultAccessTokenTTL defines the fallback validity period for access tokens.
const DefaultAccessTokenTTL = 15 * time.Minute

// JWTConfig bundles the configuration required to build a JWTService.
type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
	Clock          func() time.Time
}

// Claims carries the actor identity embedded in issued tokens. The call
// engine trusts the platform to authenticate actors; the token only conveys
// who they are and which role they hold.
type Claims struct {
	ActorID string `json:"aid"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// TokenInput holds the parameters used when generating a new access token.
type TokenInput struct {
	ActorID  string
	Role     roles.Role
	Audience []string
}

// JWTService issues and validates the HS256 tokens actors present on every
// API and WebSocket request.
type JWTService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService constructs a JWTService instance.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// GenerateToken issues a signed JWT for the actor.
func (s *JWTService) GenerateToken(input TokenInput) (string, error) {
	if input.ActorID == "" {
		return "", errors.New("jwt: actor id is required")
	}
	if _, err := roles.Parse(string(input.Role)); err != nil {
		return "", err
	}

	now := s.now()
	claims := &Claims{
		ActorID: input.ActorID,
		Role:    string(input.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   input.ActorID,
			Issuer:    s.issuer,
			Audience:  input.Audience,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a signed JWT, returning its claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("jwt: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: parse token: %w", err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, errors.New("jwt: invalid issuer")
	}
	if claims.ActorID == "" {
		return nil, errors.New("jwt: missing actor id claim")
	}
	if _, err := roles.Parse(claims.Role); err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}

	return &claims, nil
}

// Actor resolves validated claims into an Actor with its capability set.
func (c *Claims) Actor() (identity.Actor, error) {
	role, err := roles.Parse(c.Role)
	if err != nil {
		return identity.Actor{}, err
	}
	return identity.NewActor(c.ActorID, role), nil
}
