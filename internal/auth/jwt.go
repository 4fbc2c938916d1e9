// Package auth provides authentication for incoming client connections.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/peppy/osu-server-spectator/internal/utils"
)

// JWT errors
var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("token has expired")
	ErrTokenGeneration = errors.New("failed to generate token")
)

// JWTConfig contains configuration for the JWT provider.
type JWTConfig struct {
	// Secret is the signing key for JWTs.
	Secret string `yaml:"secret" validate:"required"`

	// Issuer is the expected issuer of incoming tokens.
	Issuer string `yaml:"issuer"`

	// TokenDuration is the duration for which generated tokens are valid.
	// Only used by GenerateToken; incoming tokens carry their own expiry.
	TokenDuration time.Duration `yaml:"tokenDuration"`
}

// Claims are the token claims the server cares about. The user ID is
// carried in the standard subject claim as a decimal string.
type Claims struct {
	// Username is the display name of the authenticated user.
	Username string `json:"username"`

	jwt.RegisteredClaims
}

// UserID parses the numeric user ID out of the subject claim.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// JWTProvider validates and issues HS256-signed tokens.
type JWTProvider struct {
	config    JWTConfig
	validator *jwt.Validator
	logger    *utils.Logger
}

// NewJWTProvider creates a new JWT provider.
func NewJWTProvider(config JWTConfig, logger *utils.Logger) *JWTProvider {
	if config.TokenDuration == 0 {
		config.TokenDuration = 24 * time.Hour
	}
	return &JWTProvider{
		config:    config,
		validator: jwt.NewValidator(jwt.WithLeeway(time.Second)),
		logger:    logger.Named("jwt_provider"),
	}
}

// GenerateToken creates a new token for a user. Primarily used by tests
// and local tooling; production tokens come from the web frontend.
func (p *JWTProvider) GenerateToken(userID int64, username string) (string, error) {
	now := time.Now()

	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.config.Issuer,
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.config.TokenDuration)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        fmt.Sprintf("%d", now.UnixNano()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(p.config.Secret))
	if err != nil {
		p.logger.Error("Failed to sign JWT token", err, "userId", userID)
		return "", fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}

	return tokenString, nil
}

// ValidateToken validates a token string and returns its claims.
func (p *JWTProvider) ValidateToken(tokenString string) (*Claims, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(p.config.Secret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		p.logger.Debug("Failed to parse JWT token", "error", err.Error())
		return nil, ErrInvalidToken
	}

	if token == nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if err := p.validator.Validate(&claims); err != nil {
		p.logger.Debug("Failed to validate JWT claims", "error", err.Error())
		return nil, ErrInvalidToken
	}

	return &claims, nil
}

// GetUserIDFromToken validates a token and extracts the numeric user ID.
func (p *JWTProvider) GetUserIDFromToken(tokenString string) (int64, error) {
	claims, err := p.ValidateToken(tokenString)
	if err != nil {
		return 0, err
	}
	return claims.UserID()
}
