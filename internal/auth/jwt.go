package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when a request carries no token at all
	ErrMissingToken = errors.New("authorization token is required")

	// ErrInvalidToken is returned for tokens that fail signature or claim checks
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Identity is the authenticated caller. UserID is the notifier routing key.
type Identity struct {
	UserID string
	Email  string
	OrgID  string
	Role   string
}

// RoleAdmin may manage every video of its organization
const RoleAdmin = "admin"

// Claims carried by access tokens
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	OrgID  string `json:"org_id,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the caller described by the claims
func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Email: c.Email, OrgID: c.OrgID, Role: c.Role}
}

// Config holds signing settings
type Config struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
}

// TokenService signs and validates HS256 access tokens
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenService creates a token service
func NewTokenService(cfg Config) *TokenService {
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
	}
}

// GenerateAccessToken issues a token for the identity
func (ts *TokenService) GenerateAccessToken(id Identity) (string, error) {
	if id.UserID == "" {
		return "", errors.New("user id is required")
	}

	now := time.Now()
	claims := &Claims{
		UserID: id.UserID,
		Email:  id.Email,
		OrgID:  id.OrgID,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    ts.issuer,
			Subject:   id.UserID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ts.secret)
}

// ValidateToken parses and verifies a token
func (ts *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ExtractTokenFromHeader strips the Bearer prefix of an Authorization header
func (ts *TokenService) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingToken
	}

	const bearerPrefix = "Bearer "
	if len(authHeader) < len(bearerPrefix) || authHeader[:len(bearerPrefix)] != bearerPrefix {
		return "", errors.New("authorization header must start with Bearer")
	}

	return authHeader[len(bearerPrefix):], nil
}

// Authenticate validates the token of a request, taken from the Authorization
// header or, for browser websocket clients, the token query parameter
func (ts *TokenService) Authenticate(r *http.Request) (*Claims, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		tokenString, err := ts.ExtractTokenFromHeader(header)
		if err != nil {
			return nil, err
		}
		return ts.ValidateToken(tokenString)
	}

	tokenString := strings.TrimSpace(strings.TrimPrefix(r.URL.Query().Get("token"), "Bearer "))
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	return ts.ValidateToken(tokenString)
}
