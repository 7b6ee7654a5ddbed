package auth

import (
	"errors"
	"fmt"
	"time"

	"voicebridge/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// clockSkew is tolerated on exp/iat/nbf.
const clockSkew = 30 * time.Second

var (
	ErrWrongTokenType   = errors.New("auth: wrong token type")
	ErrIncompleteClaims = errors.New("auth: incomplete claims")
)

// Manager issues and verifies HS256 tokens naming the acting user.
type Manager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration

	Now func() time.Time
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return &Manager{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		Now:        time.Now,
	}, nil
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// IssuePair mints an access token carrying role and a refresh token that
// carries only the user.
func (m *Manager) IssuePair(now time.Time, userID, role string) (TokenPair, error) {
	access, err := m.sign(now, m.accessTTL, Claims{UserID: userID, Role: role, TokenType: TokenTypeAccess})
	if err != nil {
		return TokenPair{}, fmt.Errorf("signing access token: %w", err)
	}
	refresh, err := m.sign(now, m.refreshTTL, Claims{UserID: userID, TokenType: TokenTypeRefresh})
	if err != nil {
		return TokenPair{}, fmt.Errorf("signing refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *Manager) sign(now time.Time, ttl time.Duration, c Claims) (string, error) {
	c.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if m.audience != "" {
		c.Audience = jwt.ClaimStrings{m.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
}

// Verify checks the signature, then the registered claims against now, then
// that the token is of the expected type and names a user (and, for access
// tokens, a role).
func (m *Manager) Verify(tokenString string, expected TokenType, now time.Time) (Claims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if err := m.validator(now).Validate(claims.RegisteredClaims); err != nil {
		return Claims{}, err
	}
	if claims.TokenType != expected {
		return Claims{}, fmt.Errorf("%w: got %q, want %q", ErrWrongTokenType, claims.TokenType, expected)
	}
	if claims.UserID == "" {
		return Claims{}, fmt.Errorf("%w: user_id", ErrIncompleteClaims)
	}
	if expected == TokenTypeAccess && claims.Role == "" {
		return Claims{}, fmt.Errorf("%w: role", ErrIncompleteClaims)
	}
	return claims, nil
}

// parse only checks the signature; the parser's own time checks would use
// the wall clock.
func (m *Manager) parse(tokenString string) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func (m *Manager) validator(now time.Time) *jwt.Validator {
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(clockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	return jwt.NewValidator(opts...)
}
