// Package auth issues and verifies the HS256 bearer tokens used by the API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/config"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired      = errors.New("token has expired")
	ErrTokenInvalid      = errors.New("token is invalid")
	ErrTokenTypeMismatch = errors.New("wrong token type")
)

// Clock skew tolerated between API replicas on exp, nbf and iat.
const clockLeeway = 10 * time.Second

type tokenKind string

const (
	kindAccess  tokenKind = "access"
	kindRefresh tokenKind = "refresh"
)

// sessionClaims is the wire form. The subject carries the user id.
type sessionClaims struct {
	jwt.RegisteredClaims
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
	Kind     tokenKind `json:"token_type"`
}

func (c *sessionClaims) toDomain() (*domain.Claims, error) {
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	role := domain.Role(c.Role)
	if !role.IsValid() {
		return nil, ErrTokenInvalid
	}
	return &domain.Claims{
		UserID:   userID,
		Username: c.Username,
		Email:    c.Email,
		Role:     role,
	}, nil
}

type JWTManager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	parser     *jwt.Parser
	now        func() time.Time
}

func NewJWTManager(cfg config.JWTConfig) *JWTManager {
	return &JWTManager{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(clockLeeway),
		),
		now: time.Now,
	}
}

// GenerateTokenPair signs an access and a refresh token for the same
// identity. ExpiresAt refers to the access token.
func (m *JWTManager) GenerateTokenPair(claims *domain.Claims) (*domain.TokenPair, error) {
	issuedAt := m.now()

	access, err := m.sign(claims, kindAccess, issuedAt, m.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}
	refresh, err := m.sign(claims, kindRefresh, issuedAt, m.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("signing refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    issuedAt.Add(m.accessTTL),
		TokenType:    "Bearer",
	}, nil
}

func (m *JWTManager) ValidateAccessToken(raw string) (*domain.Claims, error) {
	return m.verify(raw, kindAccess)
}

func (m *JWTManager) ValidateRefreshToken(raw string) (*domain.Claims, error) {
	return m.verify(raw, kindRefresh)
}

func (m *JWTManager) sign(claims *domain.Claims, kind tokenKind, issuedAt time.Time, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   claims.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		Username: claims.Username,
		Email:    claims.Email,
		Role:     string(claims.Role),
		Kind:     kind,
	})
	return token.SignedString(m.secret)
}

func (m *JWTManager) verify(raw string, want tokenKind) (*domain.Claims, error) {
	var sc sessionClaims
	_, err := m.parser.ParseWithClaims(raw, &sc, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, ErrTokenInvalid
	}

	if sc.Kind != want {
		return nil, ErrTokenTypeMismatch
	}
	return sc.toDomain()
}
