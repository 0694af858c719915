package usecase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/loverose/auth-service/internal/core/domain"
	"github.com/loverose/auth-service/internal/infra/config"
	"github.com/loverose/auth-service/internal/infra/security"
)

var (
	// ErrInvalidAccessToken indicates the access token is malformed or signature validation failed.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrExpiredAccessToken indicates the access token has expired.
	ErrExpiredAccessToken = errors.New("access token expired")
)

// AccessTokenClaims augments registered claims with the bearer's identity.
type AccessTokenClaims struct {
	Roles  []string `json:"roles,omitempty"`
	UserID string   `json:"uid"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies the stateless access tokens. Verification
// is entirely offline: a valid signature plus time-window check, no storage
// round trip.
type TokenService struct {
	cfg  *config.AppConfig
	keys security.KeyProvider
	now  func() time.Time
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(cfg *config.AppConfig, keyProvider security.KeyProvider) *TokenService {
	return &TokenService{
		cfg:  cfg,
		keys: keyProvider,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock for deterministic tests.
func (s *TokenService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// AccessTokenTTL returns the configured access token lifetime.
func (s *TokenService) AccessTokenTTL() time.Duration {
	if s.cfg != nil && s.cfg.JWT.AccessTokenTTL > 0 {
		return s.cfg.JWT.AccessTokenTTL
	}
	return 15 * time.Minute
}

// IssueAccessToken signs an RS256 access token for the user.
func (s *TokenService) IssueAccessToken(user domain.User) (string, error) {
	if user.ID == "" {
		return "", fmt.Errorf("user id is required")
	}

	now := s.now().UTC()

	claimAudience := jwt.ClaimStrings{}
	if name := s.issuer(); name != "" {
		claimAudience = append(claimAudience, name)
	}

	claims := AccessTokenClaims{
		Roles:  []string{string(user.Role)},
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.issuer(),
			Audience:  claimAudience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.AccessTokenTTL())),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keys.SigningKID()

	signingKey, err := s.keys.GetSigningKey()
	if err != nil {
		return "", fmt.Errorf("get signing key: %w", err)
	}

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ParseAccessToken validates the signature, issuer, audience, and time window
// of an access token and returns its claims. Expiry is reported distinctly
// from every other failure so callers can hint the client to refresh.
func (s *TokenService) ParseAccessToken(token string) (*AccessTokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidAccessToken
	}

	claims := &AccessTokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}

		kid, ok := t.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("kid header not found")
		}

		return s.keys.GetVerificationKey(kid)
	},
		jwt.WithIssuer(s.issuer()),
		jwt.WithAudience(s.issuer()),
		jwt.WithLeeway(s.clockSkew()),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredAccessToken
		}
		return nil, ErrInvalidAccessToken
	}

	if parsed == nil || !parsed.Valid {
		return nil, ErrInvalidAccessToken
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrInvalidAccessToken
	}

	return claims, nil
}

func (s *TokenService) issuer() string {
	if s.cfg == nil {
		return ""
	}
	return s.cfg.App.Name
}

func (s *TokenService) clockSkew() time.Duration {
	if s.cfg != nil && s.cfg.JWT.ClockSkew > 0 {
		return s.cfg.JWT.ClockSkew
	}
	return 0
}
