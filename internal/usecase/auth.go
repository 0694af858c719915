package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loverose/auth-service/internal/core/domain"
	"github.com/loverose/auth-service/internal/core/port"
	"github.com/loverose/auth-service/internal/infra/config"
	applogger "github.com/loverose/auth-service/internal/infra/logger"
	"github.com/loverose/auth-service/internal/infra/security"
	"github.com/loverose/auth-service/internal/infra/telemetry"
	"github.com/loverose/auth-service/internal/repository"
)

const (
	loginRateLimitScope   = "login"
	refreshRateLimitScope = "refresh"

	logoutReason    = "logout"
	reuseReason     = "token_reuse"
	defaultTokenTyp = "Bearer"
)

var (
	// ErrInvalidCredentials indicates the provided email or password are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInactiveAccount indicates the account is disabled and may not authenticate.
	ErrInactiveAccount = errors.New("account is not active")
	// ErrInvalidRefreshToken indicates the presented refresh token does not exist or was revoked.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrExpiredRefreshToken indicates the presented refresh token has expired.
	ErrExpiredRefreshToken = errors.New("refresh token expired")
	// ErrRefreshTokenReuse indicates an already-consumed refresh token was
	// presented again. The whole token family is revoked when this is returned.
	ErrRefreshTokenReuse = errors.New("refresh token reuse detected")
)

// TokenPair is the credential set handed to a client after login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
}

// LoginResult couples the issued credentials with the authenticated user.
type LoginResult struct {
	Tokens TokenPair
	User   domain.User
}

// AuthService coordinates session issuance: credential verification, refresh
// token rotation, and logout.
type AuthService struct {
	cfg        *config.AppConfig
	users      port.UserRepository
	tokens     port.TokenRepository
	rateLimits port.RateLimitStore
	events     port.EventPublisher
	identities port.IdentityCache
	issuer     *TokenService
	metrics    *telemetry.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	cfg *config.AppConfig,
	users port.UserRepository,
	tokens port.TokenRepository,
	rateLimits port.RateLimitStore,
	events port.EventPublisher,
	identities port.IdentityCache,
	issuer *TokenService,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &AuthService{
		cfg:        cfg,
		users:      users,
		tokens:     tokens,
		rateLimits: rateLimits,
		events:     events,
		identities: identities,
		issuer:     issuer,
		metrics:    metrics,
		logger:     logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
		if s.issuer != nil {
			s.issuer.WithClock(clock)
		}
	}
}

// Login verifies the credentials and establishes a new session: a signed
// access token plus a fresh refresh token opening a new rotation family.
// Lookup misses and password mismatches collapse into the same error so the
// response does not reveal whether the email is registered.
func (s *AuthService) Login(ctx context.Context, email, password string, client ClientContext) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}

	now := s.now().UTC()
	if err := enforceRateLimit(ctx, s.rateLimits, s.logger, loginRateLimitScope, email, s.loginAttemptLimit(), s.rateLimitWindow(), now); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.countLogin("invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.countLogin("invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	if !user.CanAuthenticate() {
		s.countLogin("inactive")
		return nil, ErrInactiveAccount
	}

	pair, _, err := s.issueSession(ctx, *user, uuid.NewString(), client, map[string]any{"source": "login"})
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("stamp last login failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.cacheIdentity(ctx, *user)
	s.publishLoggedIn(ctx, *user, now, client)
	s.countLogin("success")

	sanitized := *user
	sanitized.PasswordHash = ""

	return &LoginResult{Tokens: pair, User: sanitized}, nil
}

// RefreshSession exchanges an active refresh token for a new token pair.
// The presented token is consumed; its successor inherits the family and the
// family's absolute expiry, so rotation never extends a session's lifetime.
// Presenting a consumed or revoked token is treated as theft evidence: the
// entire family is revoked and ErrRefreshTokenReuse is returned.
func (s *AuthService) RefreshSession(ctx context.Context, refreshToken string, client ClientContext) (*TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}

	now := s.now().UTC()
	if client.IP != "" {
		if err := enforceRateLimit(ctx, s.rateLimits, s.logger, refreshRateLimitScope, client.IP, s.refreshAttemptLimit(), s.rateLimitWindow(), now); err != nil {
			return nil, err
		}
	}

	record, err := s.tokens.GetRefreshTokenByHash(ctx, security.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.countRotation("invalid")
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}

	if record.UsedAt != nil || record.IsRevoked() {
		return nil, s.handleReuse(ctx, record, client)
	}
	if record.IsExpired(now) {
		s.countRotation("expired")
		return nil, ErrExpiredRefreshToken
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.countRotation("invalid")
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.CanAuthenticate() {
		s.countRotation("inactive")
		return nil, ErrInactiveAccount
	}

	raw, err := security.GenerateSecureToken(security.SecretByteLength)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	successor := domain.RefreshToken{
		ID:              uuid.NewString(),
		UserID:          user.ID,
		TokenHash:       security.HashToken(raw),
		FamilyID:        record.FamilyID,
		RotatedFromHash: stringPtr(record.TokenHash),
		IP:              stringPtrOrNil(client.IP),
		UserAgent:       stringPtrOrNil(client.UserAgent),
		CreatedAt:       now,
		ExpiresAt:       record.ExpiresAt,
		Metadata:        map[string]any{"source": "refresh"},
	}

	if err := s.tokens.RotateRefreshToken(ctx, record.ID, now, successor); err != nil {
		if errors.Is(err, repository.ErrAlreadyRotated) {
			return nil, s.handleReuse(ctx, record, client)
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	accessToken, err := s.issuer.IssueAccessToken(*user)
	if err != nil {
		return nil, err
	}

	s.countRotation("success")

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: raw,
		TokenType:    defaultTokenTyp,
		ExpiresIn:    int(s.issuer.AccessTokenTTL().Seconds()),
	}, nil
}

// Logout revokes the presented refresh token together with every sibling in
// its rotation family. The access token stays verifiable until it expires.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, client ClientContext) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return fmt.Errorf("refresh token is required")
	}

	record, err := s.tokens.GetRefreshTokenByHash(ctx, security.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidRefreshToken
		}
		return fmt.Errorf("lookup refresh token: %w", err)
	}

	revoked, err := s.tokens.RevokeRefreshTokensByFamily(ctx, record.FamilyID, logoutReason)
	if err != nil {
		return fmt.Errorf("revoke refresh token family: %w", err)
	}

	s.publishSessionRevoked(ctx, record, logoutReason, revoked, client)

	return nil
}

// issueSession creates the access token plus the first refresh token of a new
// family. The refresh expiry set here is the family's absolute lifetime; it
// is never pushed forward by later rotations.
func (s *AuthService) issueSession(ctx context.Context, user domain.User, familyID string, client ClientContext, metadata map[string]any) (TokenPair, *domain.RefreshToken, error) {
	accessToken, err := s.issuer.IssueAccessToken(user)
	if err != nil {
		return TokenPair{}, nil, err
	}

	raw, err := security.GenerateSecureToken(security.SecretByteLength)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now().UTC()
	record := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: security.HashToken(raw),
		FamilyID:  familyID,
		IP:        stringPtrOrNil(client.IP),
		UserAgent: stringPtrOrNil(client.UserAgent),
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL()),
		Metadata:  metadataCopy(metadata),
	}

	if err := s.tokens.CreateRefreshToken(ctx, record); err != nil {
		return TokenPair{}, nil, fmt.Errorf("store refresh token: %w", err)
	}

	pair := TokenPair{
		AccessToken:  accessToken,
		RefreshToken: raw,
		TokenType:    defaultTokenTyp,
		ExpiresIn:    int(s.issuer.AccessTokenTTL().Seconds()),
	}

	return pair, &record, nil
}

// handleReuse revokes every token in the family and reports the incident.
func (s *AuthService) handleReuse(ctx context.Context, record *domain.RefreshToken, client ClientContext) error {
	revoked, err := s.tokens.RevokeRefreshTokensByFamily(ctx, record.FamilyID, reuseReason)
	if err != nil {
		return fmt.Errorf("revoke compromised token family: %w", err)
	}

	s.logger.Warn("refresh token reuse detected",
		zap.String("user_id", record.UserID),
		zap.String("family_id", record.FamilyID),
		zap.String("token_hash", applogger.MaskString(record.TokenHash)),
		zap.Int("tokens_revoked", revoked),
	)

	if s.metrics != nil {
		s.metrics.ReuseDetections.Inc()
	}
	s.countRotation("reuse")

	if s.events != nil {
		event := domain.TokenReuseDetectedEvent{
			EventID:       uuid.NewString(),
			UserID:        record.UserID,
			FamilyID:      record.FamilyID,
			DetectedAt:    s.now().UTC(),
			TokensRevoked: revoked,
			IPAddress:     stringPtrOrNil(client.IP),
			UserAgent:     stringPtrOrNil(client.UserAgent),
		}
		if err := s.events.PublishTokenReuseDetected(ctx, event); err != nil {
			s.logger.Warn("publish token reuse event failed", zap.String("user_id", record.UserID), zap.Error(err))
		}
	}

	return ErrRefreshTokenReuse
}

func (s *AuthService) cacheIdentity(ctx context.Context, user domain.User) {
	if s.identities == nil {
		return
	}

	ttl := s.identityStateTTL()
	if ttl <= 0 {
		return
	}

	if err := s.identities.SetIdentityState(ctx, domain.StateOf(user), ttl); err != nil {
		s.logger.Warn("cache identity state failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

func (s *AuthService) publishLoggedIn(ctx context.Context, user domain.User, at time.Time, client ClientContext) {
	if s.events == nil {
		return
	}

	event := domain.UserLoggedInEvent{
		EventID:   uuid.NewString(),
		UserID:    user.ID,
		Role:      string(user.Role),
		LoggedAt:  at,
		IPAddress: stringPtrOrNil(client.IP),
		UserAgent: stringPtrOrNil(client.UserAgent),
	}

	if err := s.events.PublishUserLoggedIn(ctx, event); err != nil {
		s.logger.Warn("publish login event failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

func (s *AuthService) publishSessionRevoked(ctx context.Context, record *domain.RefreshToken, reason string, revoked int, client ClientContext) {
	if s.events == nil {
		return
	}

	event := domain.SessionRevokedEvent{
		EventID:       uuid.NewString(),
		UserID:        record.UserID,
		FamilyID:      record.FamilyID,
		RevokedAt:     s.now().UTC(),
		RevokedBy:     record.UserID,
		Reason:        reason,
		TokensRevoked: revoked,
		IPAddress:     stringPtrOrNil(client.IP),
	}

	if err := s.events.PublishSessionRevoked(ctx, event); err != nil {
		s.logger.Warn("publish session revoked event failed", zap.String("user_id", record.UserID), zap.Error(err))
	}
}

func (s *AuthService) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginAttempts.WithLabelValues(outcome).Inc()
	}
}

func (s *AuthService) countRotation(outcome string) {
	if s.metrics != nil {
		s.metrics.TokenRotations.WithLabelValues(outcome).Inc()
	}
}

func (s *AuthService) refreshTTL() time.Duration {
	if s.cfg != nil && s.cfg.JWT.RefreshTokenTTL > 0 {
		return s.cfg.JWT.RefreshTokenTTL
	}
	return 7 * 24 * time.Hour
}

func (s *AuthService) identityStateTTL() time.Duration {
	if s.cfg == nil {
		return 0
	}
	ttl := s.cfg.Redis.IdentityStateTTL
	if access := s.cfg.JWT.AccessTokenTTL; access > 0 && ttl > access {
		ttl = access
	}
	return ttl
}

func (s *AuthService) rateLimitWindow() time.Duration {
	if s.cfg != nil && s.cfg.RateLimit.WindowDuration > 0 {
		return s.cfg.RateLimit.WindowDuration
	}
	return time.Hour
}

func (s *AuthService) loginAttemptLimit() int {
	if s.cfg == nil {
		return 0
	}
	return s.cfg.RateLimit.LoginMaxAttempts
}

func (s *AuthService) refreshAttemptLimit() int {
	if s.cfg == nil {
		return 0
	}
	return s.cfg.RateLimit.RefreshMaxAttempts
}
