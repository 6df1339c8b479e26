package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/stackpanel/stackpanel/internal/config"
	"github.com/stackpanel/stackpanel/internal/domain"
	"github.com/stackpanel/stackpanel/internal/repository/redis"
)

// UserStore is the user data access used by login.
type UserStore interface {
	Create(ctx context.Context, u *domain.User) (*domain.User, error)
	Get(ctx context.Context, id int64) (*domain.User, error)
	List(ctx context.Context, filter domain.ListFilter, page domain.Page) ([]*domain.User, int64, error)
	Update(ctx context.Context, u *domain.User) (*domain.User, error)
}

// HistoryStore appends login attempts.
type HistoryStore interface {
	Create(ctx context.Context, h *domain.LoginHistory) (*domain.LoginHistory, error)
}

// TrackStore keeps failed-login counters keyed by username.
type TrackStore interface {
	Create(ctx context.Context, t *domain.LoginSecurityTrack) (*domain.LoginSecurityTrack, error)
	GetByKey(ctx context.Context, username string) (*domain.LoginSecurityTrack, error)
	Update(ctx context.Context, t *domain.LoginSecurityTrack) (*domain.LoginSecurityTrack, error)
}

// RateLimiter bounds login attempts per remote address. *redis.Cache implements it.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (*redis.RateLimitResult, error)
}

// Failure reasons recorded in login history.
const (
	ReasonUnknownUser = "unknown user"
	ReasonInactive    = "user inactive"
	ReasonNoPassword  = "no local password"
	ReasonBadPassword = "invalid password"
	ReasonLocked      = "account locked"
	ReasonRateLimited = "rate limited"
)

// disabledAccountState is the CloudStack user state that blocks login.
const disabledAccountState = "disabled"

// Service provides login with failed-attempt lockout and token issuance.
type Service struct {
	users      UserStore
	history    HistoryStore
	tracks     TrackStore
	limiter    RateLimiter
	jwtManager *JWTManager
	cfg        config.AuthConfig
	now        func() time.Time
	logger     *zap.Logger
}

// NewService creates a new auth service. limiter may be nil.
func NewService(
	users UserStore,
	history HistoryStore,
	tracks TrackStore,
	limiter RateLimiter,
	jwtManager *JWTManager,
	cfg config.AuthConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		users:      users,
		history:    history,
		tracks:     tracks,
		limiter:    limiter,
		jwtManager: jwtManager,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With(zap.String("service", "auth")),
	}
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RemoteAddr string `json:"-"`
	UserAgent  string `json:"-"`
}

// LoginResponse contains the result of a successful login.
type LoginResponse struct {
	User   any        `json:"user"`
	Tokens *TokenPair `json:"tokens"`
}

// Login authenticates a user and returns tokens. Every attempt is recorded.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	s.logger.Info("Login attempt", zap.String("username", req.Username), zap.String("remote_addr", req.RemoteAddr))

	if err := s.checkRateLimit(ctx, req); err != nil {
		return nil, err
	}

	now := s.now()
	track, err := s.tracks.GetByKey(ctx, req.Username)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load login track: %w", err)
	}
	if track != nil && track.IsLocked(now) {
		s.record(ctx, req, 0, false, ReasonLocked)
		return nil, fmt.Errorf("%w until %s", domain.ErrAccountLocked, track.LockedUntil.Format(time.RFC3339))
	}

	user, err := s.findUser(ctx, req.Username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, s.fail(ctx, req, track, 0, ReasonUnknownUser)
		}
		return nil, err
	}

	switch {
	case !user.IsActive() || strings.EqualFold(user.State, disabledAccountState):
		return nil, s.fail(ctx, req, track, user.ID, ReasonInactive)
	case user.PasswordHash == "":
		return nil, s.fail(ctx, req, track, user.ID, ReasonNoPassword)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, s.fail(ctx, req, track, user.ID, ReasonBadPassword)
	}

	tokens, err := s.jwtManager.Generate(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	if track != nil && (track.FailedAttempts > 0 || track.LockedUntil != nil) {
		track.FailedAttempts = 0
		track.LockedUntil = nil
		if _, err := s.tracks.Update(ctx, track); err != nil {
			s.logger.Warn("Failed to reset login track", zap.String("username", req.Username), zap.Error(err))
		}
	}

	user.LastLoginAt = &now
	if updated, err := s.users.Update(domain.WithActor(ctx, user.ID), user); err != nil {
		s.logger.Warn("Failed to update last login", zap.Int64("user_id", user.ID), zap.Error(err))
	} else {
		user = updated
	}

	s.record(ctx, req, user.ID, true, "")

	s.logger.Info("Login successful",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
	)

	return &LoginResponse{User: user.Redacted(), Tokens: tokens}, nil
}

// findUser returns the user whose username matches exactly.
func (s *Service) findUser(ctx context.Context, username string) (*domain.User, error) {
	if username == "" {
		return nil, domain.ErrNotFound
	}
	users, _, err := s.users.List(ctx, domain.ListFilter{Search: username, IncludeInactive: true}, domain.Page{})
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	var found *domain.User
	for _, u := range users {
		if u.Username != username {
			continue
		}
		// prefer the active row when a username was reused
		if found == nil || (!found.IsActive() && u.IsActive()) {
			found = u
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func (s *Service) checkRateLimit(ctx context.Context, req *LoginRequest) error {
	if s.limiter == nil || s.cfg.LoginRateLimit <= 0 || req.RemoteAddr == "" {
		return nil
	}
	result, err := s.limiter.CheckRateLimit(ctx, "ratelimit:login:"+req.RemoteAddr, int64(s.cfg.LoginRateLimit), time.Minute)
	if err != nil {
		s.logger.Warn("Login rate limit check failed", zap.Error(err))
		return nil
	}
	if !result.Allowed {
		s.record(ctx, req, 0, false, ReasonRateLimited)
		return fmt.Errorf("%w: retry after %s", domain.ErrRateLimited, result.ResetAt.Format(time.RFC3339))
	}
	return nil
}

// fail records a failed attempt, counts it against the username and locks the
// account once the configured number of consecutive failures is reached.
// Only known users are counted; unknown names are left to the per-address rate limit.
func (s *Service) fail(ctx context.Context, req *LoginRequest, track *domain.LoginSecurityTrack, userID int64, reason string) error {
	s.logger.Warn("Login failed", zap.String("username", req.Username), zap.String("reason", reason))
	s.record(ctx, req, userID, false, reason)

	if userID == 0 {
		return domain.ErrUnauthenticated
	}

	now := s.now()
	locked, err := s.countFailure(ctx, req.Username, track, now)
	if err != nil {
		s.logger.Warn("Failed to count login failure", zap.String("username", req.Username), zap.Error(err))
	}
	if locked {
		return fmt.Errorf("%w for %s", domain.ErrAccountLocked, s.cfg.LockoutDuration)
	}
	return domain.ErrUnauthenticated
}

func (s *Service) countFailure(ctx context.Context, username string, track *domain.LoginSecurityTrack, now time.Time) (bool, error) {
	if track == nil {
		track = &domain.LoginSecurityTrack{Username: username}
		apply(track, now, s.cfg)
		_, err := s.tracks.Create(ctx, track)
		if errors.Is(err, domain.ErrAlreadyExists) {
			track, err = s.tracks.GetByKey(ctx, username)
			if err != nil {
				return false, err
			}
			return s.countFailure(ctx, username, track, now)
		}
		return track.LockedUntil != nil, err
	}

	for attempt := 0; ; attempt++ {
		apply(track, now, s.cfg)
		_, err := s.tracks.Update(ctx, track)
		if err == nil {
			return track.LockedUntil != nil && now.Before(*track.LockedUntil), nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt > 0 {
			return false, err
		}
		if track, err = s.tracks.GetByKey(ctx, username); err != nil {
			return false, err
		}
	}
}

// apply counts one failure at now. Reaching the limit locks the account and restarts the count.
func apply(track *domain.LoginSecurityTrack, now time.Time, cfg config.AuthConfig) {
	track.FailedAttempts++
	track.LastFailedAt = &now
	if track.FailedAttempts >= int64(cfg.MaxFailedAttempts) {
		until := now.Add(cfg.LockoutDuration)
		track.LockedUntil = &until
		track.FailedAttempts = 0
	}
}

func (s *Service) record(ctx context.Context, req *LoginRequest, userID int64, success bool, reason string) {
	entry := &domain.LoginHistory{
		Username:    req.Username,
		UserID:      userID,
		Success:     success,
		Reason:      reason,
		RemoteAddr:  req.RemoteAddr,
		UserAgent:   req.UserAgent,
		AttemptedAt: s.now(),
	}
	if _, err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("Failed to record login history", zap.String("username", req.Username), zap.Error(err))
	}
}

// Refresh issues a new token pair from a refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, err := s.jwtManager.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthenticated
		}
		return nil, err
	}
	if !user.IsActive() {
		return nil, domain.ErrUnauthenticated
	}

	return s.jwtManager.Generate(user)
}

// ValidateToken validates an access token and returns the claims.
func (s *Service) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	return s.jwtManager.Verify(token)
}

// SetPassword replaces a user's local password.
func (s *Service) SetPassword(ctx context.Context, userID int64, password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", domain.ErrInvalidArgument)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	user.PasswordHash = string(hash)
	if _, err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.logger.Info("Password changed", zap.Int64("user_id", userID), zap.Int64("actor", domain.ActorFromContext(ctx)))
	return nil
}

// EnsureAdmin creates a local user with the given credentials unless one with that username exists.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}

	if _, err := s.findUser(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	created, err := s.users.Create(ctx, &domain.User{Username: username, PasswordHash: string(hash), Local: true})
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	s.logger.Info("Created bootstrap admin user", zap.Int64("user_id", created.ID), zap.String("username", username))
	return nil
}
