package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"unityplan.org/internal/ids"
	"unityplan.org/internal/invite"
	"unityplan.org/internal/tenant"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)

const (
	minPasswordLen = 8
	maxPasswordLen = 128
)

// dummyHash absorbs verification time for unknown usernames so login
// latency does not reveal whether the account exists.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=2$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Service orchestrates registration, login, and the token lifecycle.
// All tenant-scoped work is routed through the territory registry first;
// no store call ever sees an unvalidated territory code.
type Service struct {
	store       Store
	invites     *invite.Engine
	territories tenant.Registry
	codec       *Codec
	refreshTTL  time.Duration
	now         func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the orchestrator. refreshTTL bounds the lifetime of
// every session it creates.
func NewService(store Store, invites *invite.Engine, territories tenant.Registry, codec *Codec, refreshTTL time.Duration, opts ...ServiceOption) (*Service, error) {
	if store == nil || invites == nil || territories == nil || codec == nil {
		return nil, errors.New("auth: store, invites, territories and codec are required")
	}
	if refreshTTL <= 0 {
		return nil, errors.New("auth: refresh ttl must be positive")
	}
	s := &Service{
		store:       store,
		invites:     invites,
		territories: territories,
		codec:       codec,
		refreshTTL:  refreshTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterInput carries a registration request. InvitationToken is
// mandatory: the platform is invitation-only.
type RegisterInput struct {
	Territory       string
	Username        string
	Email           string
	Password        string
	FullName        string
	DisplayName     string
	InvitationToken string
	Meta            invite.UseMetadata
}

// Register admits a new user through an invitation token. The user row,
// its global identity, the username reservation, and the invitation
// consumption commit as one unit; on success the new user is already
// logged in via the returned token pair.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, *TokenPair, error) {
	territory, err := s.resolveTerritory(ctx, in.Territory)
	if err != nil {
		return nil, nil, err
	}

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateRegistration(in); err != nil {
		return nil, nil, err
	}

	tok, err := s.invites.Validate(ctx, territory, in.InvitationToken, in.Email)
	if err != nil {
		return nil, nil, err
	}

	users := s.store.Users(ctx)
	if taken, err := users.UsernameTaken(ctx, in.Username); err != nil {
		return nil, nil, fmt.Errorf("check username: %w", err)
	} else if taken {
		return nil, nil, ErrUsernameTaken
	}
	if in.Email != "" {
		if taken, err := users.EmailTaken(ctx, territory, in.Email); err != nil {
			return nil, nil, fmt.Errorf("check email: %w", err)
		} else if taken {
			return nil, nil, ErrEmailTaken
		}
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	u := &User{
		ID:           ids.NewUUID(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(in.FullName),
		DisplayName:  strings.TrimSpace(in.DisplayName),
		// An email-bound invitation proves control of the address.
		Verified:         tok.Type == invite.TypeSingleUse && strings.EqualFold(tok.InvitedEmail, in.Email),
		Active:           true,
		InvitedByTokenID: tok.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	fingerprint := Fingerprint(u.Email, u.Username)

	identity, err := users.Create(ctx, territory, u, fingerprint, &Admission{
		InvitationID: tok.ID,
		Meta:         in.Meta,
	})
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.issuePair(ctx, identity, u.Username)
	if err != nil {
		return nil, nil, err
	}
	return u, pair, nil
}

// Login authenticates a username and password within one territory.
// Every failure mode reports the same ErrUnauthorized.
func (s *Service) Login(ctx context.Context, territoryCode, username, password string) (*User, *TokenPair, error) {
	territory, err := s.resolveTerritory(ctx, territoryCode)
	if err != nil {
		return nil, nil, err
	}

	users := s.store.Users(ctx)
	u, err := users.FindByUsername(ctx, territory, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_, _ = VerifyPassword(password, dummyHash)
			return nil, nil, ErrUnauthorized
		}
		return nil, nil, fmt.Errorf("find user: %w", err)
	}

	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil || !ok || !u.Active {
		return nil, nil, ErrUnauthorized
	}

	now := s.now().UTC()
	if err := users.TouchLastLogin(ctx, territory, u.ID, now); err != nil {
		return nil, nil, fmt.Errorf("touch last login: %w", err)
	}
	u.LastLoginAt = &now

	identity, err := s.store.Identities(ctx).FindByLocal(ctx, territory, u.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve identity: %w", err)
	}

	pair, err := s.issuePair(ctx, identity, u.Username)
	if err != nil {
		return nil, nil, err
	}
	return u, pair, nil
}

// Refresh rotates a refresh token: the presented token is retired and a
// new pair is issued. Expired sessions are deleted on sight. A replayed
// or unknown token reports ErrUnauthorized, same as every other failure.
func (s *Service) Refresh(ctx context.Context, territoryCode, rawRefresh string) (*TokenPair, error) {
	territory, err := s.resolveTerritory(ctx, territoryCode)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rawRefresh) == "" {
		return nil, ErrUnauthorized
	}

	sessions := s.store.Sessions(ctx)
	oldHash := HashRefreshToken(rawRefresh)
	sess, err := sessions.FindByTokenHash(ctx, oldHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("find session: %w", err)
	}

	now := s.now().UTC()
	if now.After(sess.ExpiresAt) {
		// Lazy reaping: the expired grant is removed the moment it is seen.
		if err := sessions.Delete(ctx, oldHash); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("delete expired session: %w", err)
		}
		return nil, ErrUnauthorized
	}

	identity, err := s.store.Identities(ctx).FindByID(ctx, sess.IdentityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if identity.TerritoryCode != territory {
		return nil, ErrUnauthorized
	}

	u, err := s.store.Users(ctx).Find(ctx, territory, identity.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !u.Active {
		return nil, ErrUnauthorized
	}

	raw, err := NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	next := &Session{
		ID:         ids.New(),
		IdentityID: identity.ID,
		TokenHash:  HashRefreshToken(raw),
		ExpiresAt:  now.Add(s.refreshTTL),
		CreatedAt:  now,
	}
	if err := sessions.Rotate(ctx, oldHash, next); err != nil {
		// A concurrent rotation already retired this token.
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	access, exp, err := s.codec.Issue(identity.Fingerprint, identity.TerritoryCode, identity.UserID, u.Username)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		AccessExpiresAt:  exp,
		RefreshExpiresAt: next.ExpiresAt,
		ExpiresIn:        int64(s.codec.AccessTTL().Seconds()),
	}, nil
}

// Logout retires the session behind the refresh token. An unknown token
// reports ErrNotFound so callers can distinguish an ineffective logout.
func (s *Service) Logout(ctx context.Context, rawRefresh string) error {
	if strings.TrimSpace(rawRefresh) == "" {
		return ErrNotFound
	}
	return s.store.Sessions(ctx).Delete(ctx, HashRefreshToken(rawRefresh))
}

// Authenticate verifies an access token and returns the caller identity.
// A valid signature alone is not enough: the tenant user behind the claims
// must still exist and be active, so deactivation takes effect immediately
// rather than at token expiry. Every failure collapses to ErrUnauthorized.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	claims, err := s.codec.Verify(accessToken)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}
	u, err := s.store.Users(ctx).Find(ctx, claims.TerritoryCode, claims.UserID)
	if err != nil || !u.Active {
		return Identity{}, ErrUnauthorized
	}
	return Identity{
		UserID:        claims.UserID,
		Username:      claims.Username,
		TerritoryCode: claims.TerritoryCode,
		Fingerprint:   claims.Subject,
	}, nil
}

// Profile loads the full account behind an authenticated identity.
func (s *Service) Profile(ctx context.Context, id Identity) (*User, error) {
	return s.store.Users(ctx).Find(ctx, id.TerritoryCode, id.UserID)
}

// Invitations exposes the invitation engine for the HTTP layer.
func (s *Service) Invitations() *invite.Engine { return s.invites }

// ResolveTerritory validates a candidate code against the registry.
func (s *Service) ResolveTerritory(ctx context.Context, code string) (string, error) {
	return s.resolveTerritory(ctx, code)
}

func (s *Service) resolveTerritory(ctx context.Context, code string) (string, error) {
	t, err := s.territories.Resolve(ctx, tenant.Normalize(code))
	if err != nil {
		return "", err
	}
	return t.Code, nil
}

func (s *Service) issuePair(ctx context.Context, identity *GlobalIdentity, username string) (*TokenPair, error) {
	access, exp, err := s.codec.Issue(identity.Fingerprint, identity.TerritoryCode, identity.UserID, username)
	if err != nil {
		return nil, err
	}
	raw, err := NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	now := s.now().UTC()
	sess := &Session{
		ID:         ids.New(),
		IdentityID: identity.ID,
		TokenHash:  HashRefreshToken(raw),
		ExpiresAt:  now.Add(s.refreshTTL),
		CreatedAt:  now,
	}
	if err := s.store.Sessions(ctx).Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		AccessExpiresAt:  exp,
		RefreshExpiresAt: sess.ExpiresAt,
		ExpiresIn:        int64(s.codec.AccessTTL().Seconds()),
	}, nil
}

func validateRegistration(in RegisterInput) error {
	if !usernamePattern.MatchString(in.Username) {
		return fmt.Errorf("%w: username must be 3-50 characters of letters, digits, or underscore", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLen || len(in.Password) > maxPasswordLen {
		return fmt.Errorf("%w: password must be between %d and %d characters", ErrInvalidInput, minPasswordLen, maxPasswordLen)
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return fmt.Errorf("%w: invalid email address", ErrInvalidInput)
		}
	}
	if strings.TrimSpace(in.InvitationToken) == "" {
		return fmt.Errorf("%w: invitation_token is required", ErrInvalidInput)
	}
	return nil
}
