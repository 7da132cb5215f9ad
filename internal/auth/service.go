package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const (
	DefaultSessionTTL = 3 * time.Hour

	// Fresh selector draws on insert collision.
	maxSelectorAttempts = 3
)

// Service provides session issuance, validation and account operations.
type Service struct {
	store      Store
	hasher     *PasswordHasher
	now        func() time.Time
	random     func(int) (string, error)
	sessionTTL time.Duration

	// Verified against for unknown handles so both login failure paths cost the same.
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithSessionTTL configures the lifetime of non-persistent sessions.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithPasswordHasher overrides the argon2id cost parameters.
func WithPasswordHasher(h *PasswordHasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return errors.New("auth: password hasher is nil")
		}
		s.hasher = h
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithRandomSource overrides the token string generator (useful for tests).
func WithRandomSource(fn func(int) (string, error)) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.random = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:      store,
		hasher:     defaultHasher,
		now:        time.Now,
		random:     RandomString,
		sessionTTL: DefaultSessionTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	dummy, err := svc.hasher.Hash("not-a-real-password")
	if err != nil {
		return nil, err
	}
	svc.dummyHash = dummy
	return svc, nil
}

// SessionTTL returns the configured lifetime of non-persistent sessions.
func (s *Service) SessionTTL() time.Duration { return s.sessionTTL }

// Register creates an identity with the user role.
func (s *Service) Register(ctx context.Context, in NewIdentity) (Identity, error) {
	in.Handle = strings.TrimSpace(in.Handle)
	in.Nickname = strings.TrimSpace(in.Nickname)
	in.Email = strings.TrimSpace(in.Email)

	if err := validateHandle(in.Handle); err != nil {
		return Identity{}, err
	}
	if err := validateNickname(in.Nickname); err != nil {
		return Identity{}, err
	}
	if err := validateEmail(in.Email); err != nil {
		return Identity{}, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return Identity{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Identity{}, err
	}
	acc := &Account{
		Identity: Identity{
			Handle:   in.Handle,
			Nickname: in.Nickname,
			Email:    in.Email,
			Role:     RoleUser,
			Circles:  []int64{},
		},
		PasswordHash: hash,
	}
	if err := s.store.Identities(ctx).Create(ctx, acc); err != nil {
		return Identity{}, err
	}
	return acc.Identity, nil
}

// HandleExists reports whether a handle is taken.
func (s *Service) HandleExists(ctx context.Context, handle string) (bool, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return false, nil
	}
	return s.store.Identities(ctx).HandleExists(ctx, handle)
}

// Identity loads the identity with its current ownership edges.
func (s *Service) Identity(ctx context.Context, id int64) (Identity, error) {
	acc, err := s.store.Identities(ctx).Find(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	circles, err := s.store.Circles(ctx).ListByIdentity(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	ident := acc.Identity
	ident.Circles = circles
	if ident.Circles == nil {
		ident.Circles = []int64{}
	}
	return ident, nil
}

// UpdateProfile changes nickname, email and optionally the password.
// The current password is required. A password change revokes every session of the identity.
func (s *Service) UpdateProfile(ctx context.Context, id int64, upd ProfileUpdate) (Identity, error) {
	if upd.NewPassword != nil {
		if err := ValidatePassword(*upd.NewPassword); err != nil {
			return Identity{}, err
		}
	}
	if upd.Nickname != nil {
		trimmed := strings.TrimSpace(*upd.Nickname)
		if err := validateNickname(trimmed); err != nil {
			return Identity{}, err
		}
		upd.Nickname = &trimmed
	}
	if upd.Email != nil {
		trimmed := strings.TrimSpace(*upd.Email)
		if err := validateEmail(trimmed); err != nil {
			return Identity{}, err
		}
		upd.Email = &trimmed
	}

	identities := s.store.Identities(ctx)
	acc, err := identities.Find(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	ok, err := s.hasher.Verify(upd.Password, acc.PasswordHash)
	if err != nil {
		return Identity{}, err
	}
	if !ok {
		return Identity{}, ErrAuthenticationFailed
	}

	if upd.NewPassword != nil {
		hash, err := s.hasher.Hash(*upd.NewPassword)
		if err != nil {
			return Identity{}, err
		}
		if err := identities.UpdatePassword(ctx, id, hash); err != nil {
			return Identity{}, err
		}
		if _, err := s.RevokeAll(ctx, id); err != nil {
			return Identity{}, err
		}
	}
	if upd.Nickname != nil || upd.Email != nil {
		if err := identities.UpdateProfile(ctx, id, upd.Nickname, upd.Email); err != nil {
			return Identity{}, err
		}
	}
	return s.Identity(ctx, id)
}

// DeleteAccount removes the identity. Its sessions are revoked first.
func (s *Service) DeleteAccount(ctx context.Context, id int64) error {
	if _, err := s.RevokeAll(ctx, id); err != nil {
		return err
	}
	return s.store.Identities(ctx).Delete(ctx, id)
}

// SetRole changes the identity tier.
func (s *Service) SetRole(ctx context.Context, id int64, role Role) error {
	role, err := ParseRole(string(role))
	if err != nil {
		return err
	}
	return s.store.Identities(ctx).SetRole(ctx, id, role)
}

// GrantCircle records a manual ownership edge. Granting twice is a no-op.
func (s *Service) GrantCircle(ctx context.Context, id, circleID int64) error {
	if circleID <= 0 {
		return fmt.Errorf("%w: circle id must be positive", ErrInvalidInput)
	}
	if _, err := s.store.Identities(ctx).Find(ctx, id); err != nil {
		return err
	}
	return s.store.Circles(ctx).Grant(ctx, id, circleID)
}

// RevokeCircle removes an ownership edge.
func (s *Service) RevokeCircle(ctx context.Context, id, circleID int64) error {
	return s.store.Circles(ctx).Revoke(ctx, id, circleID)
}

func validateHandle(handle string) error {
	if handle == "" {
		return fmt.Errorf("%w: handle is required", ErrInvalidInput)
	}
	if len(handle) > 64 {
		return fmt.Errorf("%w: handle is too long", ErrInvalidInput)
	}
	if strings.ContainsAny(handle, " \t\r\n/:") {
		return fmt.Errorf("%w: handle contains invalid characters", ErrInvalidInput)
	}
	return nil
}

func validateNickname(nickname string) error {
	if nickname == "" {
		return fmt.Errorf("%w: nickname is required", ErrInvalidInput)
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	}
	return nil
}
