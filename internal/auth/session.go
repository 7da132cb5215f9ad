package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var errSelectorExhausted = errors.New("auth: could not allocate a unique session selector")

// Login verifies the credential and issues a session.
// Unknown handles and wrong passwords both return ErrAuthenticationFailed.
func (s *Service) Login(ctx context.Context, handle, password string, persist bool) (SessionToken, Identity, error) {
	handle = strings.TrimSpace(handle)

	acc, err := s.store.Identities(ctx).FindByHandle(ctx, handle)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return SessionToken{}, Identity{}, err
		}
		_, _ = s.hasher.Verify(password, s.dummyHash)
		return SessionToken{}, Identity{}, ErrAuthenticationFailed
	}
	ok, err := s.hasher.Verify(password, acc.PasswordHash)
	if err != nil {
		return SessionToken{}, Identity{}, err
	}
	if !ok {
		return SessionToken{}, Identity{}, ErrAuthenticationFailed
	}

	tok, err := s.issueSession(ctx, acc.ID, persist)
	if err != nil {
		return SessionToken{}, Identity{}, err
	}
	ident, err := s.Identity(ctx, acc.ID)
	if err != nil {
		return SessionToken{}, Identity{}, err
	}
	return tok, ident, nil
}

func (s *Service) issueSession(ctx context.Context, identityID int64, persist bool) (SessionToken, error) {
	var expiresAt *time.Time
	if !persist {
		exp := s.now().Add(s.sessionTTL).UTC()
		expiresAt = &exp
	}

	sessions := s.store.Sessions(ctx)
	for attempt := 0; attempt < maxSelectorAttempts; attempt++ {
		selector, err := s.random(SelectorLength)
		if err != nil {
			return SessionToken{}, fmt.Errorf("generate selector: %w", err)
		}
		validator, err := s.random(ValidatorLength)
		if err != nil {
			return SessionToken{}, fmt.Errorf("generate validator: %w", err)
		}
		inserted, err := sessions.Insert(ctx, Session{
			Selector:        selector,
			HashedValidator: hashValidator(validator),
			IdentityID:      identityID,
			ExpiresAt:       expiresAt,
		})
		if err != nil {
			return SessionToken{}, err
		}
		if inserted {
			return SessionToken{
				Token:     selector + ":" + validator,
				Selector:  selector,
				ExpiresAt: expiresAt,
			}, nil
		}
	}
	return SessionToken{}, errSelectorExhausted
}

// Validate resolves a presented "selector:validator" token to its identity.
// Expired sessions are deleted as they are found.
func (s *Service) Validate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrTokenMissing
	}
	selector, validator, err := splitToken(token)
	if err != nil {
		return Identity{}, err
	}

	sessions := s.store.Sessions(ctx)
	sess, err := sessions.FindBySelector(ctx, selector)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrTokenInvalid
		}
		return Identity{}, err
	}
	if !secureCompareHash(sess.HashedValidator, validator) {
		return Identity{}, ErrTokenInvalid
	}
	if sess.Expired(s.now()) {
		if _, err := sessions.DeleteBySelector(ctx, selector); err != nil {
			return Identity{}, err
		}
		return Identity{}, ErrTokenInvalid
	}

	ident, err := s.Identity(ctx, sess.IdentityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrTokenInvalid
		}
		return Identity{}, err
	}
	return ident, nil
}

// RevokeAll deletes every session of the identity and returns how many were removed.
func (s *Service) RevokeAll(ctx context.Context, identityID int64) (int64, error) {
	return s.store.Sessions(ctx).DeleteByIdentity(ctx, identityID)
}

// Logout ends every session of the identity, not only the presenting one.
func (s *Service) Logout(ctx context.Context, identityID int64) error {
	_, err := s.RevokeAll(ctx, identityID)
	return err
}

func splitToken(raw string) (selector, validator string, err error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrTokenMalformed
	}
	return parts[0], parts[1], nil
}

func hashValidator(validator string) string {
	sum := sha256.Sum256([]byte(validator))
	return hex.EncodeToString(sum[:])
}

func secureCompareHash(expectedHash string, validator string) bool {
	return subtleCompare(expectedHash, hashValidator(validator))
}

func subtleCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
