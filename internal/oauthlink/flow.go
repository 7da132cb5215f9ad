// Package oauthlink binds an external social account to an identity with the
// OAuth2 authorization-code flow and PKCE, then derives circle ownership from
// artist account URLs that point at the linked account.
package oauthlink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"neon.nuty.works/internal/auth"
)

const (
	StateLength    = 16
	VerifierLength = 128

	DefaultAttemptTTL = 10 * time.Minute

	maxStateAttempts = 3
)

var (
	ErrNotFound            = errors.New("oauthlink: attempt not found")
	ErrInvalidRequest      = errors.New("oauthlink: invalid request")
	ErrProviderUnavailable = errors.New("oauthlink: provider unavailable")
)

// Attempt is a pending link keyed by identity. There is at most one per identity.
type Attempt struct {
	IdentityID   int64
	State        string
	CodeVerifier string
	CreatedAt    time.Time
}

// Store persists attempts and applies a completed link.
type Store interface {
	// SaveAttempt replaces any previous attempt of the same identity.
	SaveAttempt(ctx context.Context, a Attempt) error
	// ConsumeAttempt deletes and returns the attempt for state in one step, or ErrNotFound.
	ConsumeAttempt(ctx context.Context, state string) (Attempt, error)
	// CirclesByAccountURLs returns circles whose artists list any of urls.
	CirclesByAccountURLs(ctx context.Context, urls []string) ([]int64, error)
	// LinkAccount records the external handle and inserts ownership edges atomically.
	LinkAccount(ctx context.Context, identityID int64, handle string, circleIDs []int64) error
}

// Provider is the external authorization server.
type Provider interface {
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error)
	Username(ctx context.Context, tok *oauth2.Token) (string, error)
}

// Result describes a completed link.
type Result struct {
	IdentityID int64
	Handle     string
	Circles    []int64
}

// Flow drives link initiation and the provider callback.
type Flow struct {
	store      Store
	provider   Provider
	now        func() time.Time
	random     func(int) (string, error)
	attemptTTL time.Duration
}

// Option configures Flow behavior.
type Option func(*Flow)

// WithAttemptTTL bounds how long an initiated attempt may be completed.
func WithAttemptTTL(ttl time.Duration) Option {
	return func(f *Flow) {
		if ttl > 0 {
			f.attemptTTL = ttl
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(f *Flow) {
		if fn != nil {
			f.now = fn
		}
	}
}

// WithRandomSource overrides state and verifier generation (useful for tests).
func WithRandomSource(fn func(int) (string, error)) Option {
	return func(f *Flow) {
		if fn != nil {
			f.random = fn
		}
	}
}

// NewFlow constructs Flow.
func NewFlow(store Store, provider Provider, opts ...Option) (*Flow, error) {
	if store == nil {
		return nil, errors.New("oauthlink: store is required")
	}
	if provider == nil {
		return nil, errors.New("oauthlink: provider is required")
	}
	f := &Flow{
		store:      store,
		provider:   provider,
		now:        time.Now,
		random:     auth.RandomString,
		attemptTTL: DefaultAttemptTTL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Initiate stores a fresh attempt for the identity and returns the provider authorization URL.
// A state already held by another identity is regenerated.
func (f *Flow) Initiate(ctx context.Context, identityID int64) (string, error) {
	verifier, err := f.random(VerifierLength)
	if err != nil {
		return "", fmt.Errorf("generate verifier: %w", err)
	}
	for range maxStateAttempts {
		state, err := f.random(StateLength)
		if err != nil {
			return "", fmt.Errorf("generate state: %w", err)
		}
		err = f.store.SaveAttempt(ctx, Attempt{
			IdentityID:   identityID,
			State:        state,
			CodeVerifier: verifier,
			CreatedAt:    f.now().UTC(),
		})
		if errors.Is(err, auth.ErrConflict) {
			continue
		}
		if err != nil {
			return "", err
		}
		return f.provider.AuthCodeURL(state, verifier), nil
	}
	return "", fmt.Errorf("oauthlink: no unique state after %d attempts: %w", maxStateAttempts, auth.ErrConflict)
}

// Callback completes the attempt identified by state.
// The attempt is consumed whether or not the rest of the flow succeeds.
func (f *Flow) Callback(ctx context.Context, state, code string) (Result, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return Result{}, ErrInvalidRequest
	}
	attempt, err := f.store.ConsumeAttempt(ctx, state)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{}, ErrInvalidRequest
		}
		return Result{}, err
	}
	// A provider error redirect carries state but no code.
	if code == "" {
		return Result{}, ErrInvalidRequest
	}
	if f.now().Sub(attempt.CreatedAt) > f.attemptTTL {
		return Result{}, ErrInvalidRequest
	}

	tok, err := f.provider.Exchange(ctx, code, attempt.CodeVerifier)
	if err != nil {
		return Result{}, fmt.Errorf("%w: token exchange: %v", ErrProviderUnavailable, err)
	}
	handle, err := f.provider.Username(ctx, tok)
	if err != nil {
		return Result{}, fmt.Errorf("%w: userinfo: %v", ErrProviderUnavailable, err)
	}
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return Result{}, fmt.Errorf("%w: empty username", ErrProviderUnavailable)
	}

	// The exchange already happened at the provider; finish the write even if the client went away.
	ctx = context.WithoutCancel(ctx)
	circles, err := f.store.CirclesByAccountURLs(ctx, AccountURLs(handle))
	if err != nil {
		return Result{}, err
	}
	if err := f.store.LinkAccount(ctx, attempt.IdentityID, handle, circles); err != nil {
		return Result{}, err
	}
	if circles == nil {
		circles = []int64{}
	}
	return Result{IdentityID: attempt.IdentityID, Handle: handle, Circles: circles}, nil
}

var accountURLTemplates = []string{
	"https://twitter.com/%s",
	"https://twitter.com/%s/",
	"https://x.com/%s",
	"https://x.com/%s/",
}

// AccountURLs lists the profile URLs an artist record may use for handle. Matching is exact.
func AccountURLs(handle string) []string {
	out := make([]string, 0, len(accountURLTemplates))
	for _, tmpl := range accountURLTemplates {
		out = append(out, fmt.Sprintf(tmpl, handle))
	}
	return out
}
