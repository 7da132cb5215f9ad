package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"neon.nuty.works/internal/auth"
	"neon.nuty.works/internal/store/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T, opts ...auth.ServiceOption) (*auth.Service, *memory.Store, *clock) {
	t.Helper()
	store := memory.New()
	clk := &clock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	base := []auth.ServiceOption{
		auth.WithClock(clk.Now),
		auth.WithPasswordHasher(auth.NewPasswordHasher(auth.PasswordParams{Memory: 1024, Iterations: 1, Parallelism: 1})),
	}
	svc, err := auth.NewService(store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, clk
}

func register(t *testing.T, svc *auth.Service, handle, password string) auth.Identity {
	t.Helper()
	id, err := svc.Register(context.Background(), auth.NewIdentity{
		Handle:   handle,
		Nickname: strings.ToUpper(handle),
		Email:    handle + "@example.com",
		Password: password,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", handle, err)
	}
	return id
}

func TestRegister(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	id := register(t, svc, "alice", "s3cret-pass")
	if id.ID == 0 || id.Role != auth.RoleUser || len(id.Circles) != 0 {
		t.Fatalf("unexpected identity: %+v", id)
	}
	acc, err := store.Identities(ctx).FindByHandle(ctx, "alice")
	if err != nil {
		t.Fatalf("FindByHandle: %v", err)
	}
	if acc.PasswordHash == "s3cret-pass" || !strings.HasPrefix(acc.PasswordHash, "$argon2id$") {
		t.Fatalf("password stored in unexpected form: %q", acc.PasswordHash)
	}

	exists, err := svc.HandleExists(ctx, "alice")
	if err != nil || !exists {
		t.Fatalf("HandleExists(alice)=%v,%v", exists, err)
	}
	exists, err = svc.HandleExists(ctx, "bob")
	if err != nil || exists {
		t.Fatalf("HandleExists(bob)=%v,%v", exists, err)
	}

	_, err = svc.Register(ctx, auth.NewIdentity{Handle: "alice", Nickname: "A", Email: "a@example.com", Password: "another-pass"})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newService(t)
	cases := []auth.NewIdentity{
		{Handle: "", Nickname: "n", Email: "e@example.com", Password: "long-enough"},
		{Handle: "has space", Nickname: "n", Email: "e@example.com", Password: "long-enough"},
		{Handle: "h", Nickname: " ", Email: "e@example.com", Password: "long-enough"},
		{Handle: "h", Nickname: "n", Email: "not-an-email", Password: "long-enough"},
		{Handle: "h", Nickname: "n", Email: "e@example.com", Password: "short"},
	}
	for _, in := range cases {
		if _, err := svc.Register(context.Background(), in); !errors.Is(err, auth.ErrInvalidInput) {
			t.Fatalf("Register(%+v): expected ErrInvalidInput, got %v", in, err)
		}
	}
}

func TestLoginAndValidate(t *testing.T) {
	svc, store, clk := newService(t)
	ctx := context.Background()
	alice := register(t, svc, "alice", "s3cret-pass")
	if err := store.Circles(ctx).Grant(ctx, alice.ID, 11); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	tok, ident, err := svc.Login(ctx, "alice", "s3cret-pass", false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if ident.ID != alice.ID {
		t.Fatalf("login resolved wrong identity: %+v", ident)
	}
	selector, validator, ok := strings.Cut(tok.Token, ":")
	if !ok || len(selector) != auth.SelectorLength || len(validator) != auth.ValidatorLength {
		t.Fatalf("unexpected token shape %q", tok.Token)
	}
	if tok.ExpiresAt == nil || !tok.ExpiresAt.Equal(clk.Now().Add(3*time.Hour)) {
		t.Fatalf("unexpected expiry %v", tok.ExpiresAt)
	}

	sess, err := store.Sessions(ctx).FindBySelector(ctx, selector)
	if err != nil {
		t.Fatalf("FindBySelector: %v", err)
	}
	if sess.HashedValidator == validator || len(sess.HashedValidator) != 64 {
		t.Fatalf("validator must be stored hashed, got %q", sess.HashedValidator)
	}

	got, err := svc.Validate(ctx, tok.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.ID != alice.ID || !got.OwnsCircle(11) {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	svc, _, _ := newService(t)
	register(t, svc, "alice", "s3cret-pass")

	_, _, errUnknown := svc.Login(context.Background(), "nobody", "s3cret-pass", false)
	_, _, errWrong := svc.Login(context.Background(), "alice", "wrong-pass", false)
	if !errors.Is(errUnknown, auth.ErrAuthenticationFailed) || !errors.Is(errWrong, auth.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed for both, got %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("failure messages differ: %q vs %q", errUnknown, errWrong)
	}
}

func TestValidateErrors(t *testing.T) {
	svc, _, _ := newService(t)
	register(t, svc, "alice", "s3cret-pass")
	tok, _, err := svc.Login(context.Background(), "alice", "s3cret-pass", false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	selector, validator, _ := strings.Cut(tok.Token, ":")

	cases := []struct {
		token string
		want  error
	}{
		{"", auth.ErrTokenMissing},
		{"no-colon", auth.ErrTokenMalformed},
		{"a:b:c", auth.ErrTokenMalformed},
		{":" + validator, auth.ErrTokenMalformed},
		{selector + ":", auth.ErrTokenMalformed},
		{"unknownselc:" + validator, auth.ErrTokenInvalid},
		{selector + ":" + strings.Repeat("x", auth.ValidatorLength), auth.ErrTokenInvalid},
		{selector + ":" + flipChar(validator, 0), auth.ErrTokenInvalid},
		{selector + ":" + flipChar(validator, auth.ValidatorLength/2), auth.ErrTokenInvalid},
		{selector + ":" + flipChar(validator, auth.ValidatorLength-1), auth.ErrTokenInvalid},
		{selector + ":" + validator[:auth.ValidatorLength-1], auth.ErrTokenInvalid},
	}
	for _, tc := range cases {
		if _, err := svc.Validate(context.Background(), tc.token); !errors.Is(err, tc.want) {
			t.Fatalf("Validate(%q)=%v, want %v", tc.token, err, tc.want)
		}
	}
}

func flipChar(s string, i int) string {
	b := []byte(s)
	if b[i] == 'a' {
		b[i] = 'b'
	} else {
		b[i] = 'a'
	}
	return string(b)
}

func TestValidateRejectsEveryOneCharacterChange(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	register(t, svc, "alice", "s3cret-pass")
	tok, _, err := svc.Login(ctx, "alice", "s3cret-pass", false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	selector, validator, _ := strings.Cut(tok.Token, ":")
	for i := range validator {
		if _, err := svc.Validate(ctx, selector+":"+flipChar(validator, i)); !errors.Is(err, auth.ErrTokenInvalid) {
			t.Fatalf("validator changed at %d: got %v, want ErrTokenInvalid", i, err)
		}
	}
	// a failed comparison must not revoke the real session
	if _, err := svc.Validate(ctx, tok.Token); err != nil {
		t.Fatalf("original token after tampering: %v", err)
	}
}

func TestExpiredSessionIsDeleted(t *testing.T) {
	svc, store, clk := newService(t, auth.WithSessionTTL(time.Hour))
	ctx := context.Background()
	register(t, svc, "alice", "s3cret-pass")

	tok, _, err := svc.Login(ctx, "alice", "s3cret-pass", false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	clk.Advance(59 * time.Minute)
	if _, err := svc.Validate(ctx, tok.Token); err != nil {
		t.Fatalf("Validate before expiry: %v", err)
	}
	clk.Advance(2 * time.Minute)
	if _, err := svc.Validate(ctx, tok.Token); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid after expiry, got %v", err)
	}
	if _, err := store.Sessions(ctx).FindBySelector(ctx, tok.Selector); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expired session should be deleted, got %v", err)
	}
}

func TestPersistentSessionNeverExpires(t *testing.T) {
	svc, _, clk := newService(t)
	register(t, svc, "alice", "s3cret-pass")

	tok, _, err := svc.Login(context.Background(), "alice", "s3cret-pass", true)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if tok.ExpiresAt != nil {
		t.Fatalf("persistent session has expiry %v", tok.ExpiresAt)
	}
	clk.Advance(365 * 24 * time.Hour)
	if _, err := svc.Validate(context.Background(), tok.Token); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLogoutRevokesAllSessions(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	alice := register(t, svc, "alice", "s3cret-pass")
	bob := register(t, svc, "bob", "bobs-password")

	t1, _, _ := svc.Login(ctx, "alice", "s3cret-pass", false)
	t2, _, _ := svc.Login(ctx, "alice", "s3cret-pass", true)
	tb, _, _ := svc.Login(ctx, "bob", "bobs-password", false)

	n, err := svc.RevokeAll(ctx, alice.ID)
	if err != nil || n != 2 {
		t.Fatalf("RevokeAll=%d,%v; want 2", n, err)
	}
	for _, tok := range []auth.SessionToken{t1, t2} {
		if _, err := svc.Validate(ctx, tok.Token); !errors.Is(err, auth.ErrTokenInvalid) {
			t.Fatalf("expected revoked token to be invalid, got %v", err)
		}
	}
	if got, err := svc.Validate(ctx, tb.Token); err != nil || got.ID != bob.ID {
		t.Fatalf("other identity affected: %+v %v", got, err)
	}

	if err := svc.Logout(ctx, bob.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Validate(ctx, tb.Token); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Fatalf("expected invalid after logout, got %v", err)
	}
}

func TestSelectorCollisionRetries(t *testing.T) {
	var (
		mu    sync.Mutex
		draws []string
	)
	// Selector draws repeat "AAAAAAAAAAAA" once before yielding a fresh value.
	seq := []string{"AAAAAAAAAAAA", "v1", "AAAAAAAAAAAA", "v2", "BBBBBBBBBBBB", "v3"}
	random := func(n int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		next := seq[0]
		seq = seq[1:]
		draws = append(draws, next)
		if strings.HasPrefix(next, "v") {
			return next + strings.Repeat("x", n-len(next)), nil
		}
		return next, nil
	}
	svc, _, _ := newService(t, auth.WithRandomSource(random))
	ctx := context.Background()
	register(t, svc, "alice", "s3cret-pass")

	first, _, err := svc.Login(ctx, "alice", "s3cret-pass", false)
	if err != nil {
		t.Fatalf("first Login: %v", err)
	}
	second, _, err := svc.Login(ctx, "alice", "s3cret-pass", false)
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if first.Selector != "AAAAAAAAAAAA" || second.Selector != "BBBBBBBBBBBB" {
		t.Fatalf("unexpected selectors %q %q", first.Selector, second.Selector)
	}
	if len(draws) != 6 {
		t.Fatalf("expected 6 draws, got %d", len(draws))
	}
	if _, err := svc.Validate(ctx, first.Token); err != nil {
		t.Fatalf("first session clobbered: %v", err)
	}
}

func TestUpdateProfileRotatesPassword(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	alice := register(t, svc, "alice", "s3cret-pass")
	tok, _, _ := svc.Login(ctx, "alice", "s3cret-pass", true)

	nick := "Alice B."
	newPass := "even-better-pass"
	_, err := svc.UpdateProfile(ctx, alice.ID, auth.ProfileUpdate{Nickname: &nick, Password: "wrong", NewPassword: &newPass})
	if !errors.Is(err, auth.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}

	got, err := svc.UpdateProfile(ctx, alice.ID, auth.ProfileUpdate{Nickname: &nick, Password: "s3cret-pass", NewPassword: &newPass})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if got.Nickname != nick {
		t.Fatalf("nickname not updated: %+v", got)
	}
	if _, err := svc.Validate(ctx, tok.Token); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Fatalf("rotation must revoke sessions, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice", "s3cret-pass", false); !errors.Is(err, auth.ErrAuthenticationFailed) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice", newPass, false); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestUpdateProfileWithoutRotationKeepsSessions(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	alice := register(t, svc, "alice", "s3cret-pass")
	tok, _, _ := svc.Login(ctx, "alice", "s3cret-pass", false)

	email := "new@example.com"
	if _, err := svc.UpdateProfile(ctx, alice.ID, auth.ProfileUpdate{Email: &email, Password: "s3cret-pass"}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	got, err := svc.Validate(ctx, tok.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.Email != email {
		t.Fatalf("email not updated: %+v", got)
	}

	short := "short"
	if _, err := svc.UpdateProfile(ctx, alice.ID, auth.ProfileUpdate{Password: "s3cret-pass", NewPassword: &short}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDeleteAccountCascades(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	alice := register(t, svc, "alice", "s3cret-pass")
	tok, _, _ := svc.Login(ctx, "alice", "s3cret-pass", true)

	if err := svc.DeleteAccount(ctx, alice.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if _, err := svc.Validate(ctx, tok.Token); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if exists, _ := svc.HandleExists(ctx, "alice"); exists {
		t.Fatal("handle still exists")
	}
}

func TestModerationOperations(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	alice := register(t, svc, "alice", "s3cret-pass")

	if err := svc.GrantCircle(ctx, alice.ID, 5); err != nil {
		t.Fatalf("GrantCircle: %v", err)
	}
	if err := svc.GrantCircle(ctx, alice.ID, 5); err != nil {
		t.Fatalf("GrantCircle twice: %v", err)
	}
	if err := svc.GrantCircle(ctx, 999, 5); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	id, err := svc.Identity(ctx, alice.ID)
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if len(id.Circles) != 1 || auth.CheckArtist(id) != nil || auth.CheckPermission(id, 5) != nil {
		t.Fatalf("unexpected ownership: %+v", id)
	}

	if err := svc.RevokeCircle(ctx, alice.ID, 5); err != nil {
		t.Fatalf("RevokeCircle: %v", err)
	}
	if err := svc.SetRole(ctx, alice.ID, "moderator"); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	if err := svc.SetRole(ctx, alice.ID, "root"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	id, _ = svc.Identity(ctx, alice.ID)
	if id.Role != auth.RoleModerator || len(id.Circles) != 0 || auth.CheckModerator(id) != nil {
		t.Fatalf("unexpected identity after moderation: %+v", id)
	}
}
