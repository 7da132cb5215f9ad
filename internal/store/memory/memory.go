// Package memory is an in-process store used when no database is configured and in tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"neon.nuty.works/internal/audit"
	"neon.nuty.works/internal/auth"
	"neon.nuty.works/internal/oauthlink"
)

// MaxAuditEntries bounds the audit log; the oldest entries are dropped first.
const MaxAuditEntries = 1000

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	nextID   int64
	accounts map[int64]auth.Account
	handles  map[string]int64
	sessions map[string]auth.Session
	circles  map[int64]map[int64]struct{}
	attempts map[int64]oauthlink.Attempt
	artists  map[string][]int64 // account url -> circle ids
	audit    []audit.Entry
}

var (
	_ auth.Store      = (*Store)(nil)
	_ oauthlink.Store = (*Store)(nil)
	_ audit.Sink      = (*Store)(nil)
)

func New() *Store {
	return &Store{
		accounts: make(map[int64]auth.Account),
		handles:  make(map[string]int64),
		sessions: make(map[string]auth.Session),
		circles:  make(map[int64]map[int64]struct{}),
		attempts: make(map[int64]oauthlink.Attempt),
		artists:  make(map[string][]int64),
	}
}

func (s *Store) Identities(context.Context) auth.IdentityStore { return identities{s} }
func (s *Store) Sessions(context.Context) auth.SessionStore    { return sessions{s} }
func (s *Store) Circles(context.Context) auth.CircleStore      { return circles{s} }

// AddArtist registers an artist account URL that participates in the given circles.
func (s *Store) AddArtist(accountURL string, circleIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artists[accountURL] = append(s.artists[accountURL], circleIDs...)
}

// AuditEntries returns a copy of recorded audit entries.
func (s *Store) AuditEntries() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audit)
}

// Identities ---------------------------------------------------------------
type identities struct{ s *Store }

func (x identities) Create(_ context.Context, acc *auth.Account) error {
	s := x.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[acc.Handle]; ok {
		return auth.ErrConflict
	}
	if acc.Role == "" {
		acc.Role = auth.RoleUser
	}
	s.nextID++
	acc.ID = s.nextID
	stored := *acc
	stored.Circles = nil
	s.accounts[acc.ID] = stored
	s.handles[acc.Handle] = acc.ID
	return nil
}

func (x identities) FindByHandle(_ context.Context, handle string) (*auth.Account, error) {
	s := x.s
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.handles[handle]
	if !ok {
		return nil, auth.ErrNotFound
	}
	acc := s.accounts[id]
	return &acc, nil
}

func (x identities) Find(_ context.Context, id int64) (*auth.Account, error) {
	s := x.s
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &acc, nil
}

func (x identities) HandleExists(_ context.Context, handle string) (bool, error) {
	s := x.s
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[handle]
	return ok, nil
}

func (x identities) update(id int64, fn func(*auth.Account)) error {
	s := x.s
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	fn(&acc)
	s.accounts[id] = acc
	return nil
}

func (x identities) UpdateProfile(_ context.Context, id int64, nickname, email *string) error {
	return x.update(id, func(acc *auth.Account) {
		if nickname != nil {
			acc.Nickname = *nickname
		}
		if email != nil {
			acc.Email = *email
		}
	})
}

func (x identities) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	return x.update(id, func(acc *auth.Account) { acc.PasswordHash = passwordHash })
}

func (x identities) SetRole(_ context.Context, id int64, role auth.Role) error {
	return x.update(id, func(acc *auth.Account) { acc.Role = role })
}

func (x identities) Delete(_ context.Context, id int64) error {
	s := x.s
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	delete(s.accounts, id)
	delete(s.handles, acc.Handle)
	delete(s.circles, id)
	delete(s.attempts, id)
	for sel, sess := range s.sessions {
		if sess.IdentityID == id {
			delete(s.sessions, sel)
		}
	}
	return nil
}

// Sessions -----------------------------------------------------------------
type sessions struct{ s *Store }

func (x sessions) Insert(_ context.Context, sess auth.Session) (bool, error) {
	s := x.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[sess.IdentityID]; !ok {
		return false, auth.ErrNotFound
	}
	if _, ok := s.sessions[sess.Selector]; ok {
		return false, nil
	}
	s.sessions[sess.Selector] = sess
	return true, nil
}

func (x sessions) FindBySelector(_ context.Context, selector string) (*auth.Session, error) {
	s := x.s
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[selector]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &sess, nil
}

func (x sessions) DeleteBySelector(_ context.Context, selector string) (int64, error) {
	s := x.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[selector]; !ok {
		return 0, nil
	}
	delete(s.sessions, selector)
	return 1, nil
}

func (x sessions) DeleteByIdentity(_ context.Context, identityID int64) (int64, error) {
	s := x.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for sel, sess := range s.sessions {
		if sess.IdentityID == identityID {
			delete(s.sessions, sel)
			n++
		}
	}
	return n, nil
}

// Circles ------------------------------------------------------------------
type circles struct{ s *Store }

func (x circles) ListByIdentity(_ context.Context, identityID int64) ([]int64, error) {
	s := x.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.circleList(identityID), nil
}

func (s *Store) circleList(identityID int64) []int64 {
	res := []int64{}
	for id := range s.circles[identityID] {
		res = append(res, id)
	}
	slices.Sort(res)
	return res
}

func (s *Store) grantLocked(identityID, circleID int64) {
	set, ok := s.circles[identityID]
	if !ok {
		set = make(map[int64]struct{})
		s.circles[identityID] = set
	}
	set[circleID] = struct{}{}
}

func (x circles) Grant(_ context.Context, identityID, circleID int64) error {
	s := x.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[identityID]; !ok {
		return auth.ErrNotFound
	}
	s.grantLocked(identityID, circleID)
	return nil
}

func (x circles) Revoke(_ context.Context, identityID, circleID int64) error {
	s := x.s
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.circles[identityID]
	if _, ok := set[circleID]; !ok {
		return auth.ErrNotFound
	}
	delete(set, circleID)
	return nil
}

// Linking ------------------------------------------------------------------

func (s *Store) SaveAttempt(_ context.Context, a oauthlink.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.IdentityID]; !ok {
		return auth.ErrNotFound
	}
	for id, other := range s.attempts {
		if id != a.IdentityID && other.State == a.State {
			return auth.ErrConflict
		}
	}
	s.attempts[a.IdentityID] = a
	return nil
}

func (s *Store) ConsumeAttempt(_ context.Context, state string) (oauthlink.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.attempts {
		if a.State == state {
			delete(s.attempts, id)
			return a, nil
		}
	}
	return oauthlink.Attempt{}, oauthlink.ErrNotFound
}

func (s *Store) CirclesByAccountURLs(_ context.Context, urls []string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int64]struct{}{}
	res := []int64{}
	for _, u := range urls {
		for _, id := range s.artists[u] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			res = append(res, id)
		}
	}
	slices.Sort(res)
	return res, nil
}

func (s *Store) LinkAccount(_ context.Context, identityID int64, handle string, circleIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[identityID]
	if !ok {
		return auth.ErrNotFound
	}
	for _, id := range circleIDs {
		s.grantLocked(identityID, id)
	}
	acc.ExternalAccount = handle
	s.accounts[identityID] = acc
	return nil
}

// Audit --------------------------------------------------------------------

func (s *Store) AppendAudit(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.audit) < MaxAuditEntries {
		s.audit = append(s.audit, e)
		return nil
	}
	copy(s.audit, s.audit[1:])
	s.audit[len(s.audit)-1] = e
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }
