package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Identities(ctx context.Context) IdentityStore
	Sessions(ctx context.Context) SessionStore
	Circles(ctx context.Context) CircleStore
}

// IdentityStore manages identities and their credentials.
type IdentityStore interface {
	// Create inserts the account and fills in its ID. Duplicate handles yield ErrConflict.
	Create(ctx context.Context, acc *Account) error
	FindByHandle(ctx context.Context, handle string) (*Account, error)
	Find(ctx context.Context, id int64) (*Account, error)
	HandleExists(ctx context.Context, handle string) (bool, error)
	UpdateProfile(ctx context.Context, id int64, nickname, email *string) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	SetRole(ctx context.Context, id int64, role Role) error
	// Delete removes the identity. Sessions, ownership edges and link attempts cascade.
	Delete(ctx context.Context, id int64) error
}

// SessionStore persists sessions keyed by selector.
type SessionStore interface {
	// Insert stores s unless its selector already exists. It reports whether a row was written.
	Insert(ctx context.Context, s Session) (bool, error)
	FindBySelector(ctx context.Context, selector string) (*Session, error)
	DeleteBySelector(ctx context.Context, selector string) (int64, error)
	DeleteByIdentity(ctx context.Context, identityID int64) (int64, error)
}

// CircleStore manages ownership edges.
type CircleStore interface {
	ListByIdentity(ctx context.Context, identityID int64) ([]int64, error)
	// Grant is idempotent.
	Grant(ctx context.Context, identityID, circleID int64) error
	Revoke(ctx context.Context, identityID, circleID int64) error
}
