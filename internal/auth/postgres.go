package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PGUniqueViolation is the SQLSTATE for a unique constraint violation.
const PGUniqueViolation = "23505"

// IsUniqueViolation reports whether err wraps a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == PGUniqueViolation
}

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Identities(context.Context) IdentityStore { return &identityStore{db: s.db} }
func (s *PGStore) Sessions(context.Context) SessionStore    { return &sessionStore{db: s.db} }
func (s *PGStore) Circles(context.Context) CircleStore      { return &circleStore{db: s.db} }

// Identity store -----------------------------------------------------------
type identityStore struct{ db *sql.DB }

const identityColumns = `id, handle, nickname, email, coalesce(twitter_id, ''), role, password`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var (
		acc  Account
		role string
	)
	if err := row.Scan(&acc.ID, &acc.Handle, &acc.Nickname, &acc.Email, &acc.ExternalAccount, &role, &acc.PasswordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	acc.Role = Role(role)
	return &acc, nil
}

func (s *identityStore) Create(ctx context.Context, acc *Account) error {
	if acc.Role == "" {
		acc.Role = RoleUser
	}
	row := s.db.QueryRowContext(ctx,
		`insert into users(handle, nickname, email, password, role) values($1,$2,$3,$4,$5) returning id`,
		acc.Handle, acc.Nickname, acc.Email, acc.PasswordHash, string(acc.Role),
	)
	if err := row.Scan(&acc.ID); err != nil {
		if IsUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *identityStore) FindByHandle(ctx context.Context, handle string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from users where handle=$1`, handle))
}

func (s *identityStore) Find(ctx context.Context, id int64) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from users where id=$1`, id))
}

func (s *identityStore) HandleExists(ctx context.Context, handle string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from users where handle=$1)`, handle,
	).Scan(&exists)
	return exists, err
}

func (s *identityStore) UpdateProfile(ctx context.Context, id int64, nickname, email *string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set nickname=coalesce($2, nickname), email=coalesce($3, email), updated_at=now() where id=$1`,
		id, nullString(nickname), nullString(email),
	)
	return expectAffected(res, err)
}

func (s *identityStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password=$2, updated_at=now() where id=$1`, id, passwordHash)
	return expectAffected(res, err)
}

func (s *identityStore) SetRole(ctx context.Context, id int64, role Role) error {
	res, err := s.db.ExecContext(ctx,
		`update users set role=$2, updated_at=now() where id=$1`, id, string(role))
	return expectAffected(res, err)
}

func (s *identityStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id=$1`, id)
	return expectAffected(res, err)
}

// Session store ------------------------------------------------------------
type sessionStore struct{ db *sql.DB }

func (s *sessionStore) Insert(ctx context.Context, sess Session) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`insert into sessions(selector, hashed_validator, user_id, expires_at) values($1,$2,$3,$4)
		 on conflict (selector) do nothing`,
		sess.Selector, sess.HashedValidator, sess.IdentityID, nullTime(sess.ExpiresAt),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sessionStore) FindBySelector(ctx context.Context, selector string) (*Session, error) {
	var (
		sess    Session
		expires sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`select selector, hashed_validator, user_id, expires_at from sessions where selector=$1`, selector,
	).Scan(&sess.Selector, &sess.HashedValidator, &sess.IdentityID, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		sess.ExpiresAt = &t
	}
	return &sess, nil
}

func (s *sessionStore) DeleteBySelector(ctx context.Context, selector string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where selector=$1`, selector)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sessionStore) DeleteByIdentity(ctx context.Context, identityID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where user_id=$1`, identityID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Circle store -------------------------------------------------------------
type circleStore struct{ db *sql.DB }

func (s *circleStore) ListByIdentity(ctx context.Context, identityID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`select circle_id from user_circles where user_id=$1 order by circle_id asc`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (s *circleStore) Grant(ctx context.Context, identityID, circleID int64) error {
	_, err := s.db.ExecContext(ctx,
		`insert into user_circles(user_id, circle_id) values($1,$2) on conflict (user_id, circle_id) do nothing`,
		identityID, circleID)
	return err
}

func (s *circleStore) Revoke(ctx context.Context, identityID, circleID int64) error {
	res, err := s.db.ExecContext(ctx,
		`delete from user_circles where user_id=$1 and circle_id=$2`, identityID, circleID)
	return expectAffected(res, err)
}

func expectAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
