package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func TestPGIdentityCreate(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("insert into users").
		WithArgs("alice", "Alice", "alice@example.com", "$argon2id$hash", "user").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(17)))

	acc := &Account{Identity: Identity{Handle: "alice", Nickname: "Alice", Email: "alice@example.com"}, PasswordHash: "$argon2id$hash"}
	if err := store.Identities(ctx).Create(ctx, acc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if acc.ID != 17 || acc.Role != RoleUser {
		t.Fatalf("unexpected account: %+v", acc)
	}

	mock.ExpectQuery("insert into users").
		WillReturnError(&pgconn.PgError{Code: PGUniqueViolation})
	if err := store.Identities(ctx).Create(ctx, &Account{Identity: Identity{Handle: "alice"}}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGIdentityFindByHandle(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	cols := []string{"id", "handle", "nickname", "email", "twitter_id", "role", "password"}
	mock.ExpectQuery("select .* from users where handle=\\$1").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(3), "alice", "Alice", "a@example.com", "alice_x", "moderator", "$argon2id$h"))
	mock.ExpectQuery("select .* from users where handle=\\$1").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	acc, err := store.Identities(ctx).FindByHandle(ctx, "alice")
	if err != nil {
		t.Fatalf("FindByHandle: %v", err)
	}
	if acc.ID != 3 || acc.Role != RoleModerator || acc.ExternalAccount != "alice_x" || acc.PasswordHash != "$argon2id$h" {
		t.Fatalf("unexpected account: %+v", acc)
	}
	if _, err := store.Identities(ctx).FindByHandle(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGIdentityUpdatesRequireRow(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("update users set password").
		WithArgs(int64(3), "$argon2id$new").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update users set role").
		WithArgs(int64(404), "admin").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("update users set nickname=coalesce").
		WithArgs(int64(3), sql.NullString{String: "Al", Valid: true}, sql.NullString{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Identities(ctx).UpdatePassword(ctx, 3, "$argon2id$new"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if err := store.Identities(ctx).SetRole(ctx, 404, RoleAdmin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	nick := "Al"
	if err := store.Identities(ctx).UpdateProfile(ctx, 3, &nick, nil); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSessionInsertIfAbsent(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	exp := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)

	mock.ExpectExec("insert into sessions.*on conflict \\(selector\\) do nothing").
		WithArgs("AAAAAAAAAAAA", "digest", int64(5), sql.NullTime{Time: exp, Valid: true}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into sessions.*on conflict \\(selector\\) do nothing").
		WithArgs("AAAAAAAAAAAA", "digest2", int64(6), sql.NullTime{}).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Sessions(ctx).Insert(ctx, Session{Selector: "AAAAAAAAAAAA", HashedValidator: "digest", IdentityID: 5, ExpiresAt: &exp})
	if err != nil || !ok {
		t.Fatalf("Insert=%v,%v", ok, err)
	}
	ok, err = store.Sessions(ctx).Insert(ctx, Session{Selector: "AAAAAAAAAAAA", HashedValidator: "digest2", IdentityID: 6})
	if err != nil || ok {
		t.Fatalf("Insert on collision=%v,%v; want false,nil", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSessionLookupAndDelete(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	cols := []string{"selector", "hashed_validator", "user_id", "expires_at"}
	mock.ExpectQuery("select selector, hashed_validator, user_id, expires_at from sessions").
		WithArgs("persistent00").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("persistent00", "digest", int64(9), nil))
	mock.ExpectQuery("select selector, hashed_validator, user_id, expires_at from sessions").
		WithArgs("missing00000").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("delete from sessions where selector=\\$1").
		WithArgs("persistent00").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from sessions where user_id=\\$1").
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	sess, err := store.Sessions(ctx).FindBySelector(ctx, "persistent00")
	if err != nil {
		t.Fatalf("FindBySelector: %v", err)
	}
	if sess.ExpiresAt != nil || sess.IdentityID != 9 {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if _, err := store.Sessions(ctx).FindBySelector(ctx, "missing00000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n, err := store.Sessions(ctx).DeleteBySelector(ctx, "persistent00"); err != nil || n != 1 {
		t.Fatalf("DeleteBySelector=%d,%v", n, err)
	}
	if n, err := store.Sessions(ctx).DeleteByIdentity(ctx, 9); err != nil || n != 3 {
		t.Fatalf("DeleteByIdentity=%d,%v", n, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGCircles(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("select circle_id from user_circles").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"circle_id"}).AddRow(int64(4)).AddRow(int64(8)))
	mock.ExpectExec("insert into user_circles.*on conflict \\(user_id, circle_id\\) do nothing").
		WithArgs(int64(2), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from user_circles").
		WithArgs(int64(2), int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ids, err := store.Circles(ctx).ListByIdentity(ctx, 2)
	if err != nil {
		t.Fatalf("ListByIdentity: %v", err)
	}
	if len(ids) != 2 || ids[0] != 4 || ids[1] != 8 {
		t.Fatalf("unexpected circles: %v", ids)
	}
	if err := store.Circles(ctx).Grant(ctx, 2, 4); err != nil {
		t.Fatalf("Grant existing edge: %v", err)
	}
	if err := store.Circles(ctx).Revoke(ctx, 2, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: PGUniqueViolation})
	if !IsUniqueViolation(wrapped) {
		t.Fatal("wrapped unique violation not detected")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violation reported as unique")
	}
	if IsUniqueViolation(errors.New("23505")) || IsUniqueViolation(nil) {
		t.Fatal("non-pg error reported as unique")
	}
}
