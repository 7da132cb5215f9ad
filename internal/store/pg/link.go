package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"neon.nuty.works/internal/auth"
	"neon.nuty.works/internal/oauthlink"
)

func (s *Store) SaveAttempt(ctx context.Context, a oauthlink.Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		insert into oauth_link_attempts(identity_id, state, code_verifier, created_at)
		values ($1,$2,$3,$4)
		on conflict (identity_id) do update
		set state = excluded.state, code_verifier = excluded.code_verifier, created_at = excluded.created_at
	`, a.IdentityID, a.State, a.CodeVerifier, a.CreatedAt)
	if auth.IsUniqueViolation(err) {
		return auth.ErrConflict
	}
	return err
}

func (s *Store) ConsumeAttempt(ctx context.Context, state string) (oauthlink.Attempt, error) {
	var a oauthlink.Attempt
	err := s.db.QueryRowContext(ctx, `
		delete from oauth_link_attempts where state=$1
		returning identity_id, state, code_verifier, created_at
	`, state).Scan(&a.IdentityID, &a.State, &a.CodeVerifier, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return oauthlink.Attempt{}, oauthlink.ErrNotFound
	}
	if err != nil {
		return oauthlink.Attempt{}, err
	}
	return a, nil
}

func (s *Store) CirclesByAccountURLs(ctx context.Context, urls []string) ([]int64, error) {
	res := []int64{}
	if len(urls) == 0 {
		return res, nil
	}
	placeholders := make([]string, len(urls))
	args := make([]any, len(urls))
	for i, u := range urls {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = u
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct ca.circle_id
		from artists a
		join circle_artists ca on ca.artist_id = a.id
		where a.account_url in (`+strings.Join(placeholders, ",")+`)
		order by ca.circle_id asc
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (s *Store) LinkAccount(ctx context.Context, identityID int64, handle string, circleIDs []int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, circleID := range circleIDs {
			if _, err := tx.ExecContext(ctx, `
				insert into user_circles(user_id, circle_id) values ($1,$2)
				on conflict (user_id, circle_id) do nothing
			`, identityID, circleID); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx,
			`update users set twitter_id=$2, updated_at=now() where id=$1`, identityID, handle)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return auth.ErrNotFound
		}
		return nil
	})
}
