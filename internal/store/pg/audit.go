package pg

import (
	"context"
	"encoding/json"

	"neon.nuty.works/internal/audit"
)

var _ audit.Sink = (*Store)(nil)

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) error {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return err
	}
	var identityID any
	if e.IdentityID != 0 {
		identityID = e.IdentityID
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_log(id, occurred_at, event, identity_id, request_id, fields)
		values ($1,$2,$3,$4,$5,$6)
	`, e.ID, e.OccurredAt, e.Event, identityID, nullIfEmpty(e.RequestID), fields)
	return err
}
