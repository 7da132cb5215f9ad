package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"neon.nuty.works/internal/auth"
	"neon.nuty.works/internal/ids"
	"neon.nuty.works/internal/obs"
)

const (
	EventRegistered      = "auth.registered"
	EventLogin           = "auth.login"
	EventLoginFailed     = "auth.login_failed"
	EventLogout          = "auth.logout"
	EventProfileUpdated  = "auth.profile_updated"
	EventPasswordRotated = "auth.password_rotated"
	EventAccountDeleted  = "auth.account_deleted"
	EventRoleChanged     = "auth.role_changed"
	EventCircleGranted   = "auth.circle_granted"
	EventCircleRevoked   = "auth.circle_revoked"
	EventLinkStarted     = "oauth.link_started"
	EventLinked          = "oauth.linked"
	EventLinkFailed      = "oauth.link_failed"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Entry is a persisted audit record.
type Entry struct {
	ID         string
	OccurredAt time.Time
	Event      string
	IdentityID int64
	RequestID  string
	Fields     map[string]any
}

// Sink persists audit entries.
type Sink interface {
	AppendAudit(ctx context.Context, e Entry) error
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and identity context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	_, err := logEntry(ctx, event, fields)
	return err
}

func logEntry(ctx context.Context, event string, fields map[string]any) (Entry, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return Entry{}, errors.New("event name is required")
	}
	e := Entry{
		ID:         ids.New(),
		OccurredAt: time.Now().UTC(),
		Event:      event,
		RequestID:  requestIDFromContext(ctx),
		Fields:     make(map[string]any, len(fields)),
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	line := map[string]any{
		"ts":     e.OccurredAt.Format(time.RFC3339Nano),
		"type":   "audit",
		"id":     e.ID,
		"event":  e.Event,
		"fields": e.Fields,
	}
	if e.RequestID != "" {
		line["request_id"] = e.RequestID
	}
	if id, ok := auth.IdentityIDFromContext(ctx); ok {
		e.IdentityID = id
		line["identity_id"] = id
	} else if id, ok := fields["identity_id"].(int64); ok {
		e.IdentityID = id
	}

	data, err := json.Marshal(line)
	if err != nil {
		return Entry{}, err
	}
	obs.Logger().Println(string(data))
	return e, nil
}

// Recorder logs audit events and, when a sink is configured, persists them.
type Recorder struct {
	sink Sink
}

// NewRecorder returns a recorder. A nil sink only logs.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink}
}

// Record logs the event and appends it to the sink.
func (r *Recorder) Record(ctx context.Context, event string, fields map[string]any) error {
	e, err := logEntry(ctx, event, fields)
	if err != nil {
		return err
	}
	if r == nil || r.sink == nil {
		return nil
	}
	return r.sink.AppendAudit(ctx, e)
}
