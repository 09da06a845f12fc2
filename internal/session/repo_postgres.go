package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"voicelink/internal/identity"
)

// PostgresRepo persists call sessions in the call_sessions table.
//
// Expected schema (migrations are managed outside this process):
//
//	CREATE TABLE call_sessions (
//	    id               TEXT PRIMARY KEY,
//	    workspace_id     TEXT NOT NULL,
//	    caller_user_id   TEXT NOT NULL,
//	    caller_kind      TEXT NOT NULL,
//	    callee_user_id   TEXT NOT NULL,
//	    callee_kind      TEXT NOT NULL,
//	    caller_name      TEXT NOT NULL DEFAULT '',
//	    callee_name      TEXT NOT NULL DEFAULT '',
//	    room_name        TEXT NOT NULL UNIQUE,
//	    state            TEXT NOT NULL,
//	    origin           TEXT NOT NULL,
//	    external_ref     TEXT NOT NULL DEFAULT '',
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    answered_at      TIMESTAMPTZ,
//	    ended_at         TIMESTAMPTZ,
//	    end_reason       TEXT NOT NULL DEFAULT '',
//	    ended_by         TEXT NOT NULL DEFAULT '',
//	    duration_seconds INT NOT NULL DEFAULT 0
//	);
//	CREATE INDEX call_sessions_participant_idx ON call_sessions (workspace_id, caller_user_id, callee_user_id);
//	CREATE INDEX call_sessions_external_ref_idx ON call_sessions (external_ref) WHERE external_ref <> '';
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const sessionColumns = `id, workspace_id, caller_user_id, caller_kind, callee_user_id, callee_kind,
caller_name, callee_name, room_name, state, origin, external_ref,
created_at, answered_at, ended_at, end_reason, ended_by, duration_seconds`

func (r *PostgresRepo) Save(ctx context.Context, s Session) error {
	const q = `
INSERT INTO call_sessions (` + sessionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (id) DO UPDATE SET
    state = EXCLUDED.state,
    answered_at = EXCLUDED.answered_at,
    ended_at = EXCLUDED.ended_at,
    end_reason = EXCLUDED.end_reason,
    ended_by = EXCLUDED.ended_by,
    duration_seconds = EXCLUDED.duration_seconds,
    external_ref = EXCLUDED.external_ref`

	_, err := r.db.ExecContext(ctx, q,
		s.ID, s.WorkspaceID,
		s.Caller.UserID, string(s.Caller.Kind),
		s.Callee.UserID, string(s.Callee.Kind),
		s.CallerName, s.CalleeName,
		s.RoomName, string(s.State), string(s.Origin), s.ExternalRef,
		s.CreatedAt, s.AnsweredAt, s.EndedAt,
		s.EndReason, s.EndedBy, s.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("session save: %w", err)
	}
	return nil
}

func (r *PostgresRepo) FindByID(ctx context.Context, id string) (Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM call_sessions WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) FindActiveByParticipant(ctx context.Context, p identity.Participant) (Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM call_sessions
WHERE workspace_id = $1
  AND (caller_user_id = $2 OR callee_user_id = $2)
  AND state IN ('INITIATED','RINGING','CONNECTING','CONNECTED')
LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, q, p.WorkspaceID, p.UserID))
}

func (r *PostgresRepo) FindByExternalRef(ctx context.Context, ref string) (Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM call_sessions WHERE external_ref = $1 AND external_ref <> ''`
	return r.scanOne(r.db.QueryRowContext(ctx, q, ref))
}

func (r *PostgresRepo) ListByParticipant(ctx context.Context, p identity.Participant, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT ` + sessionColumns + ` FROM call_sessions
WHERE workspace_id = $1 AND (caller_user_id = $2 OR callee_user_id = $2)
ORDER BY created_at DESC
LIMIT $3`

	rows, err := r.db.QueryContext(ctx, q, p.WorkspaceID, p.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("session list: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepo) scanOne(row *sql.Row) (Session, error) {
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s                      Session
		callerKind, calleeKind string
		state, origin          string
	)
	err := row.Scan(
		&s.ID, &s.WorkspaceID,
		&s.Caller.UserID, &callerKind,
		&s.Callee.UserID, &calleeKind,
		&s.CallerName, &s.CalleeName,
		&s.RoomName, &state, &origin, &s.ExternalRef,
		&s.CreatedAt, &s.AnsweredAt, &s.EndedAt,
		&s.EndReason, &s.EndedBy, &s.DurationSeconds,
	)
	if err != nil {
		return Session{}, err
	}
	s.Caller.WorkspaceID = s.WorkspaceID
	s.Caller.Kind = identity.Kind(callerKind)
	s.Callee.WorkspaceID = s.WorkspaceID
	s.Callee.Kind = identity.Kind(calleeKind)
	s.State = State(state)
	s.Origin = Origin(origin)
	return s, nil
}
