package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/fridaylabs/token-market/internal/model"
)

// CallRepo provides persistence for call sessions.  A session row is
// written at call start and updated exactly once at call end; the
// NULL-ness of ended_at is the idempotency guard for re-ends.
type CallRepo struct {
	DB *sql.DB
}

// NewCallRepo returns a new CallRepo bound to the given database.
func NewCallRepo(db *sql.DB) *CallRepo { return &CallRepo{DB: db} }

const callColumns = "id, caller_user_id, callee_user_id, token_id, started_at, ended_at, duration_seconds"

func scanCall(row interface{ Scan(...interface{}) error }) (*model.CallSession, error) {
	var s model.CallSession
	var ended sql.NullTime
	err := row.Scan(&s.ID, &s.CallerUserID, &s.CalleeUserID, &s.TokenID,
		&s.StartedAt, &ended, &s.DurationSeconds)
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return &s, nil
}

// CreateTx inserts a new call session within an existing transaction.
// The caller supplies the UUID and start time.
func (r *CallRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.CallSession) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO call_sessions (id, caller_user_id, callee_user_id, token_id, started_at) VALUES (?,?,?,?,?)",
		s.ID, s.CallerUserID, s.CalleeUserID, s.TokenID, s.StartedAt.UTC())
	return err
}

// LockByIDTx returns a session by ID with a row lock held for the
// remainder of the transaction, or sql.ErrNoRows.
func (r *CallRepo) LockByIDTx(ctx context.Context, tx *sql.Tx, id string) (*model.CallSession, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+callColumns+" FROM call_sessions WHERE id = ? FOR UPDATE", id)
	return scanCall(row)
}

// LockActiveByCallerTx returns the caller's unterminated session, if
// any, locking it so concurrent call starts for the same caller are
// serialized.  Returns sql.ErrNoRows when the caller has no call in
// progress.
func (r *CallRepo) LockActiveByCallerTx(ctx context.Context, tx *sql.Tx, callerID uint64) (*model.CallSession, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+callColumns+" FROM call_sessions WHERE caller_user_id = ? AND ended_at IS NULL LIMIT 1 FOR UPDATE",
		callerID)
	return scanCall(row)
}

// EndTx stamps ended_at and the server-observed duration on a session
// that has not ended yet.  Returns ErrConflict when the session was
// already ended, letting the handler answer idempotently.
func (r *CallRepo) EndTx(ctx context.Context, tx *sql.Tx, id string, endedAt time.Time, durationSeconds uint32) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE call_sessions SET ended_at = ?, duration_seconds = ? WHERE id = ? AND ended_at IS NULL",
		endedAt.UTC(), durationSeconds, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ActiveByCaller returns the caller's call in progress without
// locking, or sql.ErrNoRows.
func (r *CallRepo) ActiveByCaller(ctx context.Context, callerID uint64) (*model.CallSession, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+callColumns+" FROM call_sessions WHERE caller_user_id = ? AND ended_at IS NULL LIMIT 1",
		callerID)
	return scanCall(row)
}

// ListByUser returns every session the user took part in, as caller
// or callee, newest first.
func (r *CallRepo) ListByUser(ctx context.Context, userID uint64) ([]model.CallSession, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+callColumns+" FROM call_sessions WHERE caller_user_id = ? OR callee_user_id = ? ORDER BY started_at DESC",
		userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.CallSession, 0)
	for rows.Next() {
		s, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
