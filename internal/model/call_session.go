package model

import "time"

// CallSession tracks one voice-call attempt in the `call_sessions`
// table.  A session is created on call start referencing the token it
// will consume, and is mutated exactly once when the call ends.  The
// ended_at column doubles as the idempotency guard: ending an already
// ended session is a no-op.
//
// Fields:
//  ID              – UUID assigned at call start; shared with the
//                    push notification so the callee can answer.
//  CallerUserID    – the user who initiated the call and pays for it.
//  CalleeUserID    – the advisor receiving the call.
//  TokenID         – the token whose minutes the call consumes.
//  StartedAt       – call start timestamp (server clock).
//  EndedAt         – call end timestamp; NULL while in progress.
//  DurationSeconds – server-observed elapsed seconds, set at end.
type CallSession struct {
	ID              string     // call_sessions.id (uuid)
	CallerUserID    uint64     // call_sessions.caller_user_id
	CalleeUserID    uint64     // call_sessions.callee_user_id
	TokenID         uint64     // call_sessions.token_id
	StartedAt       time.Time  // call_sessions.started_at
	EndedAt         *time.Time // call_sessions.ended_at (nullable)
	DurationSeconds uint32     // call_sessions.duration_seconds
}
