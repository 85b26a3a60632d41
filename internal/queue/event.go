// Package queue defines message payloads exchanged over the message
// broker and the publisher/consumer pair that moves them.
package queue

// CallInitiatedEvent is published when a call session is successfully
// created.  It carries everything the push consumer needs to ring the
// callee's device without querying the primary database.
type CallInitiatedEvent struct {
	CallID       string `json:"call_id"`
	CallerUserID uint64 `json:"caller_user_id"`
	CallerName   string `json:"caller_name"`
	CalleeUserID uint64 `json:"callee_user_id"`
	DeviceToken  string `json:"device_token"`
	StartedAt    string `json:"started_at"`
}
