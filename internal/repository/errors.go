// Package repository defines error types that are reused across
// multiple repositories.  These sentinel values allow higher layers
// such as handlers to distinguish between different failure
// scenarios.  For example, ErrForbidden indicates that the current
// user is not authorized to perform an operation on a resource owned
// by someone else, while ErrConflict signals that an operation cannot
// proceed because of the resource's current state (e.g. purchasing a
// listing that is no longer open).
package repository

import "errors"

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own.  Handlers should translate this into an
// HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because
// of conflicting state, such as buying a listing that has already
// closed or consuming a token that is already spent.  Handlers should
// translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrTokenNotFound is returned when a token lookup matches no row.
var ErrTokenNotFound = errors.New("token not found")

// ErrNoActiveToken is returned when a user has no active token with
// remaining minutes to consume.
var ErrNoActiveToken = errors.New("no active tokens available")

// ErrListingNotFound is returned when a listing lookup matches no row.
var ErrListingNotFound = errors.New("listing not found")

// ErrEmailExists is returned when registering with an email that is
// already taken.
var ErrEmailExists = errors.New("email already exists")
