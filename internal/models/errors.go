package models

import "errors"

var (
	ErrAlreadyExists     = errors.New("room already exists")
	ErrNotFound          = errors.New("not found")
	ErrInvalidCredential = errors.New("invalid password")
	ErrWrongPhase        = errors.New("action not allowed in the current phase")
	ErrForbidden         = errors.New("admin only")
	ErrNotOwner          = errors.New("card author only")
	ErrSessionExpired    = errors.New("session expired")
	ErrStorage           = errors.New("storage error")
	ErrInvalidPayload    = errors.New("invalid request")
	ErrRateLimited       = errors.New("rate limited")
)

// public maps the request-scoped errors to the text clients are shown.
var public = []struct {
	err error
	msg string
}{
	{ErrAlreadyExists, "Room already exists"},
	{ErrNotFound, "Not found"},
	{ErrInvalidCredential, "Invalid password"},
	{ErrWrongPhase, "Action not allowed in the current phase"},
	{ErrForbidden, "Only the room admin can perform this action"},
	{ErrNotOwner, "Only the card author can perform this action"},
	{ErrSessionExpired, "Session expired"},
	{ErrInvalidPayload, "Invalid request"},
	{ErrRateLimited, "Too many requests"},
}

const storageMessage = "Storage error"

// PublicMessage returns the client-facing text for err. Anything outside the
// taxonomy, storage failures included, is reported as a generic storage error.
func PublicMessage(err error) string {
	for _, known := range public {
		if errors.Is(err, known.err) {
			return known.msg
		}
	}
	return storageMessage
}

// IsPublic reports whether err belongs to the request-scoped taxonomy that is
// safe to show to clients.
func IsPublic(err error) bool {
	for _, known := range public {
		if errors.Is(err, known.err) {
			return true
		}
	}
	return false
}
