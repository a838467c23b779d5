// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across codec/storage/session layers.
var (
	// ErrNotFound indicates the requested storage slot or session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExpired indicates a session whose expiry or remember window has passed.
	ErrExpired = errors.New("session expired")

	// ErrCorrupt indicates a stored payload that is not a valid session envelope.
	ErrCorrupt = errors.New("corrupt session payload")

	// ErrDecode indicates an obfuscated value that could not be decoded.
	ErrDecode = errors.New("decode failed")

	// ErrTampered indicates an expiry beyond the hard upper bound of a live session.
	ErrTampered = errors.New("session expiry out of bounds")

	// ErrRoleMismatch indicates a session tagged with a different role than its slot.
	ErrRoleMismatch = errors.New("session role mismatch")

	// ErrUnauthorized indicates the external API rejected the credentials or token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrQuotaExceeded indicates a storage write rejected for size reasons.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrUnavailable indicates the storage backend could not be reached.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrEmptyKey indicates an obfuscation codec configured without a key.
	ErrEmptyKey = errors.New("empty obfuscation key")
)
