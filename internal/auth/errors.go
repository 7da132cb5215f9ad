package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")

	// Login failure. Never says whether the handle or the password was wrong.
	ErrAuthenticationFailed = errors.New("auth: authentication failed")

	ErrTokenMissing   = errors.New("auth: token missing")
	ErrTokenMalformed = errors.New("auth: token malformed")
	ErrTokenInvalid   = errors.New("auth: token invalid")

	ErrNotAuthorized = errors.New("auth: not authorized")

	ErrHashingFailure = errors.New("auth: password hashing failed")
	ErrMalformedHash  = errors.New("auth: malformed password hash")
)
