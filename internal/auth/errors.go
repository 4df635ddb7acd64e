package auth

import "errors"

var (
	// ErrTokenExpired means signature and format were fine but the token
	// is past its exp claim. Callers should attempt a refresh rotation.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenInvalid covers malformed tokens, bad signatures and any
	// storage failure during verification (fail closed).
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrTokenRevoked means the token id was revoked by logout or
	// administrative action. Revocation overrides cryptographic validity.
	ErrTokenRevoked = errors.New("auth: token revoked")

	// ErrTokenReplay means a refresh token already consumed by rotation
	// was presented again. Treated as evidence of theft: the whole token
	// family is revoked when this is returned.
	ErrTokenReplay = errors.New("auth: refresh token replayed")

	// ErrPermissionDenied is the terminal outcome of a failed permission
	// check.
	ErrPermissionDenied = errors.New("auth: permission denied")

	// ErrStorageUnavailable wraps resolver or store I/O failures. It is
	// always resolved as deny/invalid, never as allow.
	ErrStorageUnavailable = errors.New("auth: storage unavailable")

	ErrNotFound       = errors.New("auth: not found")
	ErrAlreadyRevoked = errors.New("auth: token already revoked")
	ErrInvalidInput   = errors.New("auth: invalid input")
	ErrUnauthorized   = errors.New("auth: unauthorized")
)
