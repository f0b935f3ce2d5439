package signature

import "errors"

// Public, stable errors for callers.
var (
	ErrMalformedAuth     = errors.New("malformed auth token")
	ErrKeyMismatch       = errors.New("auth key mismatch")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrMissingParam      = errors.New("missing auth parameter")
	ErrTimestampSkew     = errors.New("auth timestamp outside allowed window")
	ErrBodyDigest        = errors.New("body_md5 mismatch")
	ErrUnsupportedVer    = errors.New("unsupported auth_version")
)
