package delivery

import "errors"

var (
	// ErrMalformed marks a payload that is not structurally valid.
	ErrMalformed = errors.New("malformed webhook payload")
	// ErrBadSignature marks a payload whose integrity check failed.
	ErrBadSignature = errors.New("webhook signature verification failed")
)
