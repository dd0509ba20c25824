package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotEditable = errors.New("campaign no longer accepts recipients")
	ErrTooMany     = errors.New("too many recipients in one request")
)
