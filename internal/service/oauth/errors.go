package oauth

import "errors"

var (
	// ErrProviderDisabled is returned for a provider without credentials.
	ErrProviderDisabled = errors.New("oauth provider is not configured")
	// ErrPagesUnsupported is returned by Pages for providers without pages.
	ErrPagesUnsupported = errors.New("provider does not support pages")
)
