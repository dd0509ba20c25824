package delivery

import (
	"context"
	"net/http"

	"github.com/ignite/outreach/internal/domain"
)

// Parser turns one webhook request into normalized events. Implementations
// run their integrity check first and return ErrBadSignature or
// ErrMalformed (wrapped) for the HTTP layer to map. A structurally valid
// payload with nothing to apply yields no events and no error.
type Parser interface {
	Provider() string
	Parse(ctx context.Context, header http.Header, body []byte) ([]domain.DeliveryEvent, error)
}
