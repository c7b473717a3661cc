package publisher

import (
	"context"

	"postflow/internal/domain"
)

// Manual covers platforms with no programmatic publish path available here
// (X and LinkedIn). The content is preserved for a human to copy; the result
// means "handed off", not "delivered".
type Manual struct{}

func (Manual) Publish(ctx context.Context, creds *domain.Credential, p Payload) Result {
	return Result{Success: true, Manual: true}
}
