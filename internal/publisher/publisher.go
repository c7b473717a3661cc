package publisher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"postflow/internal/domain"
)

// Payload is the content handed to a platform adapter.
type Payload struct {
	Content      string
	ImageURL     string
	ScheduleHint *time.Time
}

// Result captures the outcome of one delivery attempt. Adapters never return
// errors; every failure is carried here so callers can apply a uniform retry
// policy.
type Result struct {
	Success  bool
	Platform domain.Platform
	PostID   string
	URL      string
	Err      string

	// Manual marks a hand-off to a human workflow: not delivered, but a
	// terminal non-error outcome.
	Manual bool

	// Permanent marks a failure retrying cannot fix (malformed webhook URL,
	// missing required media). These skip the retry budget entirely.
	Permanent bool
}

// Publisher is the uniform delivery contract. Credentials are nil for
// platforms that don't need them.
type Publisher interface {
	Publish(ctx context.Context, creds *domain.Credential, p Payload) Result
}

// Registry maps platforms to their adapters; callers dispatch by platform
// name and never branch on the platform themselves.
type Registry struct {
	adapters map[domain.Platform]Publisher
}

func NewRegistry(client *http.Client) *Registry {
	meta := NewMeta(client)
	return &Registry{adapters: map[domain.Platform]Publisher{
		domain.PlatformDiscord:   NewDiscord(client),
		domain.PlatformInstagram: meta,
		domain.PlatformFacebook:  meta,
		domain.PlatformYouTube:   NewYouTube(client),
		domain.PlatformX:         Manual{},
		domain.PlatformLinkedIn:  Manual{},
	}}
}

// NewRegistryWith builds a registry from an explicit adapter table.
func NewRegistryWith(adapters map[domain.Platform]Publisher) *Registry {
	return &Registry{adapters: adapters}
}

func (r *Registry) Dispatch(ctx context.Context, platform domain.Platform, creds *domain.Credential, p Payload) Result {
	pub, ok := r.adapters[platform]
	if !ok {
		return Result{
			Platform:  platform,
			Err:       fmt.Sprintf("unknown platform: %s", platform),
			Permanent: true,
		}
	}
	res := pub.Publish(ctx, creds, p)
	res.Platform = platform
	return res
}
