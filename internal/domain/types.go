package domain

import (
	"fmt"
	"time"
)

type Platform string

const (
	PlatformX         Platform = "x"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformYouTube   Platform = "youtube"
	PlatformDiscord   Platform = "discord"
)

var platforms = map[Platform]bool{
	PlatformX:         true,
	PlatformInstagram: true,
	PlatformFacebook:  true,
	PlatformLinkedIn:  true,
	PlatformYouTube:   true,
	PlatformDiscord:   true,
}

func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if !platforms[p] {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

type PostStatus string

const (
	PostDraft     PostStatus = "draft"
	PostPending   PostStatus = "pending"
	PostApproved  PostStatus = "approved"
	PostRejected  PostStatus = "rejected"
	PostScheduled PostStatus = "scheduled"
	PostPosted    PostStatus = "posted"
	PostFailed    PostStatus = "failed"
)

// postTransitions is the post lifecycle graph. rejected and posted are
// terminal; failed may be re-approved for another attempt.
var postTransitions = map[PostStatus][]PostStatus{
	PostDraft:     {PostPending, PostRejected},
	PostPending:   {PostApproved, PostRejected},
	PostApproved:  {PostScheduled, PostPosted, PostFailed},
	PostScheduled: {PostPosted, PostFailed},
	PostFailed:    {PostApproved},
}

// CanTransition reports whether a post may move from one status to another.
func CanTransition(from, to PostStatus) bool {
	for _, s := range postTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobPublished JobStatus = "published"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// MaxRetries is the retry ceiling for scheduled jobs. Once retry_count
// reaches it the job is frozen at failed and never re-polled.
const MaxRetries = 3

type Post struct {
	ID                string
	UserID            string
	Content           string
	Platform          Platform
	Hashtags          []string
	AuthenticityScore float64
	Status            PostStatus
	ScheduledTime     *time.Time
	PostedAt          *time.Time
	PlatformPostID    *string
	PlatformURL       *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type ScheduledJob struct {
	ID            string
	UserID        string
	PostID        *string
	Content       string
	ImageURL      *string
	Platforms     []Platform
	ScheduledTime time.Time
	Status        JobStatus
	RetryCount    int
	ErrorMessage  *string
	PublishedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Credential struct {
	ID           string
	UserID       string
	Platform     Platform
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *time.Time
	PageID       *string
	ChannelID    *string
	WebhookURL   *string
	AccountName  *string
	Active       bool
	CreatedAt    time.Time
}
