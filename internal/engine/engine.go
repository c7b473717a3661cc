package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"postflow/internal/domain"
	"postflow/internal/generator"
	"postflow/internal/publisher"
	"postflow/internal/store"
)

var (
	ErrInvalidAction = errors.New("invalid action")
	ErrPastSchedule  = errors.New("scheduled time must be in the future")
	ErrNotApproved   = errors.New("post must be approved before publishing")
	ErrNotEditable   = errors.New("post can only be edited while pending")
	ErrNoPlatforms   = errors.New("at least one platform is required")
)

// Service drives the post lifecycle: generation intake, the approval gate,
// immediate dispatch and the scheduled-job surface.
type Service struct {
	repo            store.Repository
	registry        *publisher.Registry
	gen             generator.Generator
	fallback        generator.Generator
	now             func() time.Time
	dispatchTimeout time.Duration
}

func NewService(repo store.Repository, registry *publisher.Registry, gen generator.Generator, dispatchTimeout time.Duration) *Service {
	return &Service{
		repo:            repo,
		registry:        registry,
		gen:             gen,
		fallback:        generator.NewTemplates(time.Now().UnixNano()),
		now:             func() time.Time { return time.Now().UTC() },
		dispatchTimeout: dispatchTimeout,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GeneratePost produces content for review and stores it as pending. A failed
// or empty generation falls back to template copy.
func (s *Service) GeneratePost(ctx context.Context, userID, topic string, platform domain.Platform, mood, cta string) (domain.Post, error) {
	req := generator.Request{Topic: topic, Platform: platform, Mood: mood, CallToAction: cta}
	gen, err := s.gen.Generate(ctx, req)
	if err != nil || strings.TrimSpace(gen.Content) == "" {
		if err != nil {
			log.Warn().Err(err).Str("platform", string(platform)).Msg("generation failed, using fallback")
		}
		gen, err = s.fallback.Generate(ctx, req)
		if err != nil {
			return domain.Post{}, err
		}
	}

	post := domain.Post{
		UserID:            userID,
		Content:           gen.Content,
		Platform:          platform,
		Hashtags:          gen.Hashtags,
		AuthenticityScore: gen.AuthenticityScore,
		Status:            domain.PostPending,
	}
	id, err := s.repo.CreatePost(ctx, post)
	if err != nil {
		return domain.Post{}, err
	}
	return s.repo.GetPost(ctx, id)
}

// Action is a review decision over a pending post.
type Action struct {
	Name          string
	EditedContent string
	ScheduleTime  *time.Time
}

// ActOnPost applies an approval-gate action. Approve with a schedule time
// enqueues a job; approve without one dispatches immediately and the returned
// result carries the outcome. Edit does not advance the state machine.
func (s *Service) ActOnPost(ctx context.Context, postID string, act Action) (domain.Post, *publisher.Result, error) {
	post, err := s.repo.GetPost(ctx, postID)
	if err != nil {
		return domain.Post{}, nil, err
	}

	switch act.Name {
	case "approve":
		if !domain.CanTransition(post.Status, domain.PostApproved) {
			return post, nil, ErrInvalidAction
		}
		if act.ScheduleTime != nil && !act.ScheduleTime.After(s.now()) {
			return post, nil, ErrPastSchedule
		}
		if err := s.repo.SetPostStatus(ctx, post.ID, domain.PostApproved, post.Status); err != nil {
			return post, nil, err
		}
		if act.ScheduleTime != nil {
			if err := s.enqueueForPost(ctx, post, *act.ScheduleTime); err != nil {
				return post, nil, err
			}
		} else {
			res := s.dispatch(ctx, post, post.Platform)
			post, err = s.repo.GetPost(ctx, post.ID)
			return post, &res, err
		}

	case "reject":
		if !domain.CanTransition(post.Status, domain.PostRejected) {
			return post, nil, ErrInvalidAction
		}
		if err := s.repo.SetPostStatus(ctx, post.ID, domain.PostRejected, post.Status); err != nil {
			return post, nil, err
		}

	case "edit":
		if post.Status != domain.PostPending && post.Status != domain.PostDraft {
			return post, nil, ErrNotEditable
		}
		if act.EditedContent != "" {
			tags := generator.ExtractHashtags(act.EditedContent)
			if err := s.repo.UpdatePostContent(ctx, post.ID, act.EditedContent, tags); err != nil {
				return post, nil, err
			}
		}

	default:
		return post, nil, ErrInvalidAction
	}

	post, err = s.repo.GetPost(ctx, post.ID)
	return post, nil, err
}

// PublishNow dispatches an approved post to one platform, bypassing the queue.
func (s *Service) PublishNow(ctx context.Context, postID string, platform domain.Platform) (domain.Post, publisher.Result, error) {
	post, err := s.repo.GetPost(ctx, postID)
	if err != nil {
		return domain.Post{}, publisher.Result{}, err
	}
	if post.Status != domain.PostApproved {
		return post, publisher.Result{}, ErrNotApproved
	}
	if platform == "" {
		platform = post.Platform
	}
	res := s.dispatch(ctx, post, platform)
	post, err = s.repo.GetPost(ctx, post.ID)
	return post, res, err
}

// dispatch performs a single delivery attempt and records the outcome on the
// post. Failures leave the post approved so the caller may retry manually.
func (s *Service) dispatch(ctx context.Context, post domain.Post, platform domain.Platform) publisher.Result {
	creds, err := s.repo.ActiveCredential(ctx, post.UserID, platform)
	if err != nil {
		return publisher.Result{Platform: platform, Err: err.Error()}
	}

	dctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()
	res := s.registry.Dispatch(dctx, platform, creds, publisher.Payload{Content: post.Content})

	if res.Success {
		// Manual platforms are "handed off", which is terminal here too.
		if err := s.repo.MarkPostPosted(ctx, post.ID, res.PostID, res.URL, s.now()); err != nil {
			log.Error().Err(err).Str("post_id", post.ID).Msg("failed to record publish result")
		}
		log.Info().Str("post_id", post.ID).Str("platform", string(platform)).Bool("manual", res.Manual).Msg("post published")
	} else {
		log.Warn().Str("post_id", post.ID).Str("platform", string(platform)).Str("error", res.Err).Msg("dispatch failed")
	}
	return res
}

func (s *Service) enqueueForPost(ctx context.Context, post domain.Post, due time.Time) error {
	postID := post.ID
	job := domain.ScheduledJob{
		UserID:        post.UserID,
		PostID:        &postID,
		Content:       post.Content,
		Platforms:     []domain.Platform{post.Platform},
		ScheduledTime: due,
	}
	jobID, err := s.repo.CreateJob(ctx, job)
	if err != nil {
		return err
	}
	if err := s.repo.SchedulePost(ctx, post.ID, due); err != nil {
		return err
	}
	log.Info().Str("post_id", post.ID).Str("job_id", jobID).Time("due", due).Msg("post scheduled")
	return nil
}

// ScheduleJob enqueues a standalone publish job. The due time must be
// strictly in the future and the platform set distinct and non-empty.
func (s *Service) ScheduleJob(ctx context.Context, userID, content string, platformNames []string, due time.Time, imageURL string) (domain.ScheduledJob, error) {
	if len(platformNames) == 0 {
		return domain.ScheduledJob{}, ErrNoPlatforms
	}
	seen := map[domain.Platform]bool{}
	var platforms []domain.Platform
	for _, name := range platformNames {
		p, err := domain.ParsePlatform(name)
		if err != nil {
			return domain.ScheduledJob{}, err
		}
		if !seen[p] {
			seen[p] = true
			platforms = append(platforms, p)
		}
	}
	if !due.After(s.now()) {
		return domain.ScheduledJob{}, ErrPastSchedule
	}

	job := domain.ScheduledJob{
		UserID:        userID,
		Content:       content,
		Platforms:     platforms,
		ScheduledTime: due,
	}
	if imageURL != "" {
		job.ImageURL = &imageURL
	}
	id, err := s.repo.CreateJob(ctx, job)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	log.Info().Str("job_id", id).Time("due", due).Int("platforms", len(platforms)).Msg("job scheduled")
	return s.repo.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, userID string, status domain.JobStatus) ([]domain.ScheduledJob, error) {
	return s.repo.ListJobs(ctx, userID, status)
}

// CancelJob cancels a pending job. Once the poller has published or failed
// it, the cancel is reported as not found rather than clobbering the record.
func (s *Service) CancelJob(ctx context.Context, id, userID string) error {
	ok, err := s.repo.CancelJob(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (s *Service) GetPost(ctx context.Context, id string) (domain.Post, error) {
	return s.repo.GetPost(ctx, id)
}

func (s *Service) ListPosts(ctx context.Context, userID string, status domain.PostStatus) ([]domain.Post, error) {
	return s.repo.ListPosts(ctx, userID, status)
}

// ConnectDiscord stores a webhook credential for a user.
func (s *Service) ConnectDiscord(ctx context.Context, userID, webhookURL, serverName string) (domain.Credential, error) {
	if !strings.HasPrefix(webhookURL, "https://discord.com/api/webhooks/") {
		return domain.Credential{}, errors.New("invalid Discord webhook URL")
	}
	cred := domain.Credential{
		UserID:     userID,
		Platform:   domain.PlatformDiscord,
		WebhookURL: &webhookURL,
	}
	if serverName != "" {
		cred.AccountName = &serverName
	}
	id, err := s.repo.UpsertCredential(ctx, cred)
	if err != nil {
		return domain.Credential{}, err
	}
	cred.ID = id
	return cred, nil
}

// ConnectMeta stores an OAuth credential for an Instagram or Facebook page.
func (s *Service) ConnectMeta(ctx context.Context, userID string, platform domain.Platform, accessToken, pageID, pageName string) (domain.Credential, error) {
	if platform != domain.PlatformInstagram && platform != domain.PlatformFacebook {
		return domain.Credential{}, errors.New("platform must be instagram or facebook")
	}
	if accessToken == "" || pageID == "" {
		return domain.Credential{}, errors.New("access_token and page_id are required")
	}
	cred := domain.Credential{
		UserID:      userID,
		Platform:    platform,
		AccessToken: accessToken,
		PageID:      &pageID,
	}
	if pageName != "" {
		cred.AccountName = &pageName
	}
	id, err := s.repo.UpsertCredential(ctx, cred)
	if err != nil {
		return domain.Credential{}, err
	}
	cred.ID = id
	return cred, nil
}

func (s *Service) ListAccounts(ctx context.Context, userID string) ([]domain.Credential, error) {
	return s.repo.ListCredentials(ctx, userID)
}

func (s *Service) DisconnectAccount(ctx context.Context, id, userID string) error {
	return s.repo.DeactivateCredential(ctx, id, userID)
}
