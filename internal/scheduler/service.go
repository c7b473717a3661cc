package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"postflow/internal/domain"
	"postflow/internal/publisher"
	"postflow/internal/store"
)

// deferred platforms are skipped during polling: they have no automatic
// publish path here and are handled by a manual workflow instead. Skips are
// not failures.
var deferred = map[domain.Platform]bool{
	domain.PlatformX:        true,
	domain.PlatformLinkedIn: true,
	domain.PlatformYouTube:  true,
}

// Service is the due-work poller. A single cron entry wrapped in
// SkipIfStillRunning guarantees ticks never overlap.
type Service struct {
	repo            store.Repository
	registry        *publisher.Registry
	cron            *cron.Cron
	interval        time.Duration
	batchSize       int
	dispatchTimeout time.Duration
	now             func() time.Time
}

func NewService(repo store.Repository, registry *publisher.Registry, interval time.Duration, batchSize int, dispatchTimeout time.Duration) *Service {
	return &Service{
		repo:            repo,
		registry:        registry,
		interval:        interval,
		batchSize:       batchSize,
		dispatchTimeout: dispatchTimeout,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Start(ctx context.Context) {
	if s.cron != nil {
		return
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, _ = s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.Tick(ctx) })
	s.cron.Start()
	log.Info().Dur("interval", s.interval).Msg("publish poller started")
}

func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	log.Info().Msg("publish poller stopped")
}

// Tick drains one batch of due jobs in due-time order. Each job is isolated:
// a failure in one never prevents the next from being attempted.
func (s *Service) Tick(ctx context.Context) {
	now := s.now()
	jobs, err := s.repo.DueJobs(ctx, now, s.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to query due jobs")
		return
	}
	if len(jobs) == 0 {
		return
	}
	log.Info().Int("count", len(jobs)).Msg("due jobs found")

	for _, job := range jobs {
		s.publishJob(ctx, job)
	}
}

// publishJob dispatches one job to each of its platforms and aggregates the
// outcome: published only when every targeted platform succeeded.
func (s *Service) publishJob(ctx context.Context, job domain.ScheduledJob) {
	var (
		errs          []string
		failures      int
		permanentOnly = true
		remoteID      string
		remoteURL     string
	)

	payload := publisher.Payload{Content: job.Content}
	if job.ImageURL != nil {
		payload.ImageURL = *job.ImageURL
	}

	for _, platform := range job.Platforms {
		if deferred[platform] {
			log.Info().Str("job_id", job.ID).Str("platform", string(platform)).Msg("platform deferred to manual workflow")
			continue
		}

		creds, err := s.repo.ActiveCredential(ctx, job.UserID, platform)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", platform, err))
			failures++
			permanentOnly = false
			continue
		}
		if creds == nil && platform != domain.PlatformDiscord {
			errs = append(errs, fmt.Sprintf("%s: No connected account", platform))
			failures++
			permanentOnly = false
			continue
		}
		if platform == domain.PlatformDiscord && (creds == nil || creds.WebhookURL == nil || *creds.WebhookURL == "") {
			errs = append(errs, "discord: No webhook configured")
			failures++
			permanentOnly = false
			continue
		}

		dctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
		res := s.registry.Dispatch(dctx, platform, creds, payload)
		cancel()

		if !res.Success {
			errs = append(errs, fmt.Sprintf("%s: %s", platform, res.Err))
			failures++
			if !res.Permanent {
				permanentOnly = false
			}
			continue
		}
		if remoteID == "" && !res.Manual {
			remoteID = res.PostID
			remoteURL = res.URL
		}
	}

	if failures == 0 {
		committed, err := s.repo.MarkJobPublished(ctx, job.ID, s.now())
		if err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job published")
			return
		}
		if committed && job.PostID != nil {
			if err := s.repo.MarkPostPosted(ctx, *job.PostID, remoteID, remoteURL, s.now()); err != nil {
				log.Error().Err(err).Str("post_id", *job.PostID).Msg("failed to propagate publish to post")
			}
		}
		log.Info().Str("job_id", job.ID).Msg("job published")
		return
	}

	errMsg := strings.Join(errs, "; ")

	// Permanent-only failures skip the retry budget: retrying will not fix a
	// malformed webhook URL or missing media.
	if permanentOnly {
		if err := s.repo.MarkJobFailed(ctx, job.ID, errMsg); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job failed")
			return
		}
		s.propagateFailure(ctx, job)
		log.Warn().Str("job_id", job.ID).Str("errors", errMsg).Msg("job failed permanently")
		return
	}

	status, err := s.repo.RecordJobFailure(ctx, job.ID, errMsg)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("failed to record job failure")
		return
	}
	if status == domain.JobFailed {
		s.propagateFailure(ctx, job)
		log.Warn().Str("job_id", job.ID).Str("errors", errMsg).Msg("job exhausted retries")
		return
	}
	log.Warn().Str("job_id", job.ID).Str("errors", errMsg).Msg("job dispatch failed, will retry")
}

func (s *Service) propagateFailure(ctx context.Context, job domain.ScheduledJob) {
	if job.PostID == nil {
		return
	}
	if err := s.repo.MarkPostFailed(ctx, *job.PostID); err != nil {
		log.Error().Err(err).Str("post_id", *job.PostID).Msg("failed to propagate failure to post")
	}
}
