package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"postflow/internal/domain"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, EnsureSchema(db))
	return NewSQLiteRepo(db)
}

func TestPostLifecycleWrites(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreatePost(ctx, domain.Post{
		UserID:   "u1",
		Content:  "hello #launch",
		Platform: domain.PlatformDiscord,
		Hashtags: []string{"launch"},
		Status:   domain.PostPending,
	})
	require.NoError(t, err)

	p, err := repo.GetPost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PostPending, p.Status)
	assert.Equal(t, []string{"launch"}, p.Hashtags)

	// conditional status update: wrong expectation is a no-op
	err = repo.SetPostStatus(ctx, id, domain.PostRejected, domain.PostApproved)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.SetPostStatus(ctx, id, domain.PostApproved, domain.PostPending))

	now := time.Now().UTC()
	require.NoError(t, repo.MarkPostPosted(ctx, id, "remote123", "https://example.com/remote123", now))

	p, err = repo.GetPost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PostPosted, p.Status)
	require.NotNil(t, p.PlatformPostID)
	assert.Equal(t, "remote123", *p.PlatformPostID)
	require.NotNil(t, p.PostedAt)

	// posted is terminal for the guarded writers
	assert.ErrorIs(t, repo.SetPostStatus(ctx, id, domain.PostApproved, domain.PostPending), ErrNotFound)
}

func TestListPostsFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreatePost(ctx, domain.Post{UserID: "u1", Content: "a", Platform: domain.PlatformX, Status: domain.PostPending})
	require.NoError(t, err)
	id2, err := repo.CreatePost(ctx, domain.Post{UserID: "u1", Content: "b", Platform: domain.PlatformX, Status: domain.PostPending})
	require.NoError(t, err)
	require.NoError(t, repo.SetPostStatus(ctx, id2, domain.PostApproved, domain.PostPending))

	all, err := repo.ListPosts(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := repo.ListPosts(ctx, "u1", domain.PostPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	other, err := repo.ListPosts(ctx, "u2", "")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestDueJobsSelection(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	later, err := repo.CreateJob(ctx, domain.ScheduledJob{
		UserID: "u1", Content: "later", Platforms: []domain.Platform{domain.PlatformDiscord},
		ScheduledTime: now.Add(-1 * time.Minute),
	})
	require.NoError(t, err)
	earlier, err := repo.CreateJob(ctx, domain.ScheduledJob{
		UserID: "u1", Content: "earlier", Platforms: []domain.Platform{domain.PlatformDiscord},
		ScheduledTime: now.Add(-10 * time.Minute),
	})
	require.NoError(t, err)
	_, err = repo.CreateJob(ctx, domain.ScheduledJob{
		UserID: "u1", Content: "future", Platforms: []domain.Platform{domain.PlatformDiscord},
		ScheduledTime: now.Add(1 * time.Hour),
	})
	require.NoError(t, err)
	cancelled, err := repo.CreateJob(ctx, domain.ScheduledJob{
		UserID: "u1", Content: "cancelled", Platforms: []domain.Platform{domain.PlatformDiscord},
		ScheduledTime: now.Add(-5 * time.Minute),
	})
	require.NoError(t, err)
	ok, err := repo.CancelJob(ctx, cancelled, "u1")
	require.NoError(t, err)
	require.True(t, ok)

	due, err := repo.DueJobs(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, earlier, due[0].ID)
	assert.Equal(t, later, due[1].ID)

	// batch cap
	due, err = repo.DueJobs(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, earlier, due[0].ID)
}

func TestRetryAccounting(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := repo.CreateJob(ctx, domain.ScheduledJob{
		UserID: "u1", Content: "c", Platforms: []domain.Platform{domain.PlatformInstagram},
		ScheduledTime: now.Add(-time.Minute),
	})
	require.NoError(t, err)

	status, err := repo.RecordJobFailure(ctx, id, "instagram: No connected account")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, status)

	status, err = repo.RecordJobFailure(ctx, id, "instagram: No connected account")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, status)

	// third increment hits the ceiling and freezes the job
	status, err = repo.RecordJobFailure(ctx, id, "instagram: No connected account")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, status)

	j, err := repo.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxRetries, j.RetryCount)
	require.NotNil(t, j.ErrorMessage)
	assert.Equal(t, "instagram: No connected account", *j.ErrorMessage)

	// frozen jobs are never selected again
	due, err := repo.DueJobs(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// and further failure writes are no-ops
	status, err = repo.RecordJobFailure(ctx, id, "again")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, status)
	j, err = repo.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxRetries, j.RetryCount)
}

func TestMarkJobPublishedIsExclusive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := repo.CreateJob(ctx, domain.ScheduledJob{
		UserID: "u1", Content: "c", Platforms: []domain.Platform{domain.PlatformDiscord},
		ScheduledTime: now.Add(-time.Minute),
	})
	require.NoError(t, err)

	ok, err := repo.MarkJobPublished(ctx, id, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// second publish write does not land
	ok, err = repo.MarkJobPublished(ctx, id, now)
	require.NoError(t, err)
	assert.False(t, ok)

	// cancel after publish is a no-op
	ok, err = repo.CancelJob(ctx, id, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	j, err := repo.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPublished, j.Status)
	require.NotNil(t, j.PublishedAt)
	assert.Nil(t, j.ErrorMessage)
}

func TestCredentialUpsertKeepsOneActive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	url1 := "https://discord.com/api/webhooks/1/aaa"
	_, err := repo.UpsertCredential(ctx, domain.Credential{
		UserID: "u1", Platform: domain.PlatformDiscord, WebhookURL: &url1,
	})
	require.NoError(t, err)

	url2 := "https://discord.com/api/webhooks/2/bbb"
	_, err = repo.UpsertCredential(ctx, domain.Credential{
		UserID: "u1", Platform: domain.PlatformDiscord, WebhookURL: &url2,
	})
	require.NoError(t, err)

	active, err := repo.ActiveCredential(ctx, "u1", domain.PlatformDiscord)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.NotNil(t, active.WebhookURL)
	assert.Equal(t, url2, *active.WebhookURL)

	// history is preserved, not deleted
	all, err := repo.ListCredentials(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, repo.DeactivateCredential(ctx, active.ID, "u1"))
	active, err = repo.ActiveCredential(ctx, "u1", domain.PlatformDiscord)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestActiveCredentialMissing(t *testing.T) {
	repo := newTestRepo(t)

	cred, err := repo.ActiveCredential(context.Background(), "nobody", domain.PlatformInstagram)
	require.NoError(t, err)
	assert.Nil(t, cred)
}
