package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"postflow/internal/domain"
)

var ErrNotFound = errors.New("record not found")

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS posts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  content TEXT NOT NULL,
  platform TEXT NOT NULL,
  hashtags TEXT NOT NULL DEFAULT '[]',
  authenticity_score REAL NOT NULL DEFAULT 0,
  status TEXT NOT NULL CHECK(status IN ('draft','pending','approved','rejected','scheduled','posted','failed')) DEFAULT 'pending',
  scheduled_time DATETIME,
  posted_at DATETIME,
  platform_post_id TEXT,
  platform_url TEXT,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_posts_user ON posts(user_id, status);
CREATE TABLE IF NOT EXISTS scheduled_jobs (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  post_id TEXT,
  content TEXT NOT NULL,
  image_url TEXT,
  platforms TEXT NOT NULL,
  scheduled_time DATETIME NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('pending','published','failed','cancelled')) DEFAULT 'pending',
  retry_count INTEGER NOT NULL DEFAULT 0,
  error_message TEXT,
  published_at DATETIME,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_due ON scheduled_jobs(status, scheduled_time);
CREATE TABLE IF NOT EXISTS connected_accounts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  platform TEXT NOT NULL,
  access_token TEXT NOT NULL DEFAULT '',
  refresh_token TEXT,
  expires_at DATETIME,
  page_id TEXT,
  channel_id TEXT,
  webhook_url TEXT,
  account_name TEXT,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_active ON connected_accounts(user_id, platform) WHERE is_active = 1;
`
	_, err := db.Exec(schema)
	return err
}

type Repository interface {
	// Post operations
	CreatePost(ctx context.Context, p domain.Post) (string, error)
	GetPost(ctx context.Context, id string) (domain.Post, error)
	ListPosts(ctx context.Context, userID string, status domain.PostStatus) ([]domain.Post, error)
	SetPostStatus(ctx context.Context, id string, to, expect domain.PostStatus) error
	UpdatePostContent(ctx context.Context, id, content string, hashtags []string) error
	SchedulePost(ctx context.Context, id string, at time.Time) error
	MarkPostPosted(ctx context.Context, id, remoteID, remoteURL string, at time.Time) error
	MarkPostFailed(ctx context.Context, id string) error

	// Job operations
	CreateJob(ctx context.Context, j domain.ScheduledJob) (string, error)
	GetJob(ctx context.Context, id string) (domain.ScheduledJob, error)
	ListJobs(ctx context.Context, userID string, status domain.JobStatus) ([]domain.ScheduledJob, error)
	DueJobs(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error)
	MarkJobPublished(ctx context.Context, id string, at time.Time) (bool, error)
	RecordJobFailure(ctx context.Context, id, errMsg string) (domain.JobStatus, error)
	MarkJobFailed(ctx context.Context, id, errMsg string) error
	CancelJob(ctx context.Context, id, userID string) (bool, error)

	// Credential operations
	UpsertCredential(ctx context.Context, c domain.Credential) (string, error)
	ActiveCredential(ctx context.Context, userID string, platform domain.Platform) (*domain.Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]domain.Credential, error)
	DeactivateCredential(ctx context.Context, id, userID string) error
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func (r *sqliteRepo) CreatePost(ctx context.Context, p domain.Post) (string, error) {
	id := p.ID
	if id == "" {
		id = "post_" + uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.PostPending
	}
	tags, err := json.Marshal(p.Hashtags)
	if err != nil {
		return "", err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO posts (id,user_id,content,platform,hashtags,authenticity_score,status,scheduled_time,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, p.UserID, p.Content, string(p.Platform), string(tags), p.AuthenticityScore, string(p.Status), p.ScheduledTime)
	return id, err
}

const postCols = `id,user_id,content,platform,hashtags,authenticity_score,status,scheduled_time,posted_at,platform_post_id,platform_url,created_at,updated_at`

func scanPost(row interface{ Scan(...any) error }) (domain.Post, error) {
	var p domain.Post
	var platform, status, tags string
	var scheduled, posted sql.NullTime
	var remoteID, remoteURL sql.NullString
	err := row.Scan(&p.ID, &p.UserID, &p.Content, &platform, &tags, &p.AuthenticityScore,
		&status, &scheduled, &posted, &remoteID, &remoteURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Post{}, err
	}
	p.Platform = domain.Platform(platform)
	p.Status = domain.PostStatus(status)
	if err := json.Unmarshal([]byte(tags), &p.Hashtags); err != nil {
		return domain.Post{}, err
	}
	if scheduled.Valid {
		t := scheduled.Time
		p.ScheduledTime = &t
	}
	if posted.Valid {
		t := posted.Time
		p.PostedAt = &t
	}
	if remoteID.Valid {
		s := remoteID.String
		p.PlatformPostID = &s
	}
	if remoteURL.Valid {
		s := remoteURL.String
		p.PlatformURL = &s
	}
	return p, nil
}

func (r *sqliteRepo) GetPost(ctx context.Context, id string) (domain.Post, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+postCols+` FROM posts WHERE id=?`, id)
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return domain.Post{}, ErrNotFound
	}
	return p, err
}

func (r *sqliteRepo) ListPosts(ctx context.Context, userID string, status domain.PostStatus) ([]domain.Post, error) {
	q := `SELECT ` + postCols + ` FROM posts WHERE user_id=? ORDER BY created_at DESC`
	args := []any{userID}
	if status != "" {
		q = `SELECT ` + postCols + ` FROM posts WHERE user_id=? AND status=? ORDER BY created_at DESC`
		args = append(args, string(status))
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// SetPostStatus moves a post to a new status only while it still holds the
// expected one, so concurrent writers cannot skip transitions.
func (r *sqliteRepo) SetPostStatus(ctx context.Context, id string, to, expect domain.PostStatus) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE posts SET status=?, updated_at=CURRENT_TIMESTAMP WHERE id=? AND status=?`,
		string(to), id, string(expect))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRepo) UpdatePostContent(ctx context.Context, id, content string, hashtags []string) error {
	tags, err := json.Marshal(hashtags)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE posts SET content=?, hashtags=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`,
		content, string(tags), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRepo) SchedulePost(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE posts SET status='scheduled', scheduled_time=?, updated_at=CURRENT_TIMESTAMP
WHERE id=? AND status IN ('approved','scheduled')`, at, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRepo) MarkPostPosted(ctx context.Context, id, remoteID, remoteURL string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE posts SET status='posted', posted_at=?, platform_post_id=NULLIF(?,''), platform_url=NULLIF(?,''), updated_at=CURRENT_TIMESTAMP
WHERE id=? AND status IN ('approved','scheduled')`, at, remoteID, remoteURL, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRepo) MarkPostFailed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE posts SET status='failed', updated_at=CURRENT_TIMESTAMP
WHERE id=? AND status IN ('approved','scheduled')`, id)
	return err
}

func (r *sqliteRepo) CreateJob(ctx context.Context, j domain.ScheduledJob) (string, error) {
	id := j.ID
	if id == "" {
		id = "job_" + uuid.NewString()
	}
	platforms, err := json.Marshal(j.Platforms)
	if err != nil {
		return "", err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO scheduled_jobs (id,user_id,post_id,content,image_url,platforms,scheduled_time,status,retry_count,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,'pending',0,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, j.UserID, j.PostID, j.Content, j.ImageURL, string(platforms), j.ScheduledTime.UTC())
	return id, err
}

const jobCols = `id,user_id,post_id,content,image_url,platforms,scheduled_time,status,retry_count,error_message,published_at,created_at,updated_at`

func scanJob(row interface{ Scan(...any) error }) (domain.ScheduledJob, error) {
	var j domain.ScheduledJob
	var status, platforms string
	var postID, imageURL, errMsg sql.NullString
	var published sql.NullTime
	err := row.Scan(&j.ID, &j.UserID, &postID, &j.Content, &imageURL, &platforms,
		&j.ScheduledTime, &status, &j.RetryCount, &errMsg, &published, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	j.Status = domain.JobStatus(status)
	if err := json.Unmarshal([]byte(platforms), &j.Platforms); err != nil {
		return domain.ScheduledJob{}, err
	}
	if postID.Valid {
		s := postID.String
		j.PostID = &s
	}
	if imageURL.Valid {
		s := imageURL.String
		j.ImageURL = &s
	}
	if errMsg.Valid {
		s := errMsg.String
		j.ErrorMessage = &s
	}
	if published.Valid {
		t := published.Time
		j.PublishedAt = &t
	}
	return j, nil
}

func (r *sqliteRepo) GetJob(ctx context.Context, id string) (domain.ScheduledJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobCols+` FROM scheduled_jobs WHERE id=?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return domain.ScheduledJob{}, ErrNotFound
	}
	return j, err
}

func (r *sqliteRepo) ListJobs(ctx context.Context, userID string, status domain.JobStatus) ([]domain.ScheduledJob, error) {
	q := `SELECT ` + jobCols + ` FROM scheduled_jobs WHERE user_id=? ORDER BY scheduled_time DESC`
	args := []any{userID}
	if status != "" {
		q = `SELECT ` + jobCols + ` FROM scheduled_jobs WHERE user_id=? AND status=? ORDER BY scheduled_time ASC`
		args = append(args, string(status))
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DueJobs returns pending jobs whose time has passed and whose retry budget
// remains, oldest first. The limit bounds per-tick work.
func (r *sqliteRepo) DueJobs(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+jobCols+` FROM scheduled_jobs
WHERE status='pending' AND scheduled_time <= ? AND retry_count < ?
ORDER BY scheduled_time ASC
LIMIT ?`, now.UTC(), domain.MaxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkJobPublished commits the published state; the conditional on 'pending'
// guarantees a job is never published twice.
func (r *sqliteRepo) MarkJobPublished(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE scheduled_jobs SET status='published', published_at=?, error_message=NULL, updated_at=CURRENT_TIMESTAMP
WHERE id=? AND status='pending'`, at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RecordJobFailure increments the retry count and keeps the job pending until
// the ceiling, where it freezes at failed. Returns the resulting status.
func (r *sqliteRepo) RecordJobFailure(ctx context.Context, id, errMsg string) (domain.JobStatus, error) {
	_, err := r.db.ExecContext(ctx, `
UPDATE scheduled_jobs
SET retry_count = retry_count + 1,
    status = CASE WHEN retry_count + 1 >= ? THEN 'failed' ELSE 'pending' END,
    error_message = ?,
    updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = 'pending'`, domain.MaxRetries, errMsg, id)
	if err != nil {
		return "", err
	}
	var status string
	if err := r.db.QueryRowContext(ctx, `SELECT status FROM scheduled_jobs WHERE id=?`, id).Scan(&status); err != nil {
		return "", err
	}
	return domain.JobStatus(status), nil
}

// MarkJobFailed fails a job outright without consuming the retry budget,
// used for errors that retrying cannot fix.
func (r *sqliteRepo) MarkJobFailed(ctx context.Context, id, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE scheduled_jobs SET status='failed', error_message=?, updated_at=CURRENT_TIMESTAMP
WHERE id=? AND status='pending'`, errMsg, id)
	return err
}

// CancelJob is a no-op once the poller has already published or failed the
// job; the caller learns whether the cancel landed.
func (r *sqliteRepo) CancelJob(ctx context.Context, id, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE scheduled_jobs SET status='cancelled', updated_at=CURRENT_TIMESTAMP
WHERE id=? AND user_id=? AND status='pending'`, id, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpsertCredential deactivates any prior record for the (user, platform) pair
// before inserting, preserving history while keeping one active record.
func (r *sqliteRepo) UpsertCredential(ctx context.Context, c domain.Credential) (string, error) {
	id := c.ID
	if id == "" {
		id = "acct_" + uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE connected_accounts SET is_active=0 WHERE user_id=? AND platform=? AND is_active=1`,
		c.UserID, string(c.Platform))
	if err != nil {
		return "", err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO connected_accounts (id,user_id,platform,access_token,refresh_token,expires_at,page_id,channel_id,webhook_url,account_name,is_active,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,1,CURRENT_TIMESTAMP)
`, id, c.UserID, string(c.Platform), c.AccessToken, c.RefreshToken, c.ExpiresAt, c.PageID, c.ChannelID, c.WebhookURL, c.AccountName)
	return id, err
}

const credCols = `id,user_id,platform,access_token,refresh_token,expires_at,page_id,channel_id,webhook_url,account_name,is_active,created_at`

func scanCredential(row interface{ Scan(...any) error }) (domain.Credential, error) {
	var c domain.Credential
	var platform string
	var refresh, pageID, channelID, webhook, name sql.NullString
	var expires sql.NullTime
	err := row.Scan(&c.ID, &c.UserID, &platform, &c.AccessToken, &refresh, &expires,
		&pageID, &channelID, &webhook, &name, &c.Active, &c.CreatedAt)
	if err != nil {
		return domain.Credential{}, err
	}
	c.Platform = domain.Platform(platform)
	if refresh.Valid {
		s := refresh.String
		c.RefreshToken = &s
	}
	if expires.Valid {
		t := expires.Time
		c.ExpiresAt = &t
	}
	if pageID.Valid {
		s := pageID.String
		c.PageID = &s
	}
	if channelID.Valid {
		s := channelID.String
		c.ChannelID = &s
	}
	if webhook.Valid {
		s := webhook.String
		c.WebhookURL = &s
	}
	if name.Valid {
		s := name.String
		c.AccountName = &s
	}
	return c, nil
}

func (r *sqliteRepo) ActiveCredential(ctx context.Context, userID string, platform domain.Platform) (*domain.Credential, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+credCols+` FROM connected_accounts
WHERE user_id=? AND platform=? AND is_active=1`, userID, string(platform))
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *sqliteRepo) ListCredentials(ctx context.Context, userID string) ([]domain.Credential, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+credCols+` FROM connected_accounts WHERE user_id=? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func (r *sqliteRepo) DeactivateCredential(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE connected_accounts SET is_active=0 WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
