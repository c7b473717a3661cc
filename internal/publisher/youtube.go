package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"postflow/internal/domain"
)

const youtubeUploadURL = "https://www.googleapis.com/upload/youtube/v3/videos?part=snippet,status"

// YouTube creates a video resource through the Data API. Text-only posts have
// no home on YouTube, so a missing media reference is a permanent failure.
type YouTube struct {
	client *http.Client

	// BaseURL is the upload endpoint; tests point it at a local server.
	BaseURL string
}

func NewYouTube(client *http.Client) *YouTube {
	return &YouTube{client: client, BaseURL: youtubeUploadURL}
}

func (y *YouTube) Publish(ctx context.Context, creds *domain.Credential, p Payload) Result {
	if creds == nil || creds.AccessToken == "" {
		return Result{Err: "No connected account", Permanent: true}
	}
	if p.ImageURL == "" {
		return Result{Err: "YouTube requires a video file", Permanent: true}
	}

	meta := map[string]any{
		"snippet": map[string]any{
			"description": p.Content,
			"categoryId":  "22",
		},
		"status": map[string]any{"privacyStatus": "public"},
	}
	if p.ScheduleHint != nil {
		meta["status"] = map[string]any{
			"privacyStatus": "private",
			"publishAt":     p.ScheduleHint.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return Result{Err: err.Error(), Permanent: true}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.BaseURL, bytes.NewReader(body))
	if err != nil {
		return Result{Err: err.Error(), Permanent: true}
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := y.client.Do(req)
	if err != nil {
		return Result{Err: err.Error()}
	}
	defer resp.Body.Close()

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || resp.StatusCode >= 300 || out.ID == "" {
		return Result{Err: "YouTube upload failed"}
	}
	return Result{Success: true, PostID: out.ID, URL: "https://youtube.com/watch?v=" + out.ID}
}
