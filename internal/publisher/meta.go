package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"postflow/internal/domain"
)

const metaGraphURL = "https://graph.facebook.com/v19.0"

// Meta publishes to Instagram and Facebook pages through the Graph API.
// Instagram is a two-step flow: create a media container, then publish it;
// a failure at either step fails the whole operation.
type Meta struct {
	client *http.Client

	// BaseURL is the Graph API root; tests point it at a local server.
	BaseURL string
}

func NewMeta(client *http.Client) *Meta {
	return &Meta{client: client, BaseURL: metaGraphURL}
}

type graphResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (m *Meta) Publish(ctx context.Context, creds *domain.Credential, p Payload) Result {
	if creds == nil || creds.AccessToken == "" {
		return Result{Err: "No connected account", Permanent: true}
	}
	if creds.PageID == nil || *creds.PageID == "" {
		return Result{Err: "No page connected", Permanent: true}
	}
	if creds.Platform == domain.PlatformInstagram {
		return m.publishInstagram(ctx, creds, p)
	}
	return m.publishFacebook(ctx, creds, p)
}

func (m *Meta) publishInstagram(ctx context.Context, creds *domain.Credential, p Payload) Result {
	if p.ImageURL == "" {
		return Result{Err: "Instagram requires an image or video", Permanent: true}
	}

	// Step 1: create the media container.
	form := url.Values{
		"image_url":    {p.ImageURL},
		"caption":      {p.Content},
		"access_token": {creds.AccessToken},
	}
	if p.ScheduleHint != nil {
		form.Set("published", "false")
		form.Set("scheduled_publish_time", strconv.FormatInt(p.ScheduleHint.Unix(), 10))
	}
	container, res := m.call(ctx, fmt.Sprintf("%s/%s/media", m.BaseURL, *creds.PageID), form)
	if !res.Success {
		return res
	}

	// Step 2: publish it.
	publishForm := url.Values{
		"creation_id":  {container},
		"access_token": {creds.AccessToken},
	}
	id, res := m.call(ctx, fmt.Sprintf("%s/%s/media_publish", m.BaseURL, *creds.PageID), publishForm)
	if !res.Success {
		return res
	}
	return Result{Success: true, PostID: id, URL: "https://instagram.com/p/" + id}
}

func (m *Meta) publishFacebook(ctx context.Context, creds *domain.Credential, p Payload) Result {
	form := url.Values{
		"message":      {p.Content},
		"access_token": {creds.AccessToken},
	}
	endpoint := fmt.Sprintf("%s/%s/feed", m.BaseURL, *creds.PageID)
	if p.ImageURL != "" {
		form.Set("url", p.ImageURL)
		endpoint = fmt.Sprintf("%s/%s/photos", m.BaseURL, *creds.PageID)
	}
	if p.ScheduleHint != nil {
		form.Set("published", "false")
		form.Set("scheduled_publish_time", strconv.FormatInt(p.ScheduleHint.Unix(), 10))
	}
	id, res := m.call(ctx, endpoint, form)
	if !res.Success {
		return res
	}
	return Result{Success: true, PostID: id, URL: "https://facebook.com/" + id}
}

// call posts a form to the Graph API and extracts the created object id.
func (m *Meta) call(ctx context.Context, endpoint string, form url.Values) (string, Result) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", Result{Err: err.Error(), Permanent: true}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", Result{Err: err.Error()}
	}
	defer resp.Body.Close()

	var body graphResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", Result{Err: fmt.Sprintf("Graph API returned status %d", resp.StatusCode)}
	}
	if body.Error != nil {
		return "", Result{Err: body.Error.Message}
	}
	id := body.ID
	if id == "" {
		id = body.PostID
	}
	if id == "" {
		return "", Result{Err: "Graph API response missing object id"}
	}
	return id, Result{Success: true}
}
