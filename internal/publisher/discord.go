package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"postflow/internal/domain"
)

// Discord content limit; longer messages are truncated with an ellipsis.
const maxDiscordContent = 2000

const discordWebhookPrefix = "https://discord.com/api/webhooks/"

// Discord posts through an incoming webhook. No OAuth token involved; the
// webhook URL comes from the connected account record.
type Discord struct {
	client *http.Client

	// WebhookPrefix is the required URL prefix; tests point it at a local
	// server.
	WebhookPrefix string

	Username string
}

func NewDiscord(client *http.Client) *Discord {
	return &Discord{client: client, WebhookPrefix: discordWebhookPrefix, Username: "Postflow Bot"}
}

type discordMessage struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

func (d *Discord) Publish(ctx context.Context, creds *domain.Credential, p Payload) Result {
	if creds == nil || creds.WebhookURL == nil || *creds.WebhookURL == "" {
		return Result{Err: "No webhook configured", Permanent: true}
	}
	webhookURL := *creds.WebhookURL
	if !strings.HasPrefix(webhookURL, d.WebhookPrefix) {
		return Result{Err: "Invalid Discord webhook URL", Permanent: true}
	}

	msg := discordMessage{Content: TruncateContent(p.Content, maxDiscordContent)}
	if d.Username != "" {
		msg.Username = d.Username
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return Result{Err: err.Error(), Permanent: true}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return Result{Err: err.Error(), Permanent: true}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{Err: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		return Result{Success: true, PostID: "webhook_message"}
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return Result{Err: fmt.Sprintf("Discord returned status %d: %s", resp.StatusCode, string(detail))}
}

// TruncateContent cuts content to the limit, leaving a visible ellipsis.
func TruncateContent(content string, limit int) string {
	if len(content) <= limit {
		return content
	}
	return content[:limit-3] + "..."
}
