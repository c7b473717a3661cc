package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"postflow/internal/domain"
)

func discordCreds(url string) *domain.Credential {
	return &domain.Credential{UserID: "u1", Platform: domain.PlatformDiscord, WebhookURL: &url}
}

func TestDiscordPublishSuccess(t *testing.T) {
	var got discordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.Client())
	d.WebhookPrefix = srv.URL

	res := d.Publish(context.Background(), discordCreds(srv.URL+"/hook"), Payload{Content: "hello community"})
	assert.True(t, res.Success)
	assert.Equal(t, "hello community", got.Content)
}

func TestDiscordPublishTruncates(t *testing.T) {
	var got discordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDiscord(srv.Client())
	d.WebhookPrefix = srv.URL

	long := strings.Repeat("a", 3000)
	res := d.Publish(context.Background(), discordCreds(srv.URL+"/hook"), Payload{Content: long})
	require.True(t, res.Success)
	assert.Len(t, got.Content, maxDiscordContent)
	assert.True(t, strings.HasSuffix(got.Content, "..."))
}

func TestDiscordPublishFailureCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message": "Invalid Webhook Token"}`))
	}))
	defer srv.Close()

	d := NewDiscord(srv.Client())
	d.WebhookPrefix = srv.URL

	res := d.Publish(context.Background(), discordCreds(srv.URL+"/hook"), Payload{Content: "x"})
	assert.False(t, res.Success)
	assert.False(t, res.Permanent)
	assert.Contains(t, res.Err, "status 400")
	assert.Contains(t, res.Err, "Invalid Webhook Token")
}

func TestDiscordPublishInvalidURLIsPermanent(t *testing.T) {
	d := NewDiscord(http.DefaultClient)

	res := d.Publish(context.Background(), discordCreds("http://evil.example.com/hook"), Payload{Content: "x"})
	assert.False(t, res.Success)
	assert.True(t, res.Permanent)
	assert.Equal(t, "Invalid Discord webhook URL", res.Err)
}

func TestDiscordPublishMissingWebhookIsPermanent(t *testing.T) {
	d := NewDiscord(http.DefaultClient)

	res := d.Publish(context.Background(), nil, Payload{Content: "x"})
	assert.False(t, res.Success)
	assert.True(t, res.Permanent)
	assert.Equal(t, "No webhook configured", res.Err)
}

func TestTruncateContent(t *testing.T) {
	assert.Equal(t, "short", TruncateContent("short", 10))
	out := TruncateContent("abcdefghij", 8)
	assert.Equal(t, "abcde...", out)
	assert.Len(t, out, 8)
}
