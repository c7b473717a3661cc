package publisher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"postflow/internal/domain"
)

func metaCreds(platform domain.Platform) *domain.Credential {
	pageID := "page1"
	return &domain.Credential{
		UserID:      "u1",
		Platform:    platform,
		AccessToken: "tok",
		PageID:      &pageID,
	}
}

func TestInstagramTwoStepPublish(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/page1/media":
			assert.Equal(t, "https://img.example.com/a.jpg", r.Form.Get("image_url"))
			w.Write([]byte(`{"id":"container1"}`))
		case "/page1/media_publish":
			assert.Equal(t, "container1", r.Form.Get("creation_id"))
			w.Write([]byte(`{"id":"media9"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	m := NewMeta(srv.Client())
	m.BaseURL = srv.URL

	res := m.Publish(context.Background(), metaCreds(domain.PlatformInstagram), Payload{
		Content:  "caption",
		ImageURL: "https://img.example.com/a.jpg",
	})
	require.True(t, res.Success, res.Err)
	assert.Equal(t, "media9", res.PostID)
	assert.Equal(t, []string{"/page1/media", "/page1/media_publish"}, paths)
}

func TestInstagramContainerFailureStopsPublish(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"error":{"message":"media type not supported"}}`))
	}))
	defer srv.Close()

	m := NewMeta(srv.Client())
	m.BaseURL = srv.URL

	res := m.Publish(context.Background(), metaCreds(domain.PlatformInstagram), Payload{
		Content:  "caption",
		ImageURL: "https://img.example.com/a.gif",
	})
	assert.False(t, res.Success)
	assert.Equal(t, "media type not supported", res.Err)
	assert.Equal(t, 1, calls, "must not attempt the publish step after a container failure")
}

func TestInstagramRequiresMedia(t *testing.T) {
	m := NewMeta(http.DefaultClient)

	res := m.Publish(context.Background(), metaCreds(domain.PlatformInstagram), Payload{Content: "caption"})
	assert.False(t, res.Success)
	assert.True(t, res.Permanent)
	assert.Equal(t, "Instagram requires an image or video", res.Err)
}

func TestFacebookFeedPublish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/page1/feed", r.URL.Path)
		assert.Equal(t, "hello", r.Form.Get("message"))
		w.Write([]byte(`{"id":"fb42"}`))
	}))
	defer srv.Close()

	m := NewMeta(srv.Client())
	m.BaseURL = srv.URL

	res := m.Publish(context.Background(), metaCreds(domain.PlatformFacebook), Payload{Content: "hello"})
	require.True(t, res.Success, res.Err)
	assert.Equal(t, "fb42", res.PostID)
	assert.Equal(t, "https://facebook.com/fb42", res.URL)
}

func TestMetaMissingCredentialsIsPermanent(t *testing.T) {
	m := NewMeta(http.DefaultClient)

	res := m.Publish(context.Background(), nil, Payload{Content: "x"})
	assert.False(t, res.Success)
	assert.True(t, res.Permanent)
}

func TestManualHandoff(t *testing.T) {
	res := Manual{}.Publish(context.Background(), nil, Payload{Content: "keep this text"})
	assert.True(t, res.Success)
	assert.True(t, res.Manual)
}

func TestRegistryUnknownPlatform(t *testing.T) {
	r := NewRegistry(http.DefaultClient)

	res := r.Dispatch(context.Background(), domain.Platform("myspace"), nil, Payload{})
	assert.False(t, res.Success)
	assert.True(t, res.Permanent)
	assert.Contains(t, res.Err, "unknown platform")
}
