package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"postflow/internal/domain"
	"postflow/internal/engine"
	"postflow/internal/store"
)

type Server struct {
	r      *chi.Mux
	engine *engine.Service
}

func NewServer(svc *engine.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, engine: svc}

	r.Get("/health", s.health)

	r.Post("/api/generate", s.generate)
	r.Get("/api/posts", s.listPosts)
	r.Get("/api/posts/{id}", s.getPost)
	r.Post("/api/posts/{id}/action", s.actOnPost)
	r.Post("/api/publish", s.publishNow)

	r.Post("/api/jobs", s.createJob)
	r.Get("/api/jobs", s.listJobs)
	r.Delete("/api/jobs/{id}", s.cancelJob)

	r.Get("/api/accounts", s.listAccounts)
	r.Post("/api/accounts/discord", s.connectDiscord)
	r.Post("/api/accounts/meta", s.connectMeta)
	r.Delete("/api/accounts/{id}", s.disconnectAccount)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type generateReq struct {
	UserID       string `json:"user_id"`
	Topic        string `json:"topic"`
	Platform     string `json:"platform"`
	Mood         string `json:"mood"`
	CallToAction string `json:"call_to_action"`
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	var req generateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.UserID == "" || req.Topic == "" {
		http.Error(w, "user_id and topic are required", 400)
		return
	}
	platform, err := domain.ParsePlatform(req.Platform)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	post, err := s.engine.GeneratePost(r.Context(), req.UserID, req.Topic, platform, req.Mood, req.CallToAction)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusCreated, postView(post))
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", 400)
		return
	}
	posts, err := s.engine.ListPosts(r.Context(), userID, domain.PostStatus(r.URL.Query().Get("status")))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	views := make([]map[string]any, 0, len(posts))
	for _, p := range posts {
		views = append(views, postView(p))
	}
	writeJSON(w, 200, map[string]any{"count": len(views), "posts": views})
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.engine.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "not found", 404)
		return
	}
	writeJSON(w, 200, postView(post))
}

type actionReq struct {
	Action        string     `json:"action"`
	EditedContent string     `json:"edited_content"`
	ScheduleTime  *time.Time `json:"schedule_time"`
}

func (s *Server) actOnPost(w http.ResponseWriter, r *http.Request) {
	var req actionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	post, res, err := s.engine.ActOnPost(r.Context(), chi.URLParam(r, "id"), engine.Action{
		Name:          req.Action,
		EditedContent: req.EditedContent,
		ScheduleTime:  req.ScheduleTime,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := map[string]any{"success": true, "post": postView(post)}
	if res != nil {
		out["success"] = res.Success
		if res.Err != "" {
			out["error"] = res.Err
		}
		if res.Manual {
			out["method"] = "manual"
		}
	}
	writeJSON(w, 200, out)
}

type publishReq struct {
	PostID   string `json:"post_id"`
	Platform string `json:"platform"`
}

func (s *Server) publishNow(w http.ResponseWriter, r *http.Request) {
	var req publishReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	var platform domain.Platform
	if req.Platform != "" {
		p, err := domain.ParsePlatform(req.Platform)
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		platform = p
	}
	post, res, err := s.engine.PublishNow(r.Context(), req.PostID, platform)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := map[string]any{"success": res.Success, "post": postView(post)}
	if res.Err != "" {
		out["error"] = res.Err
	}
	if res.Manual {
		out["method"] = "manual"
		out["message"] = "Content saved. Copy the text and paste it on the platform."
	}
	writeJSON(w, 200, out)
}

type createJobReq struct {
	UserID        string    `json:"user_id"`
	Content       string    `json:"content"`
	Platforms     []string  `json:"platforms"`
	ScheduledTime time.Time `json:"scheduled_time"`
	ImageURL      string    `json:"image_url"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.UserID == "" || req.Content == "" {
		http.Error(w, "user_id and content are required", 400)
		return
	}
	job, err := s.engine.ScheduleJob(r.Context(), req.UserID, req.Content, req.Platforms, req.ScheduledTime, req.ImageURL)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, jobView(job))
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", 400)
		return
	}
	jobs, err := s.engine.ListJobs(r.Context(), userID, domain.JobStatus(r.URL.Query().Get("status")))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	views := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, jobView(j))
	}
	writeJSON(w, 200, map[string]any{"count": len(views), "jobs": views})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", 400)
		return
	}
	if err := s.engine.CancelJob(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found or already published", 404)
			return
		}
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", 400)
		return
	}
	accounts, err := s.engine.ListAccounts(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	views := make([]map[string]any, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, map[string]any{
			"id":           a.ID,
			"platform":     a.Platform,
			"account_name": a.AccountName,
			"is_active":    a.Active,
			"connected_at": a.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, 200, map[string]any{"count": len(views), "accounts": views})
}

type connectDiscordReq struct {
	UserID     string `json:"user_id"`
	WebhookURL string `json:"webhook_url"`
	ServerName string `json:"server_name"`
}

func (s *Server) connectDiscord(w http.ResponseWriter, r *http.Request) {
	var req connectDiscordReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.UserID == "" || req.WebhookURL == "" {
		http.Error(w, "user_id and webhook_url are required", 400)
		return
	}
	cred, err := s.engine.ConnectDiscord(r.Context(), req.UserID, req.WebhookURL, req.ServerName)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": cred.ID, "platform": cred.Platform})
}

type connectMetaReq struct {
	UserID      string `json:"user_id"`
	Platform    string `json:"platform"`
	AccessToken string `json:"access_token"`
	PageID      string `json:"page_id"`
	PageName    string `json:"page_name"`
}

func (s *Server) connectMeta(w http.ResponseWriter, r *http.Request) {
	var req connectMetaReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	platform, err := domain.ParsePlatform(req.Platform)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	cred, err := s.engine.ConnectMeta(r.Context(), req.UserID, platform, req.AccessToken, req.PageID, req.PageName)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": cred.ID, "platform": cred.Platform})
}

func (s *Server) disconnectAccount(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", 400)
		return
	}
	if err := s.engine.DisconnectAccount(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", 404)
			return
		}
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func postView(p domain.Post) map[string]any {
	v := map[string]any{
		"id":                 p.ID,
		"user_id":            p.UserID,
		"content":            p.Content,
		"platform":           p.Platform,
		"hashtags":           p.Hashtags,
		"authenticity_score": p.AuthenticityScore,
		"status":             p.Status,
		"created_at":         p.CreatedAt.Format(time.RFC3339),
	}
	if p.ScheduledTime != nil {
		v["scheduled_time"] = p.ScheduledTime.Format(time.RFC3339)
	}
	if p.PostedAt != nil {
		v["posted_at"] = p.PostedAt.Format(time.RFC3339)
	}
	if p.PlatformPostID != nil {
		v["platform_post_id"] = *p.PlatformPostID
	}
	if p.PlatformURL != nil {
		v["platform_url"] = *p.PlatformURL
	}
	return v
}

func jobView(j domain.ScheduledJob) map[string]any {
	v := map[string]any{
		"id":             j.ID,
		"user_id":        j.UserID,
		"content":        j.Content,
		"platforms":      j.Platforms,
		"scheduled_time": j.ScheduledTime.Format(time.RFC3339),
		"status":         j.Status,
		"retry_count":    j.RetryCount,
	}
	if j.PostID != nil {
		v["post_id"] = *j.PostID
	}
	if j.ImageURL != nil {
		v["image_url"] = *j.ImageURL
	}
	if j.ErrorMessage != nil {
		v["error_message"] = *j.ErrorMessage
	}
	if j.PublishedAt != nil {
		v["published_at"] = j.PublishedAt.Format(time.RFC3339)
	}
	return v
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", 404)
	case errors.Is(err, engine.ErrInvalidAction),
		errors.Is(err, engine.ErrPastSchedule),
		errors.Is(err, engine.ErrNotApproved),
		errors.Is(err, engine.ErrNotEditable),
		errors.Is(err, engine.ErrNoPlatforms):
		http.Error(w, err.Error(), 400)
	default:
		http.Error(w, err.Error(), 500)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
