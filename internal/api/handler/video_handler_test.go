package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/vidshare/internal/api/dto"
	"github.com/cuongbtq/vidshare/internal/auth"
	"github.com/cuongbtq/vidshare/internal/domain"
	"github.com/cuongbtq/vidshare/internal/store"
	"github.com/cuongbtq/vidshare/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	err        error
	running    map[string]bool
	canceled   []string
}

func (d *fakeDispatcher) Dispatch(_ context.Context, videoID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.dispatched = append(d.dispatched, videoID)
	return nil
}

func (d *fakeDispatcher) Cancel(videoID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running[videoID] {
		return false
	}
	d.canceled = append(d.canceled, videoID)
	return true
}

type testEnv struct {
	router     *gin.Engine
	store      *store.Memory
	dispatcher *fakeDispatcher
	tokens     *auth.TokenService
	uploadDir  string
}

func newTestEnv(t *testing.T, maxSize int64) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		store:      store.NewMemory(),
		dispatcher: &fakeDispatcher{running: map[string]bool{}},
		tokens:     auth.NewTokenService(auth.Config{Secret: "test-secret", AccessTokenTTL: time.Hour}),
		uploadDir:  t.TempDir(),
	}

	h := NewVideoHandler(&Dependencies{
		Logger:        logger.NewDiscard().Logger,
		Store:         env.store,
		Dispatcher:    env.dispatcher,
		UploadDir:     env.uploadDir,
		MaxUploadSize: maxSize,
	})

	r := gin.New()
	videos := r.Group("/api/v1/videos", auth.RequireAuth(env.tokens))
	videos.POST("", h.UploadVideo)
	videos.GET("", h.ListVideos)
	videos.GET("/:video_id", h.GetVideo)
	videos.POST("/:video_id/cancel", h.CancelVideo)
	videos.PATCH("/:video_id", h.UpdateVideo)
	videos.DELETE("/:video_id", h.DeleteVideo)
	videos.PATCH("/:video_id/share", h.ShareVideo)
	videos.PATCH("/:video_id/assign", h.AssignViewer)
	r.GET("/api/v1/shared-videos", auth.RequireAuth(env.tokens), h.ListSharedVideos)
	env.router = r

	return env
}

func (e *testEnv) token(t *testing.T, userID, orgID string) string {
	t.Helper()
	return e.tokenFor(t, auth.Identity{UserID: userID, OrgID: orgID})
}

func (e *testEnv) tokenFor(t *testing.T, identity auth.Identity) string {
	t.Helper()
	token, err := e.tokens.GenerateAccessToken(identity)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, req *http.Request, token string) *httptest.ResponseRecorder {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seed(t *testing.T, ownerID, orgID string, status domain.Status, createdAt time.Time) *domain.Video {
	t.Helper()
	video := &domain.Video{
		ID:             uuid.NewString(),
		Title:          "clip",
		OwnerID:        ownerID,
		OrganizationID: orgID,
		Status:         status,
		CreatedAt:      createdAt,
	}
	require.NoError(t, e.store.Create(context.Background(), video))
	return video
}

func uploadRequest(t *testing.T, filename, contentType string, content []byte, fields map[string]string) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename="%s"`, filename))
		header.Set("Content-Type", contentType)
		part, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadVideo(t *testing.T) {
	env := newTestEnv(t, 1024)
	token := env.token(t, "user-1", "org-1")

	req := uploadRequest(t, "Holiday.MP4", "video/mp4", []byte("fake video bytes"), map[string]string{
		"title":       "Holiday",
		"description": "beach",
	})
	w := env.do(t, req, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp dto.VideoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Video.Status)
	assert.Equal(t, "Holiday", resp.Video.Title)
	assert.Equal(t, "user-1", resp.Video.OwnerID)
	assert.Equal(t, resp.Video.ID+".mp4", resp.Video.Filename)
	assert.NotContains(t, w.Body.String(), env.uploadDir)

	assert.Equal(t, []string{resp.Video.ID}, env.dispatcher.dispatched)

	saved, err := env.store.Load(context.Background(), resp.Video.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, saved.Status)
	assert.Equal(t, "org-1", saved.OrganizationID)

	content, err := os.ReadFile(filepath.Join(env.uploadDir, resp.Video.Filename))
	require.NoError(t, err)
	assert.Equal(t, "fake video bytes", string(content))
}

func TestUploadVideo_Rejected(t *testing.T) {
	env := newTestEnv(t, 8)
	token := env.token(t, "user-1", "")

	tests := []struct {
		name     string
		req      *http.Request
		token    string
		wantCode int
	}{
		{
			name:     "no token",
			req:      uploadRequest(t, "a.mp4", "video/mp4", []byte("1234"), nil),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "missing file",
			req:      uploadRequest(t, "", "", nil, map[string]string{"title": "x"}),
			token:    token,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "not a video",
			req:      uploadRequest(t, "a.png", "image/png", []byte("1234"), nil),
			token:    token,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "too large",
			req:      uploadRequest(t, "a.mp4", "video/mp4", []byte("0123456789abcdef"), nil),
			token:    token,
			wantCode: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.req, tt.token)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}

	assert.Empty(t, env.dispatcher.dispatched)
}

func TestUploadVideo_DispatchFailure(t *testing.T) {
	env := newTestEnv(t, 1024)
	env.dispatcher.err = errors.New("queue full")
	token := env.token(t, "user-1", "")

	w := env.do(t, uploadRequest(t, "a.mp4", "video/mp4", []byte("1234"), nil), token)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	videos, err := env.store.ListByStatus(context.Background(), domain.StatusFailed, 0)
	require.NoError(t, err)
	assert.Len(t, videos, 1)

	entries, err := os.ReadDir(env.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "upload of a failed dispatch is removed")
}

func TestGetVideo(t *testing.T) {
	env := newTestEnv(t, 0)
	video := env.seed(t, "owner", "org-1", domain.StatusPending, time.Time{})

	shared := env.seed(t, "owner", "org-1", domain.StatusReady, time.Time{})
	shared.IsShared = true
	require.NoError(t, env.store.UpdateDetails(context.Background(), shared))

	assigned := env.seed(t, "owner", "org-1", domain.StatusReady, time.Time{})
	assigned.AllowedViewers = domain.Viewers{"ana@example.com"}
	require.NoError(t, env.store.UpdateDetails(context.Background(), assigned))

	ana := env.tokenFor(t, auth.Identity{UserID: "ana", Email: "ana@example.com", OrgID: "org-1"})
	admin := env.tokenFor(t, auth.Identity{UserID: "boss", OrgID: "org-1", Role: auth.RoleAdmin})

	tests := []struct {
		name     string
		path     string
		token    string
		wantCode int
	}{
		{name: "owner", path: video.ID, token: env.token(t, "owner", ""), wantCode: http.StatusOK},
		{name: "organization admin", path: video.ID, token: admin, wantCode: http.StatusOK},
		{name: "private to colleague", path: video.ID, token: env.token(t, "colleague", "org-1"), wantCode: http.StatusForbidden},
		{name: "shared with organization", path: shared.ID, token: env.token(t, "colleague", "org-1"), wantCode: http.StatusOK},
		{name: "shared outside organization", path: shared.ID, token: env.token(t, "stranger", "org-2"), wantCode: http.StatusForbidden},
		{name: "assigned viewer", path: assigned.ID, token: ana, wantCode: http.StatusOK},
		{name: "not assigned", path: assigned.ID, token: env.token(t, "colleague", "org-1"), wantCode: http.StatusForbidden},
		{name: "other organization", path: video.ID, token: env.token(t, "stranger", "org-2"), wantCode: http.StatusForbidden},
		{name: "no organization", path: video.ID, token: env.token(t, "stranger", ""), wantCode: http.StatusForbidden},
		{name: "invalid id", path: "not-a-uuid", token: env.token(t, "owner", ""), wantCode: http.StatusBadRequest},
		{name: "unknown id", path: uuid.NewString(), token: env.token(t, "owner", ""), wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+tt.path, nil)
			w := env.do(t, req, tt.token)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())

			if tt.wantCode == http.StatusOK {
				var resp dto.VideoResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tt.path, resp.Video.ID)
			}
		})
	}
}

func TestListVideos_Pagination(t *testing.T) {
	env := newTestEnv(t, 0)
	token := env.token(t, "user-1", "")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var want []string
	for i := 0; i < 5; i++ {
		v := env.seed(t, "user-1", "", domain.StatusPending, base.Add(time.Duration(i)*time.Minute))
		want = append([]string{v.ID}, want...)
	}
	env.seed(t, "user-2", "", domain.StatusPending, base)

	var got []string
	cursor := ""
	for page := 0; page < 5; page++ {
		url := "/api/v1/videos?page_size=2"
		if cursor != "" {
			url += "&cursor=" + cursor
		}
		w := env.do(t, httptest.NewRequest(http.MethodGet, url, nil), token)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp dto.ListVideosResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		for _, v := range resp.Videos {
			got = append(got, v.ID)
		}
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	assert.Equal(t, want, got)
}

func TestListVideos_Filters(t *testing.T) {
	env := newTestEnv(t, 0)
	token := env.token(t, "user-1", "")

	env.seed(t, "user-1", "", domain.StatusPending, time.Time{})
	ready := env.seed(t, "user-1", "", domain.StatusReady, time.Time{})

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/videos?status=ready", nil), token)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListVideosResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Videos, 1)
	assert.Equal(t, ready.ID, resp.Videos[0].ID)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/videos?status=done", nil), token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/videos?cursor=@@@", nil), token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelVideo(t *testing.T) {
	env := newTestEnv(t, 0)
	owner := env.token(t, "owner", "org-1")

	running := env.seed(t, "owner", "org-1", domain.StatusProcessing, time.Time{})
	env.dispatcher.running[running.ID] = true
	idle := env.seed(t, "owner", "org-1", domain.StatusPending, time.Time{})
	done := env.seed(t, "owner", "org-1", domain.StatusReady, time.Time{})

	tests := []struct {
		name     string
		videoID  string
		token    string
		wantCode int
	}{
		{name: "running", videoID: running.ID, token: owner, wantCode: http.StatusAccepted},
		{name: "not running", videoID: idle.ID, token: owner, wantCode: http.StatusConflict},
		{name: "terminal", videoID: done.ID, token: owner, wantCode: http.StatusConflict},
		{name: "not owner", videoID: running.ID, token: env.token(t, "colleague", "org-1"), wantCode: http.StatusForbidden},
		{name: "unknown", videoID: uuid.NewString(), token: owner, wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/"+tt.videoID+"/cancel", nil)
			w := env.do(t, req, tt.token)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}
