package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	avatarModel "github.com/zhouzirui/avatharam/backend/internal/model/avatar"
	"github.com/zhouzirui/avatharam/backend/internal/service/avatar"
	convService "github.com/zhouzirui/avatharam/backend/internal/service/conversation"
	"github.com/zhouzirui/avatharam/backend/internal/viewer"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	avatars := avatarModel.NewMemoryStore(avatarModel.Seed())
	store := convService.NewStore(avatars, func() *avatar.Manager {
		return avatar.NewManager(nil, avatar.Options{})
	}, convService.Defaults{}, nil)
	renderer, err := viewer.Load("")
	assert.NoError(t, err)

	return NewRouter(Deps{
		Avatars:        avatars,
		Conversations:  store,
		Orchestrator:   convService.NewOrchestrator(convService.Options{}),
		Viewer:         renderer,
		SpeechBackends: []string{"whisper"},
	})
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","chatEnabled":false,"speechBackends":["whisper"]}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRoutesMountedUnderAPI(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/avatars", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/conversations", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/avatars", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"route not found"}`, rec.Body.String())
}
