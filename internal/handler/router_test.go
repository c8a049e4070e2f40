package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunder-social/sunder-api/internal/config"
	"github.com/sunder-social/sunder-api/internal/metrics"
	"github.com/sunder-social/sunder-api/internal/middleware"
	"github.com/sunder-social/sunder-api/internal/models"
	"github.com/sunder-social/sunder-api/internal/moderation"
	"github.com/sunder-social/sunder-api/internal/service"
	"github.com/sunder-social/sunder-api/internal/service/servicetest"
	"github.com/sunder-social/sunder-api/internal/validation"
)

const (
	testSecret = "handler-test-secret"
	testAPIKey = "admin-key"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
	store  *servicetest.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := servicetest.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	policy := moderation.NewPolicy(store, nil, m)
	classifier := moderation.MustNewClassifier(nil)
	v := validation.New(config.ModerationConfig{
		MaxUsernameLength:    12,
		MaxDisplayNameLength: 50,
		MaxBioLength:         200,
		MaxPostLength:        500,
	})
	pub := &servicetest.RecordingPublisher{}

	users := service.NewUserService(store, store, policy, classifier, v, m)
	posts := service.NewPostService(store, policy, classifier, v, pub, m)
	social := service.NewSocialService(store, store, m)
	admin := service.NewAdminService(store, classifier, pub, nil, m)

	router := NewRouter(RouterConfig{
		Health:         NewHealthHandler(okPinger(), pub),
		Users:          NewUserHandler(users, posts, social),
		Posts:          NewPostHandler(posts, users),
		Admin:          NewAdminHandler(admin),
		APIKeys:        middleware.NewAPIKeyAuth([]string{testAPIKey}),
		Verifier:       middleware.NewTokenVerifier(testSecret, ""),
		Roles:          users,
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	return &testServer{t: t, router: router, store: store}
}

func (s *testServer) token(subject string) string {
	s.t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(s.t, err)
	return tok
}

// do sends a request. auth is a subject to sign a token for, "api-key" for
// the admin key, or "" for anonymous.
func (s *testServer) do(method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	switch auth {
	case "":
	case "api-key":
		req.Header.Set("X-API-Key", testAPIKey)
	default:
		req.Header.Set("Authorization", "Bearer "+s.token(auth))
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRouter_ProfileLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/v1/users/check-username?username=Alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[models.UsernameAvailability](t, rec).Available)

	rec = s.do(http.MethodPost, "/api/v1/users", "", models.CreateUserRequest{Username: "alice"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/users", "sub-alice", models.CreateUserRequest{Username: "Alice", Bio: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "alice", created["username"])
	assert.NotContains(t, created, "flags", "moderation flags are never serialized")

	rec = s.do(http.MethodPost, "/api/v1/users", "sub-other", models.CreateUserRequest{Username: "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPatch, "/api/v1/users/me", "sub-alice", map[string]string{"bio": "I hate everyone"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, moderation.DefaultReason, decode[models.ErrorResponse](t, rec).Message)

	rec = s.do(http.MethodGet, "/api/v1/users/me", "sub-alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", decode[models.Profile](t, rec).Bio)

	rec = s.do(http.MethodGet, "/api/v1/users/me", "sub-nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/users/alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decode[models.Profile](t, rec).Username)

	rec = s.do(http.MethodGet, "/api/v1/users/search?q=ali", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]models.Profile](t, rec)["users"], 1)
}

func TestRouter_PostingAndModeration(t *testing.T) {
	s := newTestServer(t)

	alice := s.store.AddUser("alice", models.ModerationFlags{})
	bob := s.store.AddUser("bob", models.ModerationFlags{})

	rec := s.do(http.MethodPost, "/api/v1/posts", alice.ExternalID, models.CreatePostRequest{Content: "good morning"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	post := decode[models.Post](t, rec)

	rec = s.do(http.MethodPost, "/api/v1/posts", alice.ExternalID, models.CreatePostRequest{Content: "d13 already"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, moderation.DefaultReason, decode[models.ErrorResponse](t, rec).Message)
	assert.NotContains(t, rec.Body.String(), "hate:", "the matched rule is not exposed")

	rec = s.do(http.MethodPost, "/api/v1/posts", "", models.CreatePostRequest{Content: "good morning"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Suspend alice through the admin API.
	rec = s.do(http.MethodPatch, "/api/v1/admin/users/"+alice.ID.String()+"/moderation", "api-key",
		map[string]bool{"is_suspended": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/v1/posts", alice.ExternalID, models.CreatePostRequest{Content: "still here"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, moderation.SuspendedMessage, decode[models.ErrorResponse](t, rec).Message)

	rec = s.do(http.MethodPost, "/api/v1/posts/"+post.ID.String()+"/replies", alice.ExternalID, models.CreatePostRequest{Content: "still here"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Suspended users can still read and like.
	rec = s.do(http.MethodPost, "/api/v1/posts/"+post.ID.String()+"/like", alice.ExternalID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[service.LikeState](t, rec).LikeCount)

	// Shadowban alice: bob and anonymous viewers stop seeing her post.
	rec = s.do(http.MethodPatch, "/api/v1/admin/users/"+alice.ID.String()+"/moderation", "api-key",
		map[string]bool{"is_suspended": false, "is_shadowbanned": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/posts", bob.ExternalID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[service.FeedPage](t, rec).Posts)

	rec = s.do(http.MethodGet, "/api/v1/posts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[service.FeedPage](t, rec).Posts)

	rec = s.do(http.MethodGet, "/api/v1/posts", alice.ExternalID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	feed := decode[service.FeedPage](t, rec)
	require.Len(t, feed.Posts, 1)
	assert.Equal(t, post.ID, feed.Posts[0].ID)
	assert.Nil(t, feed.NextCursor, "one post fits in the default page")
	assert.NotContains(t, rec.Body.String(), "is_shadowbanned")

	rec = s.do(http.MethodGet, "/api/v1/posts/"+post.ID.String(), bob.ExternalID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/users/alice/posts", bob.ExternalID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[service.FeedPage](t, rec).Posts)

	rec = s.do(http.MethodGet, "/api/v1/admin/users/"+alice.ID.String()+"/moderation", "api-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]models.ModerationAction](t, rec)["actions"], 2)
}

func TestRouter_Admin(t *testing.T) {
	s := newTestServer(t)

	root := s.store.AddUser("root", models.ModerationFlags{})
	alice := s.store.AddUser("alice", models.ModerationFlags{})

	rec := s.do(http.MethodGet, "/api/v1/admin/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/admin/users", root.ExternalID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/admin/users/"+root.ID.String()+"/roles/admin", "api-key", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/admin/users?limit=10", root.ExternalID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]models.AdminUserView](t, rec)["users"], 2)

	rec = s.do(http.MethodPost, "/api/v1/admin/users/"+alice.ID.String()+"/roles/owner", root.ExternalID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/admin/users/"+uuid.NewString()+"/roles/staff", root.ExternalID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPatch, "/api/v1/admin/users/not-a-uuid/moderation", "api-key", map[string]bool{"is_verified": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPatch, "/api/v1/admin/users/"+alice.ID.String()+"/moderation", root.ExternalID,
		map[string]bool{"is_verified": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/admin/users/"+alice.ID.String()+"/moderation", "api-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	actions := decode[map[string][]models.ModerationAction](t, rec)["actions"]
	require.Len(t, actions, 1)
	assert.Equal(t, root.ExternalID, actions[0].Actor, "JWT admins are recorded by subject")

	rec = s.do(http.MethodPost, "/api/v1/admin/classify", "api-key", models.ClassifyRequest{Text: "1 h4te cats"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[service.ClassifyResult](t, rec)
	assert.False(t, res.Valid)
	assert.Equal(t, "ihatecats", res.Normalized)
	assert.Equal(t, "hate:ihate", res.Rule)
}

func TestRouter_SocialAndReplies(t *testing.T) {
	s := newTestServer(t)

	alice := s.store.AddUser("alice", models.ModerationFlags{})
	bob := s.store.AddUser("bob", models.ModerationFlags{})

	rec := s.do(http.MethodPost, "/api/v1/users/alice/follow", bob.ExternalID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/users/bob/follow", bob.ExternalID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/users/alice", bob.ExternalID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[models.Profile](t, rec)
	assert.True(t, profile.IsFollowing)
	assert.Equal(t, 1, profile.FollowerCount)

	rec = s.do(http.MethodDelete, "/api/v1/users/alice/follow", bob.ExternalID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/posts", alice.ExternalID, models.CreatePostRequest{Content: "top level"})
	require.Equal(t, http.StatusCreated, rec.Code)
	parent := decode[models.Post](t, rec)

	rec = s.do(http.MethodPost, "/api/v1/posts/"+parent.ID.String()+"/replies", bob.ExternalID, models.CreatePostRequest{Content: "nice one"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/posts/"+parent.ID.String()+"/replies", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]models.Post](t, rec)["replies"], 1)

	rec = s.do(http.MethodPost, "/api/v1/posts/"+parent.ID.String()+"/like/toggle", bob.ExternalID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[service.LikeState](t, rec).Liked)

	rec = s.do(http.MethodPost, "/api/v1/posts/"+parent.ID.String()+"/like/toggle", bob.ExternalID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[service.LikeState](t, rec).Liked)

	rec = s.do(http.MethodGet, "/api/v1/users/by-id/"+alice.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decode[models.Profile](t, rec).Username)

	rec = s.do(http.MethodDelete, "/api/v1/posts/"+parent.ID.String(), bob.ExternalID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, "/api/v1/posts/"+parent.ID.String(), alice.ExternalID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/posts?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/posts?before=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_FeedPagesPastHiddenPosts(t *testing.T) {
	s := newTestServer(t)

	alice := s.store.AddUser("alice", models.ModerationFlags{})
	bob := s.store.AddUser("bob", models.ModerationFlags{})
	carol := s.store.AddUser("carol", models.ModerationFlags{})

	rec := s.do(http.MethodPost, "/api/v1/posts", bob.ExternalID, models.CreatePostRequest{Content: "from bob"})
	require.Equal(t, http.StatusCreated, rec.Code)
	bobs := decode[models.Post](t, rec)

	var alices []models.Post
	for _, content := range []string{"alice one", "alice two"} {
		rec = s.do(http.MethodPost, "/api/v1/posts", alice.ExternalID, models.CreatePostRequest{Content: content})
		require.Equal(t, http.StatusCreated, rec.Code)
		alices = append(alices, decode[models.Post](t, rec))
	}

	rec = s.do(http.MethodPatch, "/api/v1/admin/users/"+alice.ID.String()+"/moderation", "api-key",
		map[string]bool{"is_shadowbanned": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/posts?limit=2", carol.ExternalID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[service.FeedPage](t, rec)
	assert.Empty(t, first.Posts)
	require.NotNil(t, first.NextCursor)
	assert.Equal(t, alices[0].ID, *first.NextCursor)

	rec = s.do(http.MethodGet, "/api/v1/posts?limit=2&before="+first.NextCursor.String(), carol.ExternalID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[service.FeedPage](t, rec)
	require.Len(t, second.Posts, 1)
	assert.Equal(t, bobs.ID, second.Posts[0].ID)
	assert.Nil(t, second.NextCursor)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sunder_http_requests_total")
}
