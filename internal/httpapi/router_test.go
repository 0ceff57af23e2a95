package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/song-pt/TongAI/internal/admin"
	"github.com/song-pt/TongAI/internal/ai"
	"github.com/song-pt/TongAI/internal/chat"
	"github.com/song-pt/TongAI/internal/config"
	"github.com/song-pt/TongAI/internal/db"
	"github.com/song-pt/TongAI/internal/gate"
	"github.com/song-pt/TongAI/internal/metrics"
	"github.com/song-pt/TongAI/internal/settings"
	"github.com/song-pt/TongAI/internal/store"
	"github.com/song-pt/TongAI/internal/usage"
)

type stubProvider struct {
	mu  sync.Mutex
	err error
}

func (p *stubProvider) Chat(ctx context.Context, req ai.ChatRequest) (*ai.ChatResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &ai.ChatResult{Content: "x = 2", TotalTokens: 50, HasUsage: true}, nil
}

type denyAll struct{}

func (denyAll) Allow(ctx context.Context, subject string, limit int) (bool, error) { return false, nil }

type testServer struct {
	engine *gin.Engine
	repo   *store.Repo
	prov   *stubProvider
	queue  *usage.LocalQueue
}

func newTestServer(t *testing.T, limiter func(d *Deps)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := db.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(gdb))
	repo := store.NewRepo(gdb)

	cfg := config.Config{AdminPassword: "114514", JWTSecret: "test-secret", RateLimitPerMinute: 30}
	m := metrics.NewRegistry()
	prov := &stubProvider{}
	reg := ai.NewRegistry()
	reg.Register("stub", func(ctx context.Context, s ai.Settings) (ai.Provider, error) { return prov, nil })

	resolver := settings.NewResolver(repo, nil, 0, ai.Settings{APIKey: "k", TextModel: "t", VisionModel: "v"})
	queue := usage.NewLocalQueue(usage.NewApplier(repo, m), 1, 16)
	t.Cleanup(queue.Close)

	d := Deps{
		Cfg:      cfg,
		Repo:     repo,
		Settings: resolver,
		Gate:     gate.New(repo),
		Chat:     chat.NewService(repo, ai.NewDispatcher(reg, "stub", resolver, m), resolver, usage.NewRecorder(queue, m)),
		Admin:    admin.NewService(repo, resolver, cfg.AdminPassword, cfg.JWTSecret),
		Metrics:  m,
	}
	if limiter != nil {
		limiter(&d)
	}
	return &testServer{engine: NewRouter(d), repo: repo, prov: prov, queue: queue}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (int, gjson.Result) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec.Code, gjson.Parse(rec.Body.String())
}

func identity(key, device string) map[string]string {
	return map[string]string{"X-Access-Key": key, "X-Device-ID": device}
}

func (s *testServer) adminToken(t *testing.T) map[string]string {
	t.Helper()
	code, res := s.do(t, "POST", "/api/admin/login", gin.H{"password": "114514"}, nil)
	require.Equal(t, http.StatusOK, code)
	tok := res.Get("data.token").String()
	require.NotEmpty(t, tok)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func TestPingAndNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	code, res := s.do(t, "GET", "/ping", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 0, res.Get("code").Int())

	code, res = s.do(t, "GET", "/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, code)
	require.EqualValues(t, 40400, res.Get("code").Int())
}

func TestLoginSolveHistory(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, s.repo.CreateKey(ctx, &store.AccessKey{Code: "vip-1"}))

	code, res := s.do(t, "POST", "/api/login", gin.H{"code": "vip-1", "location": "Beijing"}, nil)
	require.Equal(t, http.StatusOK, code)
	device := res.Get("data.device_id").String()
	require.NotEmpty(t, device)

	code, res = s.do(t, "POST", "/api/solve", gin.H{"question": "2x=4", "subject": "math"}, identity("vip-1", device))
	require.Equal(t, http.StatusOK, code, res.Raw)
	require.Equal(t, "x = 2", res.Get("data.answer").String())
	require.False(t, res.Get("data.tokens").Exists())

	code, res = s.do(t, "GET", "/api/history", nil, identity("vip-1", device))
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, res.Get("data.#").Int())
	require.Equal(t, "2x=4", res.Get("data.0.question").String())

	s.queue.Close()
	k, err := s.repo.GetKeyByCode(ctx, "vip-1")
	require.NoError(t, err)
	require.EqualValues(t, 50, k.TotalTokens)
}

func TestLogin_Rejections(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, s.repo.CreateKey(ctx, &store.AccessKey{Code: "vip-1"}))

	code, res := s.do(t, "POST", "/api/login", gin.H{"code": "unknown"}, nil)
	require.Equal(t, http.StatusForbidden, code)
	require.EqualValues(t, 40301, res.Get("code").Int())

	code, _ = s.do(t, "POST", "/api/login", gin.H{"code": ""}, nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, "POST", "/api/login", gin.H{"code": "vip-1", "device_id": "dev-a"}, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, s.repo.SetDeviceBan(ctx, "vip-1", "dev-a", true))

	code, res = s.do(t, "POST", "/api/login", gin.H{"code": "vip-1", "device_id": "dev-a"}, nil)
	require.Equal(t, http.StatusForbidden, code)
	require.EqualValues(t, 40302, res.Get("code").Int())
}

func TestIdentityRequired(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, s.repo.CreateKey(ctx, &store.AccessKey{Code: "vip-1"}))

	code, res := s.do(t, "POST", "/api/solve", gin.H{"question": "1+1"}, nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.EqualValues(t, 40101, res.Get("code").Int())

	code, res = s.do(t, "POST", "/api/solve", gin.H{"question": "1+1"}, identity("vip-1", "never-logged-in"))
	require.Equal(t, http.StatusUnauthorized, code)
	require.EqualValues(t, 40102, res.Get("code").Int())

	_, err := s.repo.LoginWithKey(ctx, "vip-1", "dev-a", "", "")
	require.NoError(t, err)
	require.NoError(t, s.repo.SetDeviceBan(ctx, "vip-1", "dev-a", true))
	code, res = s.do(t, "GET", "/api/history", nil, identity("vip-1", "dev-a"))
	require.Equal(t, http.StatusForbidden, code)
	require.EqualValues(t, 40302, res.Get("code").Int())
}

func TestSolve_ProviderFailure(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, s.repo.CreateKey(ctx, &store.AccessKey{Code: "vip-1"}))
	_, err := s.repo.LoginWithKey(ctx, "vip-1", "dev-a", "", "")
	require.NoError(t, err)
	s.prov.err = &ai.ProviderError{Provider: "stub", StatusCode: 401, Message: "Invalid token"}

	code, res := s.do(t, "POST", "/api/solve", gin.H{"question": "1+1"}, identity("vip-1", "dev-a"))
	require.Equal(t, http.StatusBadGateway, code)
	require.EqualValues(t, 50201, res.Get("code").Int())
	require.Equal(t, "Error: Invalid token", res.Get("data.answer").String())

	code, res = s.do(t, "POST", "/api/continue", gin.H{
		"messages": []gin.H{{"role": "user", "content": "1+1"}, {"role": "assistant", "content": "2"}},
		"message":  "why?",
	}, identity("vip-1", "dev-a"))
	require.Equal(t, http.StatusBadGateway, code)
	require.Equal(t, "Sorry, I encountered an error. Please try again.", res.Get("data.answer").String())

	code, res = s.do(t, "POST", "/api/solve", gin.H{"question": " "}, identity("vip-1", "dev-a"))
	require.Equal(t, http.StatusBadRequest, code)
	require.EqualValues(t, 10002, res.Get("code").Int())
}

func TestVerifyImageKey(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, s.repo.CreateKey(ctx, &store.AccessKey{Code: "vip-1"}))
	require.NoError(t, s.repo.CreateImageKey(ctx, &store.ImageAccessKey{Code: "img-1"}))
	_, err := s.repo.LoginWithKey(ctx, "vip-1", "dev-a", "", "")
	require.NoError(t, err)

	imageSolve := gin.H{"image": "data:image/png;base64,AAAA", "image_key": "img-1"}
	code, res := s.do(t, "POST", "/api/solve", imageSolve, identity("vip-1", "dev-a"))
	require.Equal(t, http.StatusForbidden, code)
	require.EqualValues(t, 40303, res.Get("code").Int())

	code, res = s.do(t, "POST", "/api/image-key/verify", gin.H{"image_code": "bogus"}, identity("vip-1", "dev-a"))
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "无效的图片密钥或配额已满", res.Get("message").String())

	code, res = s.do(t, "POST", "/api/image-key/verify", gin.H{"image_code": "img-1"}, identity("vip-1", "dev-a"))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "img-1", res.Get("data.image_key").String())

	code, res = s.do(t, "POST", "/api/solve", imageSolve, identity("vip-1", "dev-a"))
	require.Equal(t, http.StatusOK, code, res.Raw)

	s.queue.Close()
	ik, err := s.repo.GetImageKeyByCode(ctx, "img-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, ik.TotalImages)
}

func TestPublicCatalogAndApp(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, s.repo.CreateSubject(ctx, &store.Subject{Code: "math", Label: "数学", SortOrder: 1}))
	require.NoError(t, s.repo.CreateSubject(ctx, &store.Subject{Code: "art", Label: "美术", SortOrder: 2}))
	require.NoError(t, s.repo.UpdateSubject(ctx, "art", map[string]any{"is_active": false}))
	require.NoError(t, s.repo.UpdateConfigValue(ctx, store.ConfigAppTitle, "My Tutor"))

	code, res := s.do(t, "GET", "/api/subjects", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, res.Get("data.#").Int())
	require.Equal(t, "math", res.Get("data.0.code").String())

	code, res = s.do(t, "GET", "/api/app", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "My Tutor", res.Get("data.title").String())
	require.Equal(t, "solver", res.Get("data.mode").String())
}

func TestAdmin_AuthAndKeys(t *testing.T) {
	s := newTestServer(t, nil)

	code, res := s.do(t, "POST", "/api/admin/login", gin.H{"password": "wrong"}, nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.EqualValues(t, 40105, res.Get("code").Int())

	code, _ = s.do(t, "GET", "/api/admin/keys", nil, nil)
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(t, "GET", "/api/admin/keys", nil, map[string]string{"Authorization": "Bearer junk"})
	require.Equal(t, http.StatusUnauthorized, code)

	auth := s.adminToken(t)

	code, res = s.do(t, "POST", "/api/admin/keys", gin.H{"code": "vip-9", "note": "class 3", "limit": 100}, auth)
	require.Equal(t, http.StatusOK, code, res.Raw)
	id := res.Get("data.id").Int()
	require.EqualValues(t, 100, res.Get("data.token_limit").Int())

	code, res = s.do(t, "POST", "/api/admin/keys", gin.H{"code": "vip-9"}, auth)
	require.Equal(t, http.StatusConflict, code)
	require.EqualValues(t, 40902, res.Get("code").Int())

	code, res = s.do(t, "PATCH", fmt.Sprintf("/api/admin/keys/%d", id), gin.H{"limit": nil}, auth)
	require.Equal(t, http.StatusOK, code, res.Raw)
	require.Equal(t, gjson.Null, res.Get("data.token_limit").Type)

	code, res = s.do(t, "PATCH", fmt.Sprintf("/api/admin/keys/%d", id), gin.H{"is_active": false}, auth)
	require.Equal(t, http.StatusOK, code)
	require.False(t, res.Get("data.is_active").Bool())

	code, res = s.do(t, "GET", "/api/admin/keys", nil, auth)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, res.Get("data.#").Int())
	require.EqualValues(t, 0, res.Get("data.0.device_count").Int())

	code, _ = s.do(t, "DELETE", "/api/admin/keys/vip-9", nil, auth)
	require.Equal(t, http.StatusOK, code)
	code, res = s.do(t, "DELETE", "/api/admin/keys/vip-9", nil, auth)
	require.Equal(t, http.StatusNotFound, code)
	require.EqualValues(t, 40401, res.Get("code").Int())
}

func TestAdmin_ReactivationGuard(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	auth := s.adminToken(t)

	limit := int64(10)
	k := &store.AccessKey{Code: "vip-1", TokenLimit: &limit}
	require.NoError(t, s.repo.CreateKey(ctx, k))
	_, err := s.repo.LoginWithKey(ctx, "vip-1", "dev-a", "", "")
	require.NoError(t, err)
	_, err = s.repo.IncrementTokenUsage(ctx, "vip-1", "dev-a", 10)
	require.NoError(t, err)

	path := fmt.Sprintf("/api/admin/keys/%d", k.ID)
	code, res := s.do(t, "PATCH", path, gin.H{"is_active": true}, auth)
	require.Equal(t, http.StatusConflict, code)
	require.EqualValues(t, 40901, res.Get("code").Int())

	// raising the limit in the same request makes reactivation legal
	code, res = s.do(t, "PATCH", path, gin.H{"is_active": true, "limit": 1000}, auth)
	require.Equal(t, http.StatusOK, code, res.Raw)
	require.True(t, res.Get("data.is_active").Bool())
}

func TestAdmin_CatalogHistoryConfig(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	auth := s.adminToken(t)

	code, res := s.do(t, "POST", "/api/admin/subjects", gin.H{"code": "physics", "label": "物理", "is_active": false}, auth)
	require.Equal(t, http.StatusOK, code, res.Raw)
	require.False(t, res.Get("data.is_active").Bool())

	code, res = s.do(t, "PUT", "/api/admin/subjects/physics", gin.H{"code": "hacked", "prompt_prefix": "你是物理老师。"}, auth)
	require.Equal(t, http.StatusOK, code, res.Raw)
	require.Equal(t, "physics", res.Get("data.code").String())
	require.Equal(t, "你是物理老师。", res.Get("data.prompt_prefix").String())

	code, _ = s.do(t, "PUT", "/api/admin/subjects/nope", gin.H{"label": "x"}, auth)
	require.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, "POST", "/api/admin/levels", gin.H{"code": "g7", "label": "七年级"}, auth)
	require.Equal(t, http.StatusOK, code)
	code, res = s.do(t, "GET", "/api/admin/levels", nil, auth)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, res.Get("data.#").Int())

	require.NoError(t, s.repo.AddChatMessage(ctx, &store.ChatHistoryItem{KeyCode: "vip-1", DeviceID: "dev-a", Question: "q", Answer: "a"}))
	code, res = s.do(t, "GET", "/api/admin/history?filter=device&value=dev-a", nil, auth)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, res.Get("data.#").Int())
	code, _ = s.do(t, "GET", "/api/admin/history?filter=bogus&value=x", nil, auth)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, "PUT", "/api/admin/config/ai_api_key", gin.H{"value": "sk-1234567890abcdef"}, auth)
	require.Equal(t, http.StatusOK, code)
	code, res = s.do(t, "GET", "/api/admin/config", nil, auth)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "sk-1****cdef", res.Get("data.ai_api_key").String())
	code, res = s.do(t, "PUT", "/api/admin/config/nope", gin.H{"value": "x"}, auth)
	require.Equal(t, http.StatusBadRequest, code)
	require.EqualValues(t, 10005, res.Get("code").Int())
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(d *Deps) { d.Limiter = denyAll{} })

	code, res := s.do(t, "POST", "/api/login", gin.H{"code": "vip-1"}, nil)
	require.Equal(t, http.StatusTooManyRequests, code)
	require.EqualValues(t, 42901, res.Get("code").Int())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, "GET", "/ping", nil, nil)

	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `tongai_http_requests_total{method="GET",route="/ping",status="200"} 1`)
}
