package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/itembox/internal/auth"
	"github.com/hitoshi/itembox/internal/item"
	"github.com/hitoshi/itembox/internal/metrics"
	"github.com/hitoshi/itembox/internal/middleware"
	"github.com/hitoshi/itembox/internal/model"
	"github.com/hitoshi/itembox/internal/repository"
	"github.com/hitoshi/itembox/internal/security"
	"github.com/hitoshi/itembox/internal/user"
	"github.com/hitoshi/itembox/internal/validation"
)

// --- ルーターテスト用のインメモリリポジトリ ---

type memStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	items    map[string]*model.Item
	sessions map[string]*model.Session
	tokens   map[string]*model.APIToken
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*model.User),
		items:    make(map[string]*model.Item),
		sessions: make(map[string]*model.Session),
		tokens:   make(map[string]*model.APIToken),
	}
}

type memUserRepo struct{ s *memStore }

func (r memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r memUserRepo) FindByGitHubID(_ context.Context, githubID string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.GitHubID != "" && u.GitHubID == githubID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r memUserRepo) List(_ context.Context) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	users := make([]*model.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		cp := *u
		users = append(users, &cp)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (r memUserRepo) conflicts(u *model.User) bool {
	for _, other := range r.s.users {
		if other.ID == u.ID {
			continue
		}
		if other.Username == u.Username || (u.Email != "" && other.Email == u.Email) {
			return true
		}
	}
	return false
}

func (r memUserRepo) CreateUnique(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.conflicts(u) {
		return repository.ErrDuplicateUser
	}
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now()
	cp := *u
	r.s.users[u.ID] = &cp
	return nil
}

func (r memUserRepo) UpdateUnique(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.users[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.conflicts(u) {
		return repository.ErrDuplicateUser
	}
	now := time.Now()
	existing.Username, existing.Email = u.Username, u.Email
	existing.UpdatedAt = &now
	*u = *existing
	return nil
}

func (r memUserRepo) UpsertByGitHubID(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now()
	cp := *u
	r.s.users[u.ID] = &cp
	return nil
}

func (r memUserRepo) UpdateLogin(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.users[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Username, existing.Email, existing.AvatarURL = u.Username, u.Email, u.AvatarURL
	existing.LastLogin = u.LastLogin
	return nil
}

func (r memUserRepo) DeleteByID(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.users, id)
	for sid, sess := range r.s.sessions {
		if sess.UserID == id {
			delete(r.s.sessions, sid)
		}
	}
	return nil
}

type memItemRepo struct{ s *memStore }

func (r memItemRepo) FindByID(_ context.Context, id string) (*model.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if it, ok := r.s.items[id]; ok {
		cp := *it
		return &cp, nil
	}
	return nil, nil
}

func (r memItemRepo) List(ctx context.Context) ([]*model.Item, error) {
	return r.filter(func(*model.Item) bool { return true }), nil
}

func (r memItemRepo) ListByUserID(_ context.Context, userID string) ([]*model.Item, error) {
	return r.filter(func(it *model.Item) bool { return it.UserID == userID }), nil
}

func (r memItemRepo) filter(keep func(*model.Item) bool) []*model.Item {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := []*model.Item{}
	for _, it := range r.s.items {
		if keep(it) {
			cp := *it
			items = append(items, &cp)
		}
	}
	return items
}

func (r memItemRepo) Create(_ context.Context, it *model.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	it.ID = uuid.NewString()
	it.CreatedAt = time.Now()
	cp := *it
	r.s.items[it.ID] = &cp
	return nil
}

func (r memItemRepo) Update(_ context.Context, id string, u *model.ItemUpdate) (*model.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	it, ok := r.s.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	it.Name, it.Description = u.Name, u.Description
	if u.Price != nil {
		it.Price = u.Price
	}
	if u.Quantity != nil {
		it.Quantity = u.Quantity
	}
	if u.UserID != nil {
		it.UserID = *u.UserID
	}
	cp := *it
	return &cp, nil
}

func (r memItemRepo) DeleteByID(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.items[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.items, id)
	return nil
}

type memSessionRepo struct{ s *memStore }

func (r memSessionRepo) Create(_ context.Context, sess *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *sess
	r.s.sessions[sess.ID] = &cp
	return nil
}

func (r memSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok || time.Now().After(sess.ExpiresAt) {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (r memSessionRepo) DeleteByID(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sessions, id)
	return nil
}

func (r memSessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, sess := range r.s.sessions {
		if sess.UserID == userID {
			delete(r.s.sessions, id)
		}
	}
	return nil
}

func (r memSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

type memTokenRepo struct{ s *memStore }

func (r memTokenRepo) Create(_ context.Context, tok *model.APIToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *tok
	r.s.tokens[tok.TokenHash] = &cp
	return nil
}

func (r memTokenRepo) FindByHash(_ context.Context, hash string) (*model.APIToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if tok, ok := r.s.tokens[hash]; ok {
		cp := *tok
		return &cp, nil
	}
	return nil, nil
}

// stubGitHub は認可コードごとに固定のプロフィールを返す。
type stubGitHub struct {
	profiles map[string]*model.OAuthProfile
}

func (g *stubGitHub) GetLoginURL(state string) string {
	return "https://github.com/login/oauth/authorize?state=" + url.QueryEscape(state)
}

func (g *stubGitHub) ExchangeCode(_ context.Context, code string) (*model.OAuthProfile, error) {
	if p, ok := g.profiles[code]; ok {
		return p, nil
	}
	return nil, errors.New("bad verification code")
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

// --- テスト環境 ---

type testServer struct {
	t       *testing.T
	store   *memStore
	handler http.Handler
	github  *stubGitHub
}

func newTestServer(t *testing.T, db DBPinger) *testServer {
	t.Helper()
	store := newMemStore()
	users := memUserRepo{store}
	items := memItemRepo{store}
	sessions := memSessionRepo{store}

	github := &stubGitHub{profiles: map[string]*model.OAuthProfile{
		"code-octocat": {
			ProviderUserID: "583231",
			Username:       "octocat",
			DisplayName:    "The Octocat",
			Emails:         []string{"octocat@github.com"},
			Photos:         []string{"https://avatars.githubusercontent.com/u/583231"},
		},
	}}

	v := validation.New(security.NewSSRFGuard())
	sanitizer := security.NewContentSanitizer()
	authSvc := auth.NewService(github, users, sessions, nil, auth.ServiceConfig{SessionMaxAge: 3600})
	tokenSvc := auth.NewTokenService(memTokenRepo{store}, nil, 0)

	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(1000, 100))
	t.Cleanup(limiter.Stop)

	reg := prometheus.NewRegistry()
	handler := NewRouter(&RouterDeps{
		SessionResolver:    authSvc,
		Guard:              auth.NewGuard(auth.StrategyToken, "", tokenSvc),
		RateLimiter:        limiter,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		Metrics:            metrics.NewCollector(reg),
		Gatherer:           reg,
		AuthService:        authSvc,
		StateIssuer:        auth.NewStateSigner("test-secret", 10*time.Minute),
		AuthConfig:         AuthHandlerConfig{SessionMaxAge: 3600},
		TokenService:       tokenSvc,
		ItemService:        item.NewItemService(items, users, v, sanitizer),
		UserService:        user.NewService(users, items, v, sanitizer),
		DocsURL:            "/api-docs",
		DB:                 db,
	})

	return &testServer{t: t, store: store, handler: handler, github: github}
}

type requestOption func(*http.Request)

func withCookie(name, value string) requestOption {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: name, Value: value}) }
}

func withHeader(key, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func (s *testServer) do(method, path, body string, opts ...requestOption) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, opt := range opts {
		opt(req)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

// login はOAuthフローを実行しセッションIDを返す。
func (s *testServer) login(code string) string {
	s.t.Helper()

	begin := s.do(http.MethodGet, "/api/auth/github", "")
	if begin.Code != http.StatusTemporaryRedirect {
		s.t.Fatalf("begin login status = %d", begin.Code)
	}
	state := findCookie(begin.Result(), oauthStateCookie)
	if state == nil {
		s.t.Fatal("oauth_state cookie not set")
	}

	path := "/api/auth/github/callback?code=" + code + "&state=" + url.QueryEscape(state.Value)
	callback := s.do(http.MethodGet, path, "", withCookie(oauthStateCookie, state.Value))
	session := findCookie(callback.Result(), middleware.SessionCookieName)
	if session == nil {
		s.t.Fatalf("session cookie not set: status=%d location=%s", callback.Code, callback.Header().Get("Location"))
	}
	return session.Value
}

func (s *testServer) issueToken(sessionID string) string {
	s.t.Helper()
	w := s.do(http.MethodGet, "/api/auth/token", "", withCookie(middleware.SessionCookieName, sessionID))
	if w.Code != http.StatusOK {
		s.t.Fatalf("issue token status = %d body=%s", w.Code, w.Body.String())
	}
	var body tokenResponse
	json.NewDecoder(w.Body).Decode(&body)
	return body.Token
}

// --- テスト ---

func TestRouter_アイテム作成は認証が必要(t *testing.T) {
	srv := newTestServer(t, nil)
	payload := `{"name":"Widget","description":"A widget"}`

	w := srv.do(http.MethodPost, "/api/items", payload)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", w.Code)
	}
	if body := decodeError(t, w); body.Message != "Unauthorized: Please log in" {
		t.Errorf("message = %q", body.Message)
	}
	if len(srv.store.items) != 0 {
		t.Fatal("item must not be created without authentication")
	}

	sessionID := srv.login("code-octocat")
	w = srv.do(http.MethodPost, "/api/items", payload, withCookie(middleware.SessionCookieName, sessionID))
	if w.Code != http.StatusCreated {
		t.Fatalf("session status = %d, want 201 body=%s", w.Code, w.Body.String())
	}
	var created itemResponse
	json.NewDecoder(w.Body).Decode(&created)
	if created.ID == "" || created.CreatedAt.IsZero() || created.Name != "Widget" {
		t.Errorf("created = %+v", created)
	}

	token := srv.issueToken(sessionID)
	for _, opt := range []requestOption{
		withHeader("X-API-Key", token),
		withHeader("Authorization", "Bearer "+token),
	} {
		w = srv.do(http.MethodPost, "/api/items", payload, opt)
		if w.Code != http.StatusCreated {
			t.Errorf("token status = %d, want 201", w.Code)
		}
	}

	w = srv.do(http.MethodPost, "/api/items", payload, withHeader("X-API-Key", "forged"))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("forged token status = %d, want 401", w.Code)
	}
}

func TestRouter_ログインを繰り返しても同一ユーザー(t *testing.T) {
	srv := newTestServer(t, nil)

	first := srv.login("code-octocat")
	srv.github.profiles["code-octocat"].Username = "octocat-renamed"
	second := srv.login("code-octocat")

	if first == second {
		t.Error("each login should create a new session")
	}
	if len(srv.store.users) != 1 {
		t.Fatalf("users = %d, want 1", len(srv.store.users))
	}
	for _, u := range srv.store.users {
		if u.Username != "octocat-renamed" || u.LastLogin == nil {
			t.Errorf("user not refreshed: %+v", u)
		}
		if u.FirstName != "The" || u.LastName != "Octocat" {
			t.Errorf("name split = %q/%q", u.FirstName, u.LastName)
		}
	}
}

func TestRouter_認証状態とログアウト(t *testing.T) {
	srv := newTestServer(t, nil)
	sessionID := srv.login("code-octocat")

	w := srv.do(http.MethodGet, "/api/auth/status", "", withCookie(middleware.SessionCookieName, sessionID))
	var status authStatusResponse
	json.NewDecoder(w.Body).Decode(&status)
	if !status.IsAuthenticated || status.User == nil || status.User.Username != "octocat" {
		t.Fatalf("status = %+v", status)
	}

	w = srv.do(http.MethodGet, "/api/auth/logout", "", withCookie(middleware.SessionCookieName, sessionID))
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d", w.Code)
	}

	w = srv.do(http.MethodGet, "/api/auth/status", "", withCookie(middleware.SessionCookieName, sessionID))
	status = authStatusResponse{}
	json.NewDecoder(w.Body).Decode(&status)
	if status.IsAuthenticated {
		t.Error("session should be gone after logout")
	}

	w = srv.do(http.MethodPost, "/api/items", `{"name":"a","description":"b"}`, withCookie(middleware.SessionCookieName, sessionID))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("post after logout status = %d, want 401", w.Code)
	}
}

func TestRouter_不正なIDはストレージに触れず400(t *testing.T) {
	srv := newTestServer(t, nil)
	sessionID := srv.login("code-octocat")
	cookie := withCookie(middleware.SessionCookieName, sessionID)

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/items/not-a-uuid", ""},
		{http.MethodPut, "/api/items/not-a-uuid", `{"name":"a","description":"b"}`},
		{http.MethodDelete, "/api/items/not-a-uuid", ""},
		{http.MethodGet, "/api/users/42", ""},
		{http.MethodGet, "/api/users/42/items", ""},
		{http.MethodPut, "/api/users/42", `{"username":"a","email":"a@example.com"}`},
		{http.MethodDelete, "/api/users/42", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := srv.do(tt.method, tt.path, tt.body, cookie)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if body := decodeError(t, w); body.Code != model.ErrCodeInvalidID {
				t.Errorf("code = %q", body.Code)
			}
		})
	}
}

func TestRouter_名前と説明がないアイテムは400(t *testing.T) {
	srv := newTestServer(t, nil)
	sessionID := srv.login("code-octocat")

	w := srv.do(http.MethodPost, "/api/items", `{"price":-1}`, withCookie(middleware.SessionCookieName, sessionID))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	body := decodeError(t, w)
	want := map[string]bool{
		"Item name is required":           false,
		"Item description is required":    false,
		"Price must be a positive number": false,
	}
	for _, e := range body.Errors {
		if _, ok := want[e]; ok {
			want[e] = true
		}
	}
	for msg, seen := range want {
		if !seen {
			t.Errorf("missing error %q in %v", msg, body.Errors)
		}
	}
}

func TestRouter_ユーザーのアイテム一覧(t *testing.T) {
	srv := newTestServer(t, nil)
	sessionID := srv.login("code-octocat")
	cookie := withCookie(middleware.SessionCookieName, sessionID)

	var owner model.User
	for _, u := range srv.store.users {
		owner = *u
	}

	w := srv.do(http.MethodGet, "/api/users/"+owner.ID+"/items", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("empty list: status=%d body=%s", w.Code, w.Body.String())
	}

	srv.do(http.MethodPost, "/api/items", `{"name":"Widget","description":"A widget","userId":"`+owner.ID+`"}`, cookie)
	w = srv.do(http.MethodGet, "/api/users/"+owner.ID+"/items", "")
	var items []itemResponse
	json.NewDecoder(w.Body).Decode(&items)
	if len(items) != 1 || items[0].UserID != owner.ID {
		t.Errorf("items = %+v", items)
	}

	w = srv.do(http.MethodGet, "/api/users/"+uuid.NewString()+"/items", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", w.Code)
	}

	w = srv.do(http.MethodPost, "/api/items", `{"name":"a","description":"b","userId":"`+uuid.NewString()+`"}`, cookie)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown owner status = %d, want 400", w.Code)
	}
}

func TestRouter_重複メールアドレスのユーザー作成は400(t *testing.T) {
	srv := newTestServer(t, nil)
	token := srv.issueToken(srv.login("code-octocat"))
	key := withHeader("X-API-Key", token)

	w := srv.do(http.MethodPost, "/api/users", `{"username":"alice","email":"alice@example.com"}`, key)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", w.Code, w.Body.String())
	}

	w = srv.do(http.MethodPost, "/api/users", `{"username":"alice2","email":"alice@example.com"}`, key)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("duplicate status = %d, want 400", w.Code)
	}
	if body := decodeError(t, w); body.Message != "Username or email already exists" {
		t.Errorf("message = %q", body.Message)
	}
}

func TestRouter_トークン確認(t *testing.T) {
	srv := newTestServer(t, nil)
	sessionID := srv.login("code-octocat")
	token := srv.issueToken(sessionID)

	w := srv.do(http.MethodGet, "/api/auth/check-token", "", withHeader("X-API-Key", token))
	var body checkTokenResponse
	json.NewDecoder(w.Body).Decode(&body)
	if w.Code != http.StatusOK || !body.Valid || body.UserID == "" {
		t.Errorf("check-token = %d %+v", w.Code, body)
	}

	// トークンだけではトークンを発行できない
	w = srv.do(http.MethodGet, "/api/auth/token", "", withHeader("X-API-Key", token))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("token via token status = %d, want 401", w.Code)
	}
}

func TestRouter_運用エンドポイント(t *testing.T) {
	t.Run("ルートはドキュメントにリダイレクト", func(t *testing.T) {
		srv := newTestServer(t, nil)
		w := srv.do(http.MethodGet, "/", "")
		if w.Code != http.StatusFound || w.Header().Get("Location") != "/api-docs" {
			t.Errorf("status = %d, location = %q", w.Code, w.Header().Get("Location"))
		}
	})

	t.Run("ヘルスチェック正常", func(t *testing.T) {
		srv := newTestServer(t, pingerFunc(func(context.Context) error { return nil }))
		w := srv.do(http.MethodGet, "/health", "")
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
			t.Errorf("status = %d body=%s", w.Code, w.Body.String())
		}
	})

	t.Run("ヘルスチェック異常", func(t *testing.T) {
		srv := newTestServer(t, pingerFunc(func(context.Context) error { return errors.New("down") }))
		w := srv.do(http.MethodGet, "/health", "")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", w.Code)
		}
	})

	t.Run("メトリクス", func(t *testing.T) {
		srv := newTestServer(t, nil)
		srv.do(http.MethodGet, "/api/items", "")
		w := srv.do(http.MethodGet, "/metrics", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), `itembox_http_requests_total{method="GET",route="/api/items`) {
			t.Errorf("metrics output missing request counter:\n%s", w.Body.String())
		}
	})
}

func TestRouter_CORSプリフライト(t *testing.T) {
	srv := newTestServer(t, nil)
	w := srv.do(http.MethodOptions, "/api/items", "",
		withHeader("Origin", "http://localhost:3000"),
		withHeader("Access-Control-Request-Method", "POST"),
		withHeader("Access-Control-Request-Headers", "X-API-Key"),
	)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q", got)
	}
}
