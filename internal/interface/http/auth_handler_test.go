package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvforge/auth-api/config"
	"github.com/cvforge/auth-api/internal/application"
	"github.com/cvforge/auth-api/internal/domain/entity"
	repo "github.com/cvforge/auth-api/internal/domain/repository"
	"github.com/cvforge/auth-api/pkg/helpers"
	"github.com/cvforge/auth-api/pkg/validation"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validation.Init()
	os.Exit(m.Run())
}

// --- fakes ---

type memRepo struct {
	mu    sync.Mutex
	users map[string]*entity.User
}

func newMemRepo() *memRepo { return &memRepo{users: map[string]*entity.User{}} }

func cloneUser(u *entity.User) *entity.User {
	cp := *u
	if u.VerificationExpires != nil {
		e := *u.VerificationExpires
		cp.VerificationExpires = &e
	}
	return &cp
}

func (f *memRepo) Create(_ context.Context, u *entity.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, x := range f.users {
		if x.Email == u.Email {
			return repo.ErrEmailExists
		}
	}
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	f.users[u.ID] = cloneUser(u)
	return nil
}

func (f *memRepo) GetByID(_ context.Context, id string) (*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, repo.ErrNotFound
}

func (f *memRepo) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *memRepo) GetByVerificationToken(_ context.Context, token string) (*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.VerificationToken != "" && u.VerificationToken == token {
			return cloneUser(u), nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *memRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (f *memRepo) Update(_ context.Context, u *entity.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.ID]; !ok {
		return repo.ErrNotFound
	}
	u.UpdatedAt = time.Now()
	f.users[u.ID] = cloneUser(u)
	return nil
}

func (f *memRepo) tokenFor(t *testing.T, email string) string {
	t.Helper()
	u, err := f.GetByEmail(context.Background(), email)
	require.NoError(t, err)
	require.NotEmpty(t, u.VerificationToken)
	return u.VerificationToken
}

type memQueue struct{}

func (memQueue) PublishJSON(context.Context, any) error { return nil }

// --- harness ---

type testAPI struct {
	engine *gin.Engine
	repo   *memRepo
	svc    *application.Service
}

// envelope mirrors the response package's JSON shape for decoding.
type envelope struct {
	Status  int             `json:"status"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
	Error   map[string]any  `json:"error"`
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cfg := &config.Config{
		AppName:         "auth-api-test",
		BaseURL:         "http://localhost:8080",
		VerificationTTL: 24 * time.Hour,
		UploadMaxBytes:  5 << 20,
		MailSendEnabled: true,
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	jwt := helpers.NewJWTManager("access-secret", "refresh-secret", time.Hour, 2*time.Hour)

	r := newMemRepo()
	svc := application.NewService(r, jwt, cfg, memQueue{}, nil, nil, logger, nil)

	ah := NewAuthHandler(svc, logger, "", false)
	uh := NewUserHandler(svc, logger, "", false)

	e := gin.New()
	api := e.Group("/api")
	api.POST("/auth/register", ah.Register)
	api.GET("/auth/verify-email", ah.VerifyEmail)
	api.POST("/auth/verify/resend", ah.ResendVerification)
	api.POST("/auth/login", ah.Login)
	api.POST("/auth/upload-image", ah.UploadImage)
	api.POST("/auth/refresh", ah.Refresh)

	// Authenticated group; session checks live in middleware, the tests
	// inject the user id directly.
	authed := api.Group("/", func(c *gin.Context) {
		if uid := c.GetHeader("X-Test-User"); uid != "" {
			c.Set("userID", uid)
		}
	})
	authed.GET("/profile", uh.GetProfile)
	authed.PUT("/profile", uh.UpdateProfile)
	authed.POST("/logout", uh.Logout)
	authed.GET("/users/search", uh.Search)

	return &testAPI{engine: e, repo: r, svc: svc}
}

func (a *testAPI) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return w, env
}

func jsonReq(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func registerUser(t *testing.T, a *testAPI, email string) string {
	t.Helper()
	w, env := a.do(t, jsonReq(t, http.MethodPost, "/api/auth/register", gin.H{
		"name":     "Alice",
		"email":    email,
		"password": "pw123456",
	}))
	require.Equal(t, http.StatusCreated, w.Code)
	var pub entity.Public
	require.NoError(t, json.Unmarshal(env.Data, &pub))
	return pub.ID
}

func verifyUser(t *testing.T, a *testAPI, email string) {
	t.Helper()
	token := a.repo.tokenFor(t, email)
	w, _ := a.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/verify-email?token="+token, nil))
	require.Equal(t, http.StatusOK, w.Code)
}

// --- register ---

func TestRegisterEndpoint(t *testing.T) {
	a := newTestAPI(t)

	w, env := a.do(t, jsonReq(t, http.MethodPost, "/api/auth/register", gin.H{
		"name":     "Alice",
		"email":    "a@x.com",
		"password": "pw123456",
	}))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.Success)
	// The message stays neutral; delivery status lives in the meta flag.
	assert.Equal(t, "user registered", env.Message)
	assert.Equal(t, true, env.Meta["email_queued"])

	var pub entity.Public
	require.NoError(t, json.Unmarshal(env.Data, &pub))
	assert.Equal(t, "a@x.com", pub.Email)
	assert.False(t, pub.EmailVerified)
	assert.Equal(t, "Basic", pub.SubscriptionPlan)
	assert.NotContains(t, string(env.Data), "password")
}

func TestRegisterEndpoint_Validation(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name  string
		body  gin.H
		field string
	}{
		{"missing name", gin.H{"email": "a@x.com", "password": "pw123456"}, "name"},
		{"bad email", gin.H{"name": "A", "email": "nope", "password": "pw123456"}, "email"},
		{"short password", gin.H{"name": "A", "email": "a@x.com", "password": "short"}, "password"},
		{"bad image url", gin.H{"name": "A", "email": "a@x.com", "password": "pw123456", "profile_image_url": "not a url"}, "profile_image_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := a.do(t, jsonReq(t, http.MethodPost, "/api/auth/register", tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, env.Success)
			assert.Contains(t, env.Error, tt.field)
		})
	}
}

func TestRegisterEndpoint_Duplicate(t *testing.T) {
	a := newTestAPI(t)
	registerUser(t, a, "a@x.com")

	w, env := a.do(t, jsonReq(t, http.MethodPost, "/api/auth/register", gin.H{
		"name":     "Mallory",
		"email":    "a@x.com",
		"password": "different1",
	}))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, env.Success)
}

// --- verify email ---

func TestVerifyEmailEndpoint(t *testing.T) {
	a := newTestAPI(t)
	registerUser(t, a, "a@x.com")
	token := a.repo.tokenFor(t, "a@x.com")

	w, _ := a.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/verify-email", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = a.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/verify-email?token=bogus", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env := a.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/verify-email?token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "Email verified successfully")

	// Replaying a consumed token must not succeed.
	w, _ = a.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/verify-email?token="+token, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyEmailEndpoint_Expired(t *testing.T) {
	a := newTestAPI(t)
	uid := registerUser(t, a, "a@x.com")
	token := a.repo.tokenFor(t, "a@x.com")

	past := time.Now().Add(-time.Hour)
	a.repo.mu.Lock()
	a.repo.users[uid].VerificationExpires = &past
	a.repo.mu.Unlock()

	w, env := a.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/verify-email?token="+token, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Message, "expired")
}

// --- login ---

func TestLoginEndpoint(t *testing.T) {
	a := newTestAPI(t)
	registerUser(t, a, "a@x.com")
	verifyUser(t, a, "a@x.com")

	w, env := a.do(t, jsonReq(t, http.MethodPost, "/api/auth/login", gin.H{
		"email":    "a@x.com",
		"password": "pw123456",
	}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	var data struct {
		User  entity.Public `json:"user"`
		Token string        `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "a@x.com", data.User.Email)
	assert.NotEmpty(t, data.Token)

	cookies := w.Result().Cookies()
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "access_token")
	assert.Contains(t, names, "refresh_token")
}

func TestLoginEndpoint_Unverified(t *testing.T) {
	a := newTestAPI(t)
	registerUser(t, a, "a@x.com")

	w, env := a.do(t, jsonReq(t, http.MethodPost, "/api/auth/login", gin.H{
		"email":    "a@x.com",
		"password": "pw123456",
	}))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, env.Message, "verify")
}

func TestLoginEndpoint_BadCredentials(t *testing.T) {
	a := newTestAPI(t)
	registerUser(t, a, "a@x.com")
	verifyUser(t, a, "a@x.com")

	// Wrong password and unknown email produce identical responses.
	w1, env1 := a.do(t, jsonReq(t, http.MethodPost, "/api/auth/login", gin.H{
		"email": "a@x.com", "password": "wrongpw99",
	}))
	w2, env2 := a.do(t, jsonReq(t, http.MethodPost, "/api/auth/login", gin.H{
		"email": "ghost@x.com", "password": "pw123456",
	}))
	assert.Equal(t, http.StatusUnauthorized, w1.Code)
	assert.Equal(t, http.StatusUnauthorized, w2.Code)
	assert.Equal(t, env1.Message, env2.Message)
}

// --- refresh ---

func TestRefreshEndpoint(t *testing.T) {
	a := newTestAPI(t)
	registerUser(t, a, "a@x.com")
	verifyUser(t, a, "a@x.com")

	w, _ := a.do(t, jsonReq(t, http.MethodPost, "/api/auth/login", gin.H{
		"email": "a@x.com", "password": "pw123456",
	}))
	require.Equal(t, http.StatusOK, w.Code)

	var refresh *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "refresh_token" {
			refresh = c
		}
	}
	require.NotNil(t, refresh)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(refresh)
	w2, env := a.do(t, req)
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.True(t, env.Success)

	// No cookie, no refresh.
	w3, _ := a.do(t, httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil))
	assert.Equal(t, http.StatusUnauthorized, w3.Code)
}

// --- upload ---

func TestUploadImageEndpoint(t *testing.T) {
	a := newTestAPI(t)

	// No multipart file at all.
	w, _ := a.do(t, httptest.NewRequest(http.MethodPost, "/api/auth/upload-image", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Wrong content type is rejected before any storage call.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="image"; filename="doc.pdf"`}
	hdr["Content-Type"] = []string{"application/pdf"}
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-fake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/upload-image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w2, env := a.do(t, req)
	assert.Equal(t, http.StatusBadRequest, w2.Code)
	assert.Contains(t, env.Message, "unsupported")
}

// --- profile ---

func TestProfileEndpoints(t *testing.T) {
	a := newTestAPI(t)
	uid := registerUser(t, a, "a@x.com")

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("X-Test-User", uid)
	w, env := a.do(t, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var pub entity.Public
	require.NoError(t, json.Unmarshal(env.Data, &pub))
	assert.Equal(t, uid, pub.ID)

	upd := jsonReq(t, http.MethodPut, "/api/profile", gin.H{"name": "Alice Cooper"})
	upd.Header.Set("X-Test-User", uid)
	w2, env2 := a.do(t, upd)
	assert.Equal(t, http.StatusOK, w2.Code)
	require.NoError(t, json.Unmarshal(env2.Data, &pub))
	assert.Equal(t, "Alice Cooper", pub.Name)

	// Unknown user id falls through to 404.
	req404 := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req404.Header.Set("X-Test-User", uuid.NewString())
	w3, _ := a.do(t, req404)
	assert.Equal(t, http.StatusNotFound, w3.Code)
}

// --- resend verification ---

func TestResendVerificationEndpoint(t *testing.T) {
	a := newTestAPI(t)
	registerUser(t, a, "a@x.com")
	oldToken := a.repo.tokenFor(t, "a@x.com")

	// The account cannot obtain a session yet: login is rejected and no
	// auth cookies are issued.
	wLogin, _ := a.do(t, jsonReq(t, http.MethodPost, "/api/auth/login", gin.H{
		"email": "a@x.com", "password": "pw123456",
	}))
	require.Equal(t, http.StatusForbidden, wLogin.Code)
	require.Empty(t, wLogin.Result().Cookies())

	// Resend works anyway, with no session and no test-injected user id.
	w, env := a.do(t, jsonReq(t, http.MethodPost, "/api/auth/verify/resend", gin.H{
		"email": "a@x.com",
	}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	newToken := a.repo.tokenFor(t, "a@x.com")
	assert.NotEqual(t, oldToken, newToken)

	// The rotated token verifies; the old one is dead.
	wOld, _ := a.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/verify-email?token="+oldToken, nil))
	assert.Equal(t, http.StatusNotFound, wOld.Code)
	verifyUser(t, a, "a@x.com")
}

func TestResendVerificationEndpoint_NoAccountEnumeration(t *testing.T) {
	a := newTestAPI(t)
	registerUser(t, a, "verified@x.com")
	verifyUser(t, a, "verified@x.com")
	registerUser(t, a, "pending@x.com")

	responses := make([]envelope, 0, 3)
	for _, email := range []string{"pending@x.com", "verified@x.com", "ghost@x.com"} {
		w, env := a.do(t, jsonReq(t, http.MethodPost, "/api/auth/verify/resend", gin.H{"email": email}))
		require.Equal(t, http.StatusOK, w.Code, email)
		responses = append(responses, env)
	}

	// Pending, verified and unknown addresses are indistinguishable.
	for _, env := range responses[1:] {
		assert.Equal(t, responses[0].Message, env.Message)
		assert.JSONEq(t, string(responses[0].Data), string(env.Data))
	}

	w, _ := a.do(t, jsonReq(t, http.MethodPost, "/api/auth/verify/resend", gin.H{"email": "not-an-email"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- search ---

func TestSearchEndpoint(t *testing.T) {
	a := newTestAPI(t)
	uid := registerUser(t, a, "a@x.com")

	req := httptest.NewRequest(http.MethodGet, "/api/users/search", nil)
	req.Header.Set("X-Test-User", uid)
	w, _ := a.do(t, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Search backend not configured: empty result, not an error.
	req2 := httptest.NewRequest(http.MethodGet, "/api/users/search?q=alice", nil)
	req2.Header.Set("X-Test-User", uid)
	w2, env := a.do(t, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.EqualValues(t, 0, env.Meta["count"])
}

// --- logout ---

func TestLogoutEndpoint(t *testing.T) {
	a := newTestAPI(t)
	uid := registerUser(t, a, "a@x.com")

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.Header.Set("X-Test-User", uid)
	w, env := a.do(t, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	// Cookies are cleared with an immediate expiry.
	for _, c := range w.Result().Cookies() {
		if c.Name == "access_token" || c.Name == "refresh_token" {
			assert.Empty(t, c.Value, fmt.Sprintf("%s should be cleared", c.Name))
			assert.True(t, c.MaxAge < 0 || !c.Expires.After(time.Now()))
		}
	}
}
