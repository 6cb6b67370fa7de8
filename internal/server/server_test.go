package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/chatrelay/internal/auth"
	"github.com/sakif/chatrelay/internal/config"
	"github.com/sakif/chatrelay/internal/llm"
	"github.com/sakif/chatrelay/internal/model"
	"github.com/sakif/chatrelay/internal/repository"
	"github.com/sakif/chatrelay/internal/repository/sqlite"
)

// =========================================================================
// HARNESS
// =========================================================================

// stubProvider replies with a fixed text, or fails, and counts calls.
type stubProvider struct {
	mu    sync.Mutex
	calls [][]llm.Message
	reply string
	err   error
}

func (p *stubProvider) Complete(_ context.Context, messages []llm.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, messages)
	return p.reply, p.err
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 5000},
		Database: config.DatabaseConfig{URL: sqlite.MemoryPath},
		Session:  config.SessionConfig{Secret: "test-secret-at-least-16-chars!!", TTL: time.Hour},
		LLM:      config.LLMConfig{APIKey: "sk-test", Timeout: 2 * time.Second},
		Log:      config.LogConfig{Level: "info", Format: "text"},
	}
}

// newTestServer runs the full router over in-memory SQLite and provider.
func newTestServer(t *testing.T, provider llm.Provider) *httptest.Server {
	t.Helper()
	return newTestServerWithSessions(t, provider, nil)
}

// newTestServerWithSessions is newTestServer with the session store wrapped
// by wrap, when wrap is non-nil.
func newTestServerWithSessions(t *testing.T, provider llm.Provider, wrap func(repository.SessionRepository) repository.SessionRepository) *httptest.Server {
	t.Helper()

	db, err := sqlite.New(sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var sessions repository.SessionRepository = db
	if wrap != nil {
		sessions = wrap(db)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Build(testConfig(), logger, Dependencies{
		Users:     db,
		Sessions:  sessions,
		Provider:  provider,
		Health:    []Pinger{db},
		Passwords: auth.NewPasswordServiceWithCost(bcrypt.MinCost),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// newBrowser returns a client that keeps cookies and does not follow redirects.
func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func postForm(t *testing.T, c *http.Client, u string, form url.Values) *http.Response {
	t.Helper()
	resp, err := c.PostForm(u, form)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, c *http.Client, u string) *http.Response {
	t.Helper()
	resp, err := c.Get(u)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func registerAndLogin(t *testing.T, base string, c *http.Client) {
	t.Helper()
	resp := postForm(t, c, base+"/register", url.Values{
		"name": {"Ana"}, "email": {"ana@x.com"}, "password": {"secret1"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp = postForm(t, c, base+"/login", url.Values{"email": {"ana@x.com"}, "password": {"secret1"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/chat", resp.Header.Get("Location"))
}

// =========================================================================
// END-TO-END FLOW
// =========================================================================

func TestFlow_RegisterLoginChatLogout(t *testing.T) {
	provider := &stubProvider{reply: "Hello Ana!"}
	ts := newTestServer(t, provider)
	browser := newBrowser(t)

	// register → redirect to login with a flash
	resp := postForm(t, browser, ts.URL+"/register", url.Values{
		"name": {"Ana"}, "email": {"ana@x.com"}, "password": {"secret1"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp = get(t, browser, ts.URL+"/login")
	assert.Contains(t, body(t, resp), "Registration successful")

	// login → session cookie, redirect to chat
	resp = postForm(t, browser, ts.URL+"/login", url.Values{"email": {"ana@x.com"}, "password": {"secret1"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/chat", resp.Header.Get("Location"))

	var token string
	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName {
			token = c.Value
			assert.True(t, c.HttpOnly)
		}
	}
	require.NotEmpty(t, token, "login did not set the session cookie")

	resp = get(t, browser, ts.URL+"/chat")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "Ana")

	// chat
	resp = postForm(t, browser, ts.URL+"/chat_api", url.Values{"message": {"hi"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"response": "Hello Ana!"}, decodeJSON(t, resp))

	require.Equal(t, 1, provider.callCount())
	assert.Equal(t, []llm.Message{llm.UserMessage("hi")}, provider.calls[0])

	// logout → anonymous again
	resp = get(t, browser, ts.URL+"/logout")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	resp = postForm(t, browser, ts.URL+"/chat_api", url.Values{"message": {"hi"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// the old token is revoked server-side, not just dropped by the browser
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/chat_api", strings.NewReader("message=hi"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	replay, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer replay.Body.Close()
	assert.Equal(t, http.StatusForbidden, replay.StatusCode)

	assert.Equal(t, 1, provider.callCount(), "provider must not be called after logout")
}

// =========================================================================
// ACCESS CONTROL
// =========================================================================

func TestChatAPI_AnonymousIsForbidden(t *testing.T) {
	provider := &stubProvider{reply: "should not be sent"}
	ts := newTestServer(t, provider)

	resp := postForm(t, newBrowser(t), ts.URL+"/chat_api", url.Values{"message": {"hi"}})

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, map[string]string{"error": "Unauthorized", "code": "forbidden"}, decodeJSON(t, resp))
	assert.Zero(t, provider.callCount())
}

// brokenSessions fails every lookup once down is set.
type brokenSessions struct {
	repository.SessionRepository
	down atomic.Bool
}

func (b *brokenSessions) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if b.down.Load() {
		return nil, errors.New("database is locked")
	}
	return b.SessionRepository.GetSession(ctx, id)
}

func TestSessionStoreOutage_IsNotALogout(t *testing.T) {
	provider := &stubProvider{reply: "x"}
	broken := &brokenSessions{}
	ts := newTestServerWithSessions(t, provider, func(inner repository.SessionRepository) repository.SessionRepository {
		broken.SessionRepository = inner
		return broken
	})
	browser := newBrowser(t)
	registerAndLogin(t, ts.URL, browser)

	broken.down.Store(true)

	resp := postForm(t, browser, ts.URL+"/chat_api", url.Values{"message": {"hi"}})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	out := decodeJSON(t, resp)
	assert.Equal(t, "unavailable", out["code"])
	assert.NotContains(t, out["error"], "database is locked")
	assert.Zero(t, provider.callCount())

	resp = get(t, browser, ts.URL+"/chat")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Location"))

	// once the store recovers the same cookie works again
	broken.down.Store(false)
	resp = postForm(t, browser, ts.URL+"/chat_api", url.Values{"message": {"hi"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatPage_AnonymousRedirectsToLogin(t *testing.T) {
	ts := newTestServer(t, &stubProvider{reply: "x"})

	resp := get(t, newBrowser(t), ts.URL+"/chat")

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestLogout_Anonymous(t *testing.T) {
	ts := newTestServer(t, &stubProvider{reply: "x"})

	resp := get(t, newBrowser(t), ts.URL+"/logout")

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

// =========================================================================
// ERROR MAPPING
// =========================================================================

func TestChatAPI_ProviderDown(t *testing.T) {
	provider := &stubProvider{err: errors.New("dial tcp: connection refused")}
	ts := newTestServer(t, provider)
	browser := newBrowser(t)
	registerAndLogin(t, ts.URL, browser)

	resp := postForm(t, browser, ts.URL+"/chat_api", url.Values{"message": {"hi"}})

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	msg := decodeJSON(t, resp)["error"]
	assert.NotEmpty(t, msg)
	assert.NotContains(t, msg, "connection refused", "upstream details must not leak")
}

func TestChatAPI_EmptyMessage(t *testing.T) {
	provider := &stubProvider{reply: "x"}
	ts := newTestServer(t, provider)
	browser := newBrowser(t)
	registerAndLogin(t, ts.URL, browser)

	resp := postForm(t, browser, ts.URL+"/chat_api", url.Values{"message": {"   "}})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "message cannot be empty", decodeJSON(t, resp)["error"])
	assert.Zero(t, provider.callCount())
}

func TestRegister_DuplicateEmail(t *testing.T) {
	ts := newTestServer(t, &stubProvider{reply: "x"})
	form := url.Values{"name": {"Ana"}, "email": {"ana@x.com"}, "password": {"secret1"}}

	first := postForm(t, newBrowser(t), ts.URL+"/register", form)
	require.Equal(t, http.StatusSeeOther, first.StatusCode)

	second := postForm(t, newBrowser(t), ts.URL+"/register", form)
	assert.Equal(t, http.StatusConflict, second.StatusCode)
	assert.Contains(t, body(t, second), "already exists")
}

func TestRegister_MissingField(t *testing.T) {
	ts := newTestServer(t, &stubProvider{reply: "x"})

	resp := postForm(t, newBrowser(t), ts.URL+"/register", url.Values{
		"name": {""}, "email": {"ana@x.com"}, "password": {"secret1"},
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body(t, resp), "name is required")
}

func TestLogin_FailuresLookTheSame(t *testing.T) {
	ts := newTestServer(t, &stubProvider{reply: "x"})
	registerAndLogin(t, ts.URL, newBrowser(t))

	wrongPassword := postForm(t, newBrowser(t), ts.URL+"/login", url.Values{"email": {"ana@x.com"}, "password": {"nope"}})
	unknownEmail := postForm(t, newBrowser(t), ts.URL+"/login", url.Values{"email": {"bob@x.com"}, "password": {"nope"}})

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.StatusCode)

	a, b := body(t, wrongPassword), body(t, unknownEmail)
	assert.Contains(t, a, "invalid email or password")
	// the pages differ only in the echoed email
	assert.Equal(t, strings.ReplaceAll(a, "ana@x.com", "X"), strings.ReplaceAll(b, "bob@x.com", "X"))
}

// =========================================================================
// OPERATIONAL ENDPOINTS
// =========================================================================

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &stubProvider{reply: "x"})

	resp := get(t, http.DefaultClient, ts.URL+"/healthz")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeJSON(t, resp)["status"])
}

func TestMetricsAndStatic(t *testing.T) {
	ts := newTestServer(t, &stubProvider{reply: "x"})

	resp := get(t, http.DefaultClient, ts.URL+"/static/chat.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "/chat_api")

	resp = get(t, http.DefaultClient, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "chatrelay_http_requests_total")
}

func TestGitHubRoutesOnlyWhenConfigured(t *testing.T) {
	ts := newTestServer(t, &stubProvider{reply: "x"})

	resp := get(t, newBrowser(t), ts.URL+"/auth/github/login")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
