package admin

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestServer(t *testing.T, hash string) (*Server, *http.ServeMux) {
	dir := t.TempDir()
	limiter := NewTokenBucketLimiter(rate.Every(time.Millisecond), 10, time.Minute)
	srv := NewServer(func() string { return hash }, limiter, dir, zerolog.Nop())
	mux := http.NewServeMux()
	srv.Routes(mux)
	return srv, mux
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	_, mux := newTestServer(t, "correct-hash")

	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(url.Values{"password": {"wrong"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestLoginAcceptsCorrectPasswordAndSetsCookie(t *testing.T) {
	_, mux := newTestServer(t, "correct-hash")

	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(url.Values{"password": {"correct-hash"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookieName, cookies[0].Name)
}

func TestLoginRejectsEmptyConfiguredHash(t *testing.T) {
	_, mux := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(url.Values{"password": {""}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRejectsWrongMethod(t *testing.T) {
	_, mux := newTestServer(t, "hash")

	req := httptest.NewRequest(http.MethodGet, "/admin/login", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStaticRequiresSessionExceptLoginAssets(t *testing.T) {
	_, mux := newTestServer(t, "hash")

	req := httptest.NewRequest(http.MethodGet, "/static/dashboard.js", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/static/login.html", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRateLimiterBlocksAfterBurst(t *testing.T) {
	dir := t.TempDir()
	limiter := NewTokenBucketLimiter(rate.Every(time.Hour), 1, time.Minute)
	srv := NewServer(func() string { return "hash" }, limiter, dir, zerolog.Nop())
	mux := http.NewServeMux()
	srv.Routes(mux)

	form := url.Values{"password": {"hash"}}.Encode()

	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
