package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdhe/keyrelay/pkg/keypool"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestMakeRequestSucceedsOnFirstNonRotationResponse(t *testing.T) {
	var attempts int32
	var seenKeys []string

	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		seenKeys = append(seenKeys, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})

	pool := keypool.New([]string{"K1", "K2", "K3"})
	pool.UpdateLastFailedKey("K2")

	client := NewClient(Config{Pool: pool, BaseURL: srv.URL, Flavor: FlavorOpenAI})
	resp, err := client.MakeRequest(context.Background(), http.MethodPost, "/v1/chat/completions", []byte(`{}`), nil, nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.NotEqual(t, "Bearer K2", seenKeys[0], "K2 was the hint and should be demoted to last, not tried first")
}

func TestMakeRequestRotatesOnAllKeysRateLimitedReturnsLastBody(t *testing.T) {
	var attempts int32

	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		if n == 1 {
			w.Write([]byte(`{"error":"first"}`))
		} else {
			w.Write([]byte(`{"error":"second"}`))
		}
	})

	pool := keypool.New([]string{"K1", "K2"})
	client := NewClient(Config{Pool: pool, BaseURL: srv.URL, Flavor: FlavorOpenAI})

	resp, err := client.MakeRequest(context.Background(), http.MethodPost, "/v1/x", nil, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	assert.JSONEq(t, `{"error":"second"}`, string(resp.Body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestMakeRequestSingleKeyTransportErrorIsNetworkFailure(t *testing.T) {
	pool := keypool.New([]string{"K1"})
	// baseURL points nowhere reachable so the single attempt is a transport
	// error, not a rotation-coded response — exercising the "lastError,
	// no rotation response seen" branch instead of exhaustion-by-rotation.
	client := NewClient(Config{Pool: pool, BaseURL: "http://127.0.0.1:1", Flavor: FlavorOpenAI})

	_, err := client.MakeRequest(context.Background(), http.MethodGet, "/v1/models", nil, nil, nil)
	require.Error(t, err)

	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, OutcomeNetworkFailure, uerr.Outcome)
}

func TestMakeRequestEmptyPoolIsProviderNotConfigured(t *testing.T) {
	pool := keypool.New(nil)
	client := NewClient(Config{Pool: pool, BaseURL: "http://example.invalid", Flavor: FlavorOpenAI})

	_, err := client.MakeRequest(context.Background(), http.MethodGet, "/v1/models", nil, nil, nil)
	require.Error(t, err)

	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, OutcomeEmptyPool, uerr.Outcome)
}

func TestMakeRequestCustomRotationCodes(t *testing.T) {
	var attempts int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})

	pool := keypool.New([]string{"K1", "K2"})
	client := NewClient(Config{Pool: pool, BaseURL: srv.URL, Flavor: FlavorOpenAI})

	rotation := map[int]struct{}{500: {}, 502: {}, 503: {}, 504: {}}
	resp, err := client.MakeRequest(context.Background(), http.MethodPost, "/v1/x", []byte(`{}`), nil, rotation)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestMakeRequestGeminiBypassSkipsRotation(t *testing.T) {
	var attempts int32
	var sawHeader string

	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		sawHeader = r.Header.Get(GeminiKeyHeader)
		w.WriteHeader(http.StatusTooManyRequests) // even a rotation code doesn't trigger a retry
	})

	pool := keypool.New([]string{"POOL_KEY"})
	client := NewClient(Config{Pool: pool, BaseURL: srv.URL, Flavor: FlavorGemini})

	headers := http.Header{}
	headers.Set(GeminiKeyHeader, "CLIENT_SUPPLIED_KEY")

	resp, err := client.MakeRequest(context.Background(), http.MethodPost, "/v1beta/models/x:generateContent", []byte(`{}`), headers, nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Equal(t, "CLIENT_SUPPLIED_KEY", sawHeader)
}

func TestMakeRequestGeminiRotationUsesQueryParamNotHeader(t *testing.T) {
	var sawQueryKey, sawHeaderKey string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		sawQueryKey = r.URL.Query().Get("key")
		sawHeaderKey = r.Header.Get(GeminiKeyHeader)
		w.WriteHeader(http.StatusOK)
	})

	pool := keypool.New([]string{"K1"})
	client := NewClient(Config{Pool: pool, BaseURL: srv.URL, Flavor: FlavorGemini})

	_, err := client.MakeRequest(context.Background(), http.MethodPost, "/v1/models/x:generateContent", []byte(`{}`), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "K1", sawQueryKey)
	assert.Equal(t, "", sawHeaderKey)
}

func TestBuildURLReconcilesGeminiVersionSegment(t *testing.T) {
	got := buildURL("https://gen.googleapis.com/v1", "/v1beta/models/x:generateContent", FlavorGemini, "KEY", false)
	assert.Equal(t, "https://gen.googleapis.com/v1beta/models/x:generateContent?key=KEY", got)
}

func TestBuildURLLeavesMatchingVersionAlone(t *testing.T) {
	// Reconciliation only applies when the versions differ; equal versions
	// are not rewritten, so base and path are joined as-is.
	got := buildURL("https://gen.googleapis.com/v1", "/v1/models/x:generateContent", FlavorGemini, "KEY", false)
	assert.Equal(t, "https://gen.googleapis.com/v1/v1/models/x:generateContent?key=KEY", got)
}

func TestBuildURLRootPathTargetsBaseDirectly(t *testing.T) {
	got := buildURL("https://api.openai.com/v1", "/", FlavorOpenAI, "KEY", false)
	assert.Equal(t, "https://api.openai.com/v1", got)
}

func TestDoForwardsBodyByteForByteWithContentLength(t *testing.T) {
	body := make([]byte, 1<<20) // 1 MiB
	for i := range body {
		body[i] = byte('a' + i%26)
	}

	var gotLen string
	var gotBody []byte
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotLen = r.Header.Get("Content-Length")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	pool := keypool.New([]string{"K1"})
	client := NewClient(Config{Pool: pool, BaseURL: srv.URL, Flavor: FlavorOpenAI})

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	_, err := client.MakeRequest(context.Background(), http.MethodPost, "/v1/files", body, headers, nil)
	require.NoError(t, err)

	assert.Equal(t, "1048576", gotLen)
	assert.Equal(t, body, gotBody)
}
