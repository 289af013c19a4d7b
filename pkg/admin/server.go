package admin

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abdhe/keyrelay/pkg/metrics"
)

const sessionCookieName = "keyrelay_admin_session"
const sessionTTL = 12 * time.Hour

// HashProvider returns the currently configured admin password hash,
// compared byte-for-byte against the login request. Hashing scheme is left
// to whatever produced the config file; Server does not hash anything.
type HashProvider func() string

// Server serves the admin login endpoint and static assets. It never calls
// into pkg/keypool, pkg/directive, pkg/route, or pkg/upstream, and nothing
// in those packages calls into it.
type Server struct {
	hash    HashProvider
	limiter LoginLimiter
	log     zerolog.Logger

	static http.Handler

	mu       sync.Mutex
	sessions map[string]time.Time
}

// NewServer builds a Server. staticDir is served under /static/.
func NewServer(hash HashProvider, limiter LoginLimiter, staticDir string, log zerolog.Logger) *Server {
	return &Server{
		hash:     hash,
		limiter:  limiter,
		log:      log,
		static:   http.FileServer(http.Dir(staticDir)),
		sessions: make(map[string]time.Time),
	}
}

// Routes registers the admin endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/login", s.handleLogin)
	mux.Handle("/static/", http.StripPrefix("/static/", http.HandlerFunc(s.handleStatic)))
}

// handleStatic serves the login assets (see isLoginAsset) to anyone, and
// everything else under the static root only to callers holding a valid
// session cookie.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !isLoginAsset(r.URL.Path) && !s.authenticated(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.static.ServeHTTP(w, r)
}

func isLoginAsset(path string) bool {
	return path == "" || path == "login.html" || path == "login.css" || path == "login.js"
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.limiter.Allow(clientAddr(r)) {
		metrics.AdminLoginAttemptsTotal.WithLabelValues("rate_limited").Inc()
		s.log.Warn().Str("remote", clientAddr(r)).Msg("admin login rate limited")
		http.Error(w, "too many attempts", http.StatusTooManyRequests)
		return
	}

	password := r.FormValue("password")
	expected := s.hash()

	if expected == "" || subtle.ConstantTimeCompare([]byte(password), []byte(expected)) != 1 {
		metrics.AdminLoginAttemptsTotal.WithLabelValues("rejected").Inc()
		s.log.Warn().Str("remote", clientAddr(r)).Msg("admin login rejected")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := newSessionToken()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	metrics.AdminLoginAttemptsTotal.WithLabelValues("success").Inc()

	s.mu.Lock()
	s.sessions[token] = time.Now().Add(sessionTTL)
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(sessionTTL),
	})
	w.WriteHeader(http.StatusNoContent)
}

// authenticated reports whether r carries a valid, unexpired session cookie.
func (s *Server) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.sessions[cookie.Value]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(s.sessions, cookie.Value)
		return false
	}
	return true
}

func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
