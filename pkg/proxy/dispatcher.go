// Package proxy implements the HTTP dispatcher that glues route resolution,
// directive parsing, and the upstream client together into one handler.
package proxy

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abdhe/keyrelay/pkg/activitylog"
	"github.com/abdhe/keyrelay/pkg/config"
	"github.com/abdhe/keyrelay/pkg/directive"
	"github.com/abdhe/keyrelay/pkg/keypool"
	"github.com/abdhe/keyrelay/pkg/metrics"
	"github.com/abdhe/keyrelay/pkg/route"
	"github.com/abdhe/keyrelay/pkg/upstream"
)

// Dispatcher is the HTTP entry point for proxied requests (C7). It resolves
// a route, extracts and checks the client's directives, and calls the
// upstream client, writing the response back verbatim.
type Dispatcher struct {
	snapshot *atomic.Pointer[config.Snapshot]
	clients  sync.Map // provider name -> *upstream.Client

	activity       *activitylog.Buffer
	log            zerolog.Logger
	requestTimeout time.Duration
}

// New builds a Dispatcher reading configuration from snapshot. activity may
// be nil to disable activity logging.
func New(snapshot *atomic.Pointer[config.Snapshot], activity *activitylog.Buffer, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		snapshot:       snapshot,
		activity:       activity,
		log:            log,
		requestTimeout: 60 * time.Second,
	}
}

// ClearClientCache discards every cached upstream client so subsequent
// requests rebuild them from the latest snapshot. Called after a config
// reload.
func (d *Dispatcher) ClearClientCache() {
	d.clients.Range(func(key, _ any) bool {
		d.clients.Delete(key)
		return true
	})
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	metrics.ActiveRequests.Inc()
	defer metrics.ActiveRequests.Dec()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		d.finish(w, r, requestID, start, "", "", newError(KindInternalError, http.StatusInternalServerError, "failed to read request body"))
		return
	}

	snap := d.snapshot.Load()

	rt, ok := route.Resolve(snap, r.URL.Path, r.URL.RawQuery)
	if !ok {
		d.finish(w, r, requestID, start, "", "", newError(KindInvalidRoute, http.StatusBadRequest, "Invalid API path"))
		return
	}

	providerCfg, ok := snap.Provider(rt.Provider)
	if !ok {
		d.finish(w, r, requestID, start, rt.Provider, "", newError(KindProviderNotConfigured, http.StatusServiceUnavailable, "Provider not configured"))
		return
	}

	flavor := upstream.Flavor(providerCfg.Flavor)
	headerName := authHeaderName(flavor)
	parsed := directive.Parse(r.Header.Get(headerName))

	if providerCfg.AccessKey != "" && parsed.AccessKey != providerCfg.AccessKey {
		d.finish(w, r, requestID, start, rt.Provider, string(flavor), newError(KindAccessDenied, http.StatusUnauthorized, "invalid or missing access key"))
		return
	}

	forwarded := filterHeaders(r.Header, flavor)
	if parsed.CleanedHeader != "" {
		forwarded.Set(headerName, parsed.CleanedHeader)
	}

	client := d.clientFor(providerCfg)

	ctx := r.Context()
	resp, err := client.MakeRequest(ctx, r.Method, rt.UpstreamPath, body, forwarded, parsed.RotationCodes)
	if err != nil {
		d.finish(w, r, requestID, start, rt.Provider, string(flavor), classifyUpstreamError(rt.Provider, err))
		return
	}

	metrics.RotationAttemptsTotal.WithLabelValues(rt.Provider).Observe(float64(resp.Attempts))

	for name, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)

	d.observe(requestID, rt.Provider, string(flavor), resp.Status, "success", start)
	d.push(requestID, rt.Provider, rt.UpstreamPath, resp.Status, "success", start)
}

// clientFor returns the cached upstream.Client for cfg, building one on
// first use. A cached client observed after Replace(cfg.Keys) still shares
// the pool's lastFailedKey state; a stale cache entry from a since-renamed
// provider is simply unreachable once the snapshot no longer names it.
func (d *Dispatcher) clientFor(cfg config.ProviderConfig) *upstream.Client {
	if c, ok := d.clients.Load(cfg.Name); ok {
		return c.(*upstream.Client)
	}

	client := upstream.NewClient(upstream.Config{
		Pool:           keypool.New(cfg.Keys),
		BaseURL:        cfg.BaseURL,
		Flavor:         upstream.Flavor(cfg.Flavor),
		RequestTimeout: d.requestTimeout,
	})

	actual, _ := d.clients.LoadOrStore(cfg.Name, client)
	return actual.(*upstream.Client)
}

func classifyUpstreamError(provider string, err error) *dispatchError {
	uerr, ok := err.(*upstream.Error)
	if !ok {
		return newError(KindInternalError, http.StatusInternalServerError, err.Error())
	}

	if uerr.Attempts > 0 {
		metrics.RotationAttemptsTotal.WithLabelValues(provider).Observe(float64(uerr.Attempts))
	}

	switch uerr.Outcome {
	case upstream.OutcomeEmptyPool:
		return newError(KindProviderNotConfigured, http.StatusServiceUnavailable, "Provider not configured")
	case upstream.OutcomeNetworkFailure:
		return newError(KindTransportFailure, http.StatusInternalServerError, "upstream unreachable")
	default:
		return newError(KindInternalError, http.StatusInternalServerError, uerr.Error())
	}
}

// finish writes derr's envelope, then emits the same logging/metrics/
// activity-log side effects a successful response gets in ServeHTTP.
func (d *Dispatcher) finish(w http.ResponseWriter, r *http.Request, requestID string, start time.Time, provider, flavor string, derr *dispatchError) {
	writeError(w, derr)
	d.observe(requestID, provider, flavor, derr.Status, string(derr.Kind), start)
	d.push(requestID, provider, r.URL.Path, derr.Status, string(derr.Kind), start)
}

func (d *Dispatcher) observe(requestID, provider, flavor string, status int, result string, start time.Time) {
	metrics.RequestsTotal.WithLabelValues(provider, flavor, result).Inc()
	metrics.RequestLatency.WithLabelValues(provider, flavor, result).Observe(time.Since(start).Seconds())

	d.log.Info().
		Str("request_id", requestID).
		Str("provider", provider).
		Str("flavor", flavor).
		Int("status", status).
		Str("result", result).
		Dur("duration", time.Since(start)).
		Msg("request completed")
}

// push hands the entry off to a background goroutine so the Redis round
// trip inside Buffer.Push never runs on the request goroutine — ServeHTTP
// has already written its response by the time this executes. It uses a
// detached context rather than the request's, which is canceled the moment
// the handler returns.
func (d *Dispatcher) push(requestID, provider, route string, status int, kind string, start time.Time) {
	if d.activity == nil {
		return
	}
	entry := activitylog.Entry{
		RequestID:  requestID,
		Timestamp:  time.Now(),
		Provider:   provider,
		Route:      route,
		Status:     status,
		Kind:       kind,
		DurationMS: time.Since(start).Milliseconds(),
	}
	go func() {
		_ = d.activity.Push(context.Background(), entry)
	}()
}
