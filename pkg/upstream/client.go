package upstream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/abdhe/keyrelay/pkg/keypool"
)

// Client executes attempts against one provider's upstream, rotating keys
// from its Pool under a rotation-code policy.
type Client struct {
	pool       *keypool.Pool
	baseURL    string
	flavor     Flavor
	httpClient *http.Client
}

// Config configures a Client.
type Config struct {
	Pool           *keypool.Pool
	BaseURL        string
	Flavor         Flavor
	RequestTimeout time.Duration
}

// NewClient builds a Client with a shared *http.Client tuned for connection
// reuse against a single upstream host.
func NewClient(cfg Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		pool:    cfg.Pool,
		baseURL: cfg.BaseURL,
		flavor:  cfg.Flavor,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// MakeRequest executes a request against the upstream, rotating keys from
// the pool on rotation codes and network errors until one attempt succeeds,
// every key has been tried and rate-limited, or attempts are exhausted with
// a hard transport failure.
//
// If headers already carry the Gemini native credential header, rotation is
// bypassed entirely: a single attempt is made with that caller-supplied key.
func (c *Client) MakeRequest(ctx context.Context, method, path string, body []byte, headers http.Header, rotationCodes map[int]struct{}) (Response, error) {
	if headers == nil {
		headers = make(http.Header)
	}

	if c.flavor == FlavorGemini {
		if key := headers.Get(GeminiKeyHeader); key != "" {
			forwarded := headers.Clone()
			forwarded.Del(GeminiKeyHeader)
			resp, err := c.do(ctx, attempt{
				method: method, path: path, body: body,
				headers: forwarded, key: key, bypass: true,
			})
			if err != nil {
				return Response{}, err
			}
			resp.Attempts = 1
			return resp, nil
		}
	}

	if c.pool.Size() == 0 {
		return Response{}, &Error{Outcome: OutcomeEmptyPool, Err: ErrEmptyPool, Attempts: 0}
	}

	if len(rotationCodes) == 0 {
		rotationCodes = map[int]struct{}{DefaultRotationCode: {}}
	}

	rctx := c.pool.NewContext()

	var lastResponse *Response
	var lastError error
	attempts := 0

	for {
		key, ok := rctx.NextKey()
		if !ok {
			break
		}
		attempts++

		resp, err := c.do(ctx, attempt{
			method: method, path: path, body: body,
			headers: headers, key: key, bypass: false,
		})
		if err != nil {
			lastError = err
			continue
		}

		if _, rotate := rotationCodes[resp.Status]; rotate {
			r := resp
			lastResponse = &r
			rctx.MarkRateLimited(key)
			continue
		}

		c.pool.UpdateLastFailedKey(rctx.LastFailedInRequest())
		resp.Attempts = attempts
		return resp, nil
	}

	c.pool.UpdateLastFailedKey(rctx.LastFailedInRequest())

	if rctx.AllTriedAreRateLimited() {
		if lastResponse != nil {
			lastResponse.Attempts = attempts
			return *lastResponse, nil
		}
		resp := c.synthesizeRateLimitResponse()
		resp.Attempts = attempts
		return resp, nil
	}

	if lastError != nil {
		return Response{}, &Error{Outcome: OutcomeNetworkFailure, Err: lastError, Attempts: attempts}
	}

	return Response{}, &Error{
		Outcome:  OutcomeNetworkFailure,
		Err:      fmt.Errorf("upstream: attempts exhausted without a clear success, rotation, or transport error"),
		Attempts: attempts,
	}
}

// synthesizeRateLimitResponse builds the provider-flavor 429 body returned
// when every tried key was rate-limited but no upstream response was
// captured. MakeRequest marks a key rate-limited only after capturing its
// rotation-coded response, so on that path lastResponse is always set and
// the captured response is returned instead.
func (c *Client) synthesizeRateLimitResponse() Response {
	var body string
	switch c.flavor {
	case FlavorGemini:
		body = `{"error":{"code":429,"message":"All API keys have been rate limited for this request","status":"RESOURCE_EXHAUSTED"}}`
	default:
		body = `{"error":{"message":"All OpenAI API keys have been rate limited for this request","type":"rate_limit_exceeded","code":"rate_limit_exceeded"}}`
	}

	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return Response{Status: 429, Headers: h, Body: []byte(body)}
}
