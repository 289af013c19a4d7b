// Package upstream executes HTTP attempts against a provider's upstream API,
// choosing a key from a keypool.Pool and retrying under a rotation-code
// policy when the upstream signals it should try a different key.
package upstream

import (
	"errors"
	"net/http"
)

// Flavor is the credential-passing convention for a provider.
type Flavor string

const (
	FlavorOpenAI Flavor = "openai"
	FlavorGemini Flavor = "gemini"

	// GeminiKeyHeader is the native Gemini credential header. When a client
	// request already carries it, rotation is bypassed entirely (§4.3).
	GeminiKeyHeader = "x-goog-api-key"

	// DefaultRotationCode is used whenever the caller passes a nil rotation
	// code set.
	DefaultRotationCode = 429
)

// Response is the fully-buffered outcome of a successful upstream attempt.
type Response struct {
	Status   int
	Headers  http.Header
	Body     []byte
	Attempts int
}

// Outcome classifies the terminal result of MakeRequest, for callers that
// want to distinguish exhaustion from a hard transport failure without
// string-matching an error.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimitedAllKeys
	OutcomeNetworkFailure
	OutcomeEmptyPool
)

// ErrEmptyPool is returned by MakeRequest when the provider's key pool has
// zero keys. The dispatcher maps this to a 503.
var ErrEmptyPool = errors.New("upstream: provider has no configured keys")

// Error wraps a terminal upstream error with its Outcome so the dispatcher
// can map it to the right HTTP status without re-deriving it from the pool.
type Error struct {
	Outcome  Outcome
	Err      error
	Attempts int
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
