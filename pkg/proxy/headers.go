package proxy

import (
	"net/http"
	"strings"

	"github.com/abdhe/keyrelay/pkg/upstream"
)

var openAIWhitelist = map[string]struct{}{
	"content-type":       {},
	"accept":             {},
	"user-agent":         {},
	"openai-organization": {},
	"openai-project":     {},
}

var geminiWhitelist = map[string]struct{}{
	"content-type":         {},
	"accept":               {},
	"user-agent":           {},
	"x-goog-user-project":  {},
}

// authHeaderName returns the header a flavor carries its auth/directives in.
func authHeaderName(flavor upstream.Flavor) string {
	if flavor == upstream.FlavorGemini {
		return upstream.GeminiKeyHeader
	}
	return "Authorization"
}

// filterHeaders copies only the flavor's whitelisted headers from src into a
// fresh http.Header, dropping the auth/credential header entirely (the
// dispatcher re-adds the cleaned value under its own name).
func filterHeaders(src http.Header, flavor upstream.Flavor) http.Header {
	whitelist := openAIWhitelist
	if flavor == upstream.FlavorGemini {
		whitelist = geminiWhitelist
	}

	out := make(http.Header)
	for name, values := range src {
		if _, ok := whitelist[strings.ToLower(name)]; !ok {
			continue
		}
		for _, v := range values {
			out.Add(name, v)
		}
	}
	return out
}
