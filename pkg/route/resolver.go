// Package route maps an inbound request path onto a configured provider and
// the path to forward upstream, including support for the legacy
// /gemini/* and /openai/* aliases.
package route

import "strings"

// ProviderLookup answers whether name is a configured provider,
// case-insensitively. Implemented by config.Snapshot.
type ProviderLookup interface {
	HasProvider(name string) bool
}

// Route is the result of resolving a request path.
type Route struct {
	Provider     string
	UpstreamPath string
	Legacy       bool
}

const (
	legacyGemini = "gemini"
	legacyOpenAI = "openai"
)

// Resolve splits path (and its query string) into a Route, or returns
// ok=false if nothing matches.
func Resolve(lookup ProviderLookup, path, rawQuery string) (Route, bool) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return Route{}, false
	}

	first := strings.ToLower(segments[0])
	if lookup.HasProvider(first) {
		return Route{
			Provider:     first,
			UpstreamPath: joinUpstreamPath(segments[1:], rawQuery),
		}, true
	}

	switch first {
	case legacyGemini, legacyOpenAI:
		return Route{
			Provider:     first,
			UpstreamPath: joinUpstreamPath(segments[1:], rawQuery),
			Legacy:       true,
		}, true
	}

	return Route{}, false
}

func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func joinUpstreamPath(rest []string, rawQuery string) string {
	upstreamPath := "/" + strings.Join(rest, "/")
	if rawQuery != "" {
		upstreamPath += "?" + rawQuery
	}
	return upstreamPath
}
