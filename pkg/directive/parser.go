// Package directive extracts and strips in-band directives that clients
// embed in their auth header (Authorization for OpenAI flavor, x-goog-api-key
// for Gemini flavor): [STATUS_CODES:<spec>] and [ACCESS_KEY:<value>].
//
// A single parsing pass returns the cleaned header alongside both directives
// rather than three separate regex traversals over the same string, so the
// grammar stays easy to extend with new bracketed directives later.
package directive

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	minStatusCode = 100
	maxStatusCode = 599
)

var directivePattern = regexp.MustCompile(`(?i)\[(STATUS_CODES|ACCESS_KEY):([^\]]*)\]`)

// Parsed holds the outcome of parsing a single auth header.
type Parsed struct {
	// CleanedHeader is the header value with all recognized directives
	// removed. It is "" if nothing should be forwarded upstream (e.g. the
	// remainder was a bare "Bearer" with no credential).
	CleanedHeader string

	// RotationCodes is nil when the client specified no valid
	// [STATUS_CODES:...] directive (or it parsed empty) — callers should
	// fall back to their own default.
	RotationCodes map[int]struct{}

	// AccessKey is "" if no [ACCESS_KEY:...] directive was present.
	AccessKey string
}

// Parse extracts directives from raw and returns the cleaned header plus
// whatever directives were found. Cleaning is idempotent: parsing an already
// cleaned header returns it unchanged with no directives.
func Parse(raw string) Parsed {
	var accessKey string
	var rotationCodes map[int]struct{}

	cleaned := directivePattern.ReplaceAllStringFunc(raw, func(match string) string {
		groups := directivePattern.FindStringSubmatch(match)
		name := strings.ToUpper(groups[1])
		value := groups[2]

		switch name {
		case "ACCESS_KEY":
			accessKey = value
		case "STATUS_CODES":
			if codes := parseStatusCodeSpec(value); len(codes) > 0 {
				rotationCodes = codes
			}
		}
		return ""
	})

	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "Bearer" {
		cleaned = ""
	}

	return Parsed{
		CleanedHeader: cleaned,
		RotationCodes: rotationCodes,
		AccessKey:     accessKey,
	}
}

// parseStatusCodeSpec expands a comma-separated status-code spec into a set
// of codes clamped to [minStatusCode, maxStatusCode]. Terms:
//
//	<n>      single code
//	<a>-<b>  inclusive range (empty contribution if b < a)
//	<n>+     strictly greater than n
//	<n>=+    greater than or equal to n
//
// Non-integer terms are silently skipped, matching upstream's tolerant
// parsing of client-supplied strings.
func parseStatusCodeSpec(spec string) map[int]struct{} {
	codes := make(map[int]struct{})

	for _, term := range strings.Split(spec, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}

		switch {
		case strings.HasSuffix(term, "=+"):
			n, err := strconv.Atoi(strings.TrimSuffix(term, "=+"))
			if err != nil {
				continue
			}
			addRange(codes, n, maxStatusCode)

		case strings.HasSuffix(term, "+"):
			n, err := strconv.Atoi(strings.TrimSuffix(term, "+"))
			if err != nil {
				continue
			}
			addRange(codes, n+1, maxStatusCode)

		case strings.Contains(term, "-"):
			parts := strings.SplitN(term, "-", 2)
			a, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
			b, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
			if errA != nil || errB != nil {
				continue
			}
			addRange(codes, a, b)

		default:
			n, err := strconv.Atoi(term)
			if err != nil {
				continue
			}
			addRange(codes, n, n)
		}
	}

	return codes
}

func addRange(codes map[int]struct{}, a, b int) {
	if a < minStatusCode {
		a = minStatusCode
	}
	if b > maxStatusCode {
		b = maxStatusCode
	}
	for n := a; n <= b; n++ {
		codes[n] = struct{}{}
	}
}

// SortedCodes returns the set as a sorted slice, used for logging and for
// the round-trip idempotence property (parse -> re-emit -> parse again).
func SortedCodes(codes map[int]struct{}) []int {
	out := make([]int, 0, len(codes))
	for c := range codes {
		out = append(out, c)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
