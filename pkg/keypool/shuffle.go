package keypool

import "math/rand"

// smartShuffle produces a uniformly random permutation of keys (Fisher-Yates)
// and then, if hint is non-empty and present in keys, moves it to the tail.
//
// This distributes load evenly across keys per request while deferring the
// most recently observed bad key to last, so a fresh failure doesn't
// re-penalize the same key on the very next request.
func smartShuffle(keys []string, hint string) []string {
	order := make([]string, len(keys))
	copy(order, keys)

	rand.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	if hint == "" {
		return order
	}

	idx := -1
	for i, k := range order {
		if k == hint {
			idx = i
			break
		}
	}
	if idx == -1 {
		return order
	}

	demoted := append(order[:idx:idx], order[idx+1:]...)
	return append(demoted, hint)
}
