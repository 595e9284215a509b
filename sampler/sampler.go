// Package sampler draws uniform random subsets of chat participants.
package sampler

import (
	"math/rand"
	"sync"
	"time"
)

var (
	mu  sync.Mutex
	src = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Sample returns min(count, len(participants)) distinct elements of
// `participants`, drawn without replacement. Every permutation of the input is
// equally likely, so every element has the same probability of being picked.
//
// The input is never modified. If count <= 0 an empty slice is returned. If rng
// is nil a package level source seeded at init is used.
func Sample(rng *rand.Rand, participants []string, count int) []string {
	if count <= 0 || len(participants) == 0 {
		return []string{}
	}

	shuffled := make([]string, len(participants))
	copy(shuffled, participants)

	if rng == nil {
		mu.Lock()
		shuffle(src, shuffled)
		mu.Unlock()
	} else {
		shuffle(rng, shuffled)
	}

	if count > len(shuffled) {
		count = len(shuffled)
	}
	return shuffled[:count]
}

// shuffle is a Fisher-Yates shuffle, walking down from the last element and
// swapping each with a uniformly chosen element at or below it.
func shuffle(rng *rand.Rand, s []string) {
	for n := len(s) - 1; n > 0; n-- {
		k := rng.Intn(n + 1)
		s[k], s[n] = s[n], s[k]
	}
}
