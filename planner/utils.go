package planner

import (
	"time"
)

// balancedKey takes an arbitrary `key` and a `bucketsNum`, returning the
// corresponding bucket number for the key so it is evenly distributed across
// the number of buckets.
//
// Resulting bucket values are in the range [0, `bucketsNum`-1].
func balancedKey(key string, bucketsNum uint32) uint32 {
	return fnv32(key) % bucketsNum
}

// alignOffset returns the offset within `interval` assigned to `key`, with
// second granularity. Intervals under a second have no offset.
func alignOffset(key string, interval time.Duration) time.Duration {
	secs := uint32(interval / time.Second)
	if secs == 0 {
		return 0
	}
	return time.Duration(balancedKey(key, secs)) * time.Second
}

func fnv32(key string) uint32 {
	var hash uint32 = 2166136261
	const prime32 uint32 = 16777619
	l := len(key)
	for i := 0; i < l; i++ {
		hash *= prime32
		hash ^= uint32(key[i])
	}
	return hash
}
