package cache

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

// Fingerprint computes a 64-bit simhash over the query's token set. Queries
// sharing many tokens produce fingerprints with small Hamming distance,
// which the eviction score uses as a cheap similarity signal.
func Fingerprint(query string) uint64 {
	var votes [64]int
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		for b := 0; b < 64; b++ {
			if sum&(1<<b) != 0 {
				votes[b]++
			} else {
				votes[b]--
			}
		}
	}

	var fp uint64
	for b := 0; b < 64; b++ {
		if votes[b] > 0 {
			fp |= 1 << b
		}
	}
	return fp
}

// similarity maps the Hamming distance between two fingerprints to [0,1].
func similarity(a, b uint64) float64 {
	return 1.0 - float64(bits.OnesCount64(a^b))/64.0
}
