package session

import (
	"hash/fnv"
	"math/rand"
)

// Stream names for PartitionedRNG.
const (
	// StreamDeck drives synthetic deck generation.
	StreamDeck = "deck"
	// StreamUser drives simulated user behavior (session length, detail opens, likes).
	StreamUser = "user"
	// StreamPlaces drives simulated places latency jitter and failures.
	StreamPlaces = "places"
)

// PartitionedRNG hands out deterministic, isolated RNGs per stream, so that
// changing how often one stream is drawn from never shifts another.
//
// Derivation: seed XOR fnv1a64(stream).
//
// Thread-safety: NOT thread-safe. The *rand.Rand values it returns are not
// either; callers that share one across goroutines must lock around it.
type PartitionedRNG struct {
	seed    int64
	streams map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a master seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{seed: seed, streams: make(map[string]*rand.Rand)}
}

// ForStream returns the RNG for a stream. The same name always returns the
// same instance. Never returns nil.
func (p *PartitionedRNG) ForStream(name string) *rand.Rand {
	if rng, ok := p.streams[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.seed ^ fnv1a64(name)))
	p.streams[name] = rng
	return rng
}

// Seed returns the master seed.
func (p *PartitionedRNG) Seed() int64 {
	return p.seed
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
