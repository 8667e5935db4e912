package experiment

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"time"
)

// NewSeed generates a random seed using crypto/rand, falling back to
// the wall clock if the entropy source is unavailable.
func NewSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// NewSeededRand returns a math/rand source seeded from crypto/rand.
// The draw itself does not need cryptographic randomness, only an
// unpredictable starting point across process restarts.
func NewSeededRand() *rand.Rand {
	return rand.New(rand.NewSource(NewSeed()))
}
