package playlist

import (
	"math/rand/v2"

	"github.com/samber/lo"
)

// Rand is the random source used to build shuffle orders.
type Rand interface {
	// IntN returns a value in [0, n).
	IntN(n int) int
}

type defaultRand struct{}

func (defaultRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRand draws from the process-wide generator.
func DefaultRand() Rand { return defaultRand{} }

// NewSeededRand returns a deterministic source.
func NewSeededRand(seed uint64) Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// BuildShuffleOrder returns a uniform random permutation of [0, n): it keeps
// drawing a random index from the ones still remaining until none are left.
func BuildShuffleOrder(n int, rng Rand) []int {
	remaining := lo.Range(n)
	order := make([]int, 0, n)
	for len(remaining) > 0 {
		i := rng.IntN(len(remaining))
		order = append(order, remaining[i])
		remaining = append(remaining[:i], remaining[i+1:]...)
	}
	return order
}
