package testutils

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"testing"
	"time"
)

var Seed uint64 //nolint:gochecknoglobals // intentionally global for test reproducibility

func init() { //nolint:gochecknoinits // intentionally using init to set seed
	Seed = uint64(time.Now().UnixNano()) //nolint:gosec // it's ok
	if envSeed := os.Getenv("TEST_SEED"); envSeed != "" {
		parsed, err := strconv.ParseUint(envSeed, 0, 64)
		if err == nil {
			Seed = parsed
		}
	}
	fmt.Printf("to reproduce: TEST_SEED=0x%x\n", Seed) //nolint:forbidigo // just for testing
}

// NewRand returns a PRNG seeded from Seed. Each test gets its own stream so parallel tests stay
// reproducible.
func NewRand(t *testing.T) *rand.Rand {
	t.Helper()
	return rand.New(rand.NewPCG(Seed, Seed^hashName(t.Name()))) //nolint:gosec // weak RNG is fine for tests
}

func hashName(name string) uint64 {
	var h uint64 = 14695981039346656037
	for i := range len(name) {
		h ^= uint64(name[i])
		h *= 1099511628211
	}
	return h
}

// WeightedOp pairs an operation with its selection weight.
type WeightedOp[T any] struct {
	Op     T
	Weight int
}

// RandOpWeights assigns each operation a random weight in [1, 100].
func RandOpWeights[T any](r *rand.Rand, ops []T) []WeightedOp[T] {
	weighted := make([]WeightedOp[T], len(ops))
	for i, op := range ops {
		weighted[i] = WeightedOp[T]{Op: op, Weight: r.IntN(100) + 1}
	}
	return weighted
}

// RandWeightedOp picks an operation proportionally to its weight.
func RandWeightedOp[T any](r *rand.Rand, ops []WeightedOp[T]) T {
	var total int
	for _, op := range ops {
		total += op.Weight
	}

	pick := r.IntN(total)
	for _, op := range ops {
		if pick < op.Weight {
			return op.Op
		}
		pick -= op.Weight
	}
	panic("unreachable")
}

// RandMapKey returns a random key from a map. Panics if the map is empty.
func RandMapKey[K comparable, V any](r *rand.Rand, m map[K]V) K {
	idx := r.IntN(len(m))
	for k := range m {
		if idx == 0 {
			return k
		}
		idx--
	}
	panic("unreachable")
}

// RandString generates a random alphanumeric string of the given length.
func RandString(r *rand.Rand, length int) string {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = chars[r.IntN(len(chars))]
	}
	return string(b)
}
