package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/rcliao/closer/internal/similarity"
)

// HashEmbedder is a deterministic, offline embedder. Every word is hashed
// into a signed bucket, so texts sharing words point in similar directions.
// It needs no network and is used for tests and for running without a
// model server.
type HashEmbedder struct {
	dims int
}

var _ Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder creates a hash embedder; dims <= 0 defaults to 384.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dims)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		fillLCG(vec, hash64(text))
		return similarity.Unit(vec), nil
	}
	for _, w := range words {
		sum := hash64(w)
		idx := int(sum % uint64(h.dims))
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	return similarity.Unit(vec), nil
}

func (h *HashEmbedder) Dims() int { return h.dims }

func hash64(s string) uint64 {
	f := fnv.New64a()
	f.Write([]byte(s))
	return f.Sum64()
}

// fillLCG fills vec with pseudo-random values in [-1, 1] seeded by seed.
func fillLCG(vec []float32, seed uint64) {
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
}
