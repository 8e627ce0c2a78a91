package testutil

import (
	"context"
	"hash/fnv"
)

// FakeEmbed is a deterministic, dependency-free embedding.Embed
// implementation for tests: it hashes the input text into a fixed-width
// vector so that identical text always yields identical (and therefore
// maximally similar) vectors, without ever calling a real model.
type FakeEmbed struct {
	Dim       int
	Available bool
}

// NewFakeEmbed constructs a FakeEmbed with the given dimension, available
// by default.
func NewFakeEmbed(dim int) *FakeEmbed {
	return &FakeEmbed{Dim: dim, Available: true}
}

func (f *FakeEmbed) Dimension() int { return f.Dim }

func (f *FakeEmbed) IsAvailable(ctx context.Context) bool { return f.Available }

func (f *FakeEmbed) Vector(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, f.Dim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(seed>>40) / float32(1<<24)
	}
	return vec, nil
}
