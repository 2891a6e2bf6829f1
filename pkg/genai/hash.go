package genai

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// DefaultHashDimensions is the vector size produced by HashEmbedder.
const DefaultHashDimensions = 768

// HashEmbedder is a deterministic pseudo-embedding provider.
//
// It projects a SHA-256 content hash into a fixed-dimension vector, so
// identical input always yields the same same-length vector. The vectors
// carry NO semantic meaning: nearest-neighbor search over them only
// matches exact or near-hash-identical content. It exists so the core
// works end to end when no true embedding model is wired, and must not
// be mistaken for a real embedder.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder creates a hash embedder producing vectors of the given
// dimension (DefaultHashDimensions when dims <= 0).
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{dimensions: dims}
}

// Embed returns the hash projection of text. The error is always nil;
// the signature matches the Embedder interface.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, e.dimensions)
	seed := sha256.Sum256([]byte(text))
	block := seed
	for i := 0; i < e.dimensions; i++ {
		// Eight bytes per component; rehash the running block when spent.
		off := (i * 8) % len(block)
		if off == 0 && i > 0 {
			block = sha256.Sum256(block[:])
		}
		u := binary.BigEndian.Uint64(block[off : off+8])
		// Map onto [-1, 1).
		vec[i] = float64(int64(u)) / float64(1<<63)
	}
	return vec, nil
}

// Dimensions returns the vector dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}
