// Package embedding generates and stores vector embeddings for claims.
// Embeddings power the duplicate-similarity warnings in the ingestion
// pipeline and semantic search over claim content.
package embedding

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/phiacta/phiacta/errors"
)

// Embedder turns text into a fixed-dimension vector. Implementations talk
// to an external embedding function; failure must be reported, never
// silently zero-filled.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Model() string
}

// Serialize packs a float32 vector into the little-endian blob format the
// vec0 virtual table expects.
func Serialize(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Deserialize unpacks a vec0 blob back into a float32 vector.
func Deserialize(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errors.Newf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
