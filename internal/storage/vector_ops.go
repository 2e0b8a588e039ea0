package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dshills/guidesearch/pkg/types"
)

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// validateRecords checks that a replacement set has one non-empty vector per
// guideline and a single dimensionality. It returns that dimensionality.
func validateRecords(records []types.VectorRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	dimension := records[0].Dimension()
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		if rec.GuidelineID == "" {
			return 0, fmt.Errorf("record %d: %w", i, types.ErrMissingID)
		}
		if _, dup := seen[rec.GuidelineID]; dup {
			return 0, fmt.Errorf("record %d: duplicate vector for guideline %q", i, rec.GuidelineID)
		}
		seen[rec.GuidelineID] = struct{}{}

		if rec.Dimension() == 0 {
			return 0, fmt.Errorf("record %d: empty vector for guideline %q", i, rec.GuidelineID)
		}
		if rec.Dimension() != dimension {
			return 0, fmt.Errorf("%w: record %d has %d dimensions, want %d",
				types.ErrDimensionMismatch, i, len(rec.Vector), dimension)
		}
	}
	return dimension, nil
}

// copyVector returns a copy so callers cannot mutate stored data
func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}
