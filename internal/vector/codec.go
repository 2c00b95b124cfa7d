package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

const float32Size = 4

// Encode serializes v as little-endian float32 values.
func Encode(v []float32) []byte {
	out := make([]byte, len(v)*float32Size)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*float32Size:(i+1)*float32Size], math.Float32bits(x))
	}
	return out
}

// Decode restores a vector of exactly dim values from b.
// A blob of any other length is a dimension mismatch, never reinterpreted.
func Decode(b []byte, dim int) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if dim <= 0 || len(b) != dim*float32Size {
		return nil, fmt.Errorf("embedding blob has %d bytes, expected %d dimensions", len(b), dim)
	}
	out := make([]float32, dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*float32Size : (i+1)*float32Size]))
	}
	return out, nil
}
