package vector

import (
	"fmt"

	"github.com/hyperjump/kioku/pkg/utils"
)

// Nudge moves current toward query by an exponential moving average with rate alpha
// and re-normalizes the result to unit length. The inputs are not modified.
func Nudge(current, query []float32, alpha float64) ([]float32, error) {
	if len(current) != len(query) {
		return nil, fmt.Errorf("dimension mismatch: stored %d, query %d", len(current), len(query))
	}
	if alpha <= 0 || alpha >= 1 {
		return nil, fmt.Errorf("alpha must be in (0, 1), got %v", alpha)
	}
	keep := float32(1 - alpha)
	a := float32(alpha)
	out := make([]float32, len(current))
	for i := range current {
		out[i] = current[i]*keep + query[i]*a
	}
	utils.NormalizeL2(out)
	return out, nil
}
