package model

import "math"

// Finite returns a pointer to v, or nil when v is NaN or infinite.
// Used wherever an undefined indicator value must serialise as null.
func Finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Float returns *p, or NaN when p is nil.
func Float(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
