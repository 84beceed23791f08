package geometry

import "math"

// Bbox is an axis-aligned 3D extent. The zero value is not empty; use
// EmptyBbox for an accumulator.
type Bbox struct {
	Min [3]float64 `json:"min"`
	Max [3]float64 `json:"max"`
}

// EmptyBbox returns a box that is the identity for Merge.
func EmptyBbox() Bbox {
	inf := math.Inf(1)
	return Bbox{
		Min: [3]float64{inf, inf, inf},
		Max: [3]float64{-inf, -inf, -inf},
	}
}

// IsEmpty reports whether the box contains no point.
func (b Bbox) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1]
}

// Extend grows the box to contain p.
func (b *Bbox) Extend(p [3]float64) {
	for i := 0; i < 3; i++ {
		b.Min[i] = math.Min(b.Min[i], p[i])
		b.Max[i] = math.Max(b.Max[i], p[i])
	}
}

// Merge returns the union of b and o.
func (b Bbox) Merge(o Bbox) Bbox {
	if b.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return b
	}
	out := b
	for i := 0; i < 3; i++ {
		out.Min[i] = math.Min(b.Min[i], o.Min[i])
		out.Max[i] = math.Max(b.Max[i], o.Max[i])
	}
	return out
}

// Tuple2D returns min x, min y, max x, max y.
func (b Bbox) Tuple2D() (float64, float64, float64, float64) {
	return b.Min[0], b.Min[1], b.Max[0], b.Max[1]
}
