package quantization

import (
	"math"

	"github.com/nearlab/proxima/distance"
)

// This file provides fused distance kernels over int8 codes.
//
// Code-to-code kernels accumulate on the integer arrays and apply the
// scale/zero-point correction once to the aggregate, not per element.
// Symmetric pairs take a fast path that skips every zero-point term.
// Query-to-code kernels dequantize on the fly without scratch allocations.

// intSums holds the integer aggregates of one fused pass over two code
// arrays: S_ab = sum a_i*b_i, S_aa = sum a_i^2, S_bb = sum b_i^2,
// S_a = sum a_i, S_b = sum b_i.
type intSums struct {
	ab, aa, bb, a, b int64
}

func accumulate(a, b []int8) intSums {
	var s intSums
	for i := range a {
		ai := int64(a[i])
		bi := int64(b[i])
		s.ab += ai * bi
		s.aa += ai * ai
		s.bb += bi * bi
		s.a += ai
		s.b += bi
	}
	return s
}

// Distance computes the metric score between two quantized vectors directly
// on their integer codes. Assumes equal dimensionality (caller's
// responsibility; storage validates at the store boundary).
func Distance(m distance.Metric, a, b Quantized) float32 {
	switch m {
	case distance.MetricDot:
		return dotQQ(a, b)
	case distance.MetricCosine:
		return cosineQQ(a, b)
	case distance.MetricEuclidean:
		return float32(math.Sqrt(float64(squaredL2QQ(a, b))))
	case distance.MetricManhattan:
		return manhattanQQ(a, b)
	default:
		return float32(math.MaxFloat32)
	}
}

func dotQQ(a, b Quantized) float32 {
	if a.ZeroPoint == 0 && b.ZeroPoint == 0 {
		// Symmetric fast path: dot = sa*sb * S_ab.
		var ab int64
		for i := range a.Codes {
			ab += int64(a.Codes[i]) * int64(b.Codes[i])
		}
		return a.Scale * b.Scale * float32(ab)
	}

	s := accumulate(a.Codes, b.Codes)
	n := float32(len(a.Codes))
	return a.Scale*b.Scale*float32(s.ab) +
		a.Scale*b.ZeroPoint*float32(s.a) +
		b.Scale*a.ZeroPoint*float32(s.b) +
		n*a.ZeroPoint*b.ZeroPoint
}

func squaredL2QQ(a, b Quantized) float32 {
	s := accumulate(a.Codes, b.Codes)
	// sum ((ca*sa+za) - (cb*sb+zb))^2 expanded around the aggregates.
	e := a.ZeroPoint - b.ZeroPoint
	n := float32(len(a.Codes))
	sum := a.Scale*a.Scale*float32(s.aa) +
		b.Scale*b.Scale*float32(s.bb) -
		2*a.Scale*b.Scale*float32(s.ab)
	if e != 0 {
		sum += 2*e*(a.Scale*float32(s.a)-b.Scale*float32(s.b)) + n*e*e
	}
	if sum < 0 {
		sum = 0 // rounding noise
	}
	return sum
}

func cosineQQ(a, b Quantized) float32 {
	s := accumulate(a.Codes, b.Codes)
	n := float32(len(a.Codes))

	dot := a.Scale*b.Scale*float32(s.ab) +
		a.Scale*b.ZeroPoint*float32(s.a) +
		b.Scale*a.ZeroPoint*float32(s.b) +
		n*a.ZeroPoint*b.ZeroPoint
	na := a.Scale*a.Scale*float32(s.aa) + 2*a.Scale*a.ZeroPoint*float32(s.a) + n*a.ZeroPoint*a.ZeroPoint
	nb := b.Scale*b.Scale*float32(s.bb) + 2*b.Scale*b.ZeroPoint*float32(s.b) + n*b.ZeroPoint*b.ZeroPoint

	if na <= 0 || nb <= 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(na))) * float32(math.Sqrt(float64(nb))))
}

func manhattanQQ(a, b Quantized) float32 {
	if a.Scale == b.Scale && a.ZeroPoint == b.ZeroPoint {
		// Shared mapping: L1 scales linearly with the integer L1.
		var sum int64
		for i := range a.Codes {
			d := int64(a.Codes[i]) - int64(b.Codes[i])
			if d < 0 {
				d = -d
			}
			sum += d
		}
		return a.Scale * float32(sum)
	}

	// Distinct per-vector mappings: |.| does not aggregate, reconstruct
	// per element.
	var sum float32
	for i := range a.Codes {
		d := (float32(a.Codes[i])*a.Scale + a.ZeroPoint) - (float32(b.Codes[i])*b.Scale + b.ZeroPoint)
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum
}

// DistanceToFloat computes the metric score between a float32 query and a
// quantized vector, dequantizing on the fly. Assumes len(query) == q.Dim().
func DistanceToFloat(m distance.Metric, query []float32, q Quantized) float32 {
	switch m {
	case distance.MetricDot:
		var sum float32
		for i, c := range q.Codes {
			sum += query[i] * (float32(c)*q.Scale + q.ZeroPoint)
		}
		return sum
	case distance.MetricEuclidean:
		var sum float32
		for i, c := range q.Codes {
			d := query[i] - (float32(c)*q.Scale + q.ZeroPoint)
			sum += d * d
		}
		return float32(math.Sqrt(float64(sum)))
	case distance.MetricManhattan:
		var sum float32
		for i, c := range q.Codes {
			d := query[i] - (float32(c)*q.Scale + q.ZeroPoint)
			if d < 0 {
				d = -d
			}
			sum += d
		}
		return sum
	case distance.MetricCosine:
		var dot, na, nb float32
		for i, c := range q.Codes {
			v := float32(c)*q.Scale + q.ZeroPoint
			dot += query[i] * v
			na += query[i] * query[i]
			nb += v * v
		}
		if na == 0 || nb == 0 {
			return 0
		}
		return dot / (float32(math.Sqrt(float64(na))) * float32(math.Sqrt(float64(nb))))
	default:
		return float32(math.MaxFloat32)
	}
}
