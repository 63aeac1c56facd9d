// Package quantization implements the lossy int8 vector codec used for
// memory-efficient storage. It compresses float32 vectors (4 bytes/dim) to
// int8 (1 byte/dim) for 4x memory savings, with per-vector calibration.
package quantization

import (
	"fmt"
	"math"

	"github.com/nearlab/proxima/distance"
)

// Method selects the calibration mode of the codec.
type Method uint8

const (
	// Symmetric maps [-maxAbs, maxAbs] onto [-127, 127] with a zero
	// zero-point. Preferred for roughly zero-centered values; distance math
	// needs no zero-point correction term.
	Symmetric Method = iota

	// Asymmetric maps [min, max] onto the full signed 8-bit range. Better
	// precision for skewed distributions.
	Asymmetric
)

func (m Method) String() string {
	switch m {
	case Symmetric:
		return "symmetric"
	case Asymmetric:
		return "asymmetric"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParseMethod parses a method name as used in configuration files.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "symmetric", "":
		return Symmetric, nil
	case "asymmetric":
		return Asymmetric, nil
	default:
		return 0, fmt.Errorf("unknown quantization method %q", s)
	}
}

// Quantized is the compressed form of a single vector.
//
// Reconstruction is Codes[i]*Scale + ZeroPoint for both methods; symmetric
// vectors always carry ZeroPoint == 0, asymmetric vectors carry the
// effective offset after the shift into signed range (min + 128*scale).
type Quantized struct {
	Codes     []int8
	Scale     float32
	ZeroPoint float32
	Method    Method
}

// Dim returns the dimensionality of the encoded vector.
func (q Quantized) Dim() int { return len(q.Codes) }

// Quantizer encodes float32 vectors into per-vector calibrated int8 form.
type Quantizer struct {
	method Method
}

// New creates a Quantizer for the given method.
func New(method Method) *Quantizer {
	return &Quantizer{method: method}
}

// Method returns the configured calibration mode.
func (qz *Quantizer) Method() Method { return qz.method }

// Quantize encodes a single vector. Calibration is per vector, not global.
//
// Degenerate input (all-zero for symmetric, max==min for asymmetric) yields
// scale 1 and all-zero codes instead of dividing by zero.
func (qz *Quantizer) Quantize(v []float32) Quantized {
	if qz.method == Asymmetric {
		return quantizeAsymmetric(v)
	}
	return quantizeSymmetric(v)
}

// QuantizeBatch encodes a list of vectors, one scale/zero-point per vector.
func (qz *Quantizer) QuantizeBatch(vectors [][]float32) []Quantized {
	out := make([]Quantized, len(vectors))
	for i, v := range vectors {
		out[i] = qz.Quantize(v)
	}
	return out
}

func quantizeSymmetric(v []float32) Quantized {
	var maxAbs float32
	for _, val := range v {
		a := val
		if a < 0 {
			a = -a
		}
		if a > maxAbs {
			maxAbs = a
		}
	}

	if maxAbs == 0 {
		return Quantized{Codes: make([]int8, len(v)), Scale: 1, Method: Symmetric}
	}

	scale := maxAbs / 127
	codes := make([]int8, len(v))
	for i, val := range v {
		scaled := val / scale
		if scaled > 127 {
			scaled = 127
		} else if scaled < -127 {
			scaled = -127
		}
		codes[i] = int8(math.Round(float64(scaled)))
	}

	return Quantized{Codes: codes, Scale: scale, Method: Symmetric}
}

func quantizeAsymmetric(v []float32) Quantized {
	if len(v) == 0 {
		return Quantized{Codes: []int8{}, Scale: 1, Method: Asymmetric}
	}

	minV, maxV := v[0], v[0]
	for _, val := range v[1:] {
		if val < minV {
			minV = val
		}
		if val > maxV {
			maxV = val
		}
	}

	if maxV == minV {
		// Constant vector: ZeroPoint alone reconstructs it exactly.
		return Quantized{Codes: make([]int8, len(v)), Scale: 1, ZeroPoint: minV, Method: Asymmetric}
	}

	scale := (maxV - minV) / 255
	codes := make([]int8, len(v))
	for i, val := range v {
		q := math.Round(float64((val - minV) / scale)) // [0, 255]
		if q > 255 {
			q = 255
		} else if q < 0 {
			q = 0
		}
		codes[i] = int8(int(q) - 128)
	}

	return Quantized{
		Codes:     codes,
		Scale:     scale,
		ZeroPoint: minV + 128*scale,
		Method:    Asymmetric,
	}
}

// Dequantize reconstructs an approximate float32 vector.
func Dequantize(q Quantized) []float32 {
	out := make([]float32, len(q.Codes))
	DequantizeInto(q, out)
	return out
}

// DequantizeInto reconstructs into dst, which must have length q.Dim().
func DequantizeInto(q Quantized, dst []float32) {
	for i, c := range q.Codes {
		dst[i] = float32(c)*q.Scale + q.ZeroPoint
	}
}

// Quality reports the round-trip reconstruction error of one vector.
type Quality struct {
	MaxAbsError    float32
	MeanAbsError   float32
	MaxRelError    float32
	CosineFidelity float32 // cosine similarity between original and reconstruction
}

// BatchQuality aggregates Quality over a sample of vectors.
type BatchQuality struct {
	MeanAbsError        float32
	WorstAbsError       float32
	MeanCosineFidelity  float32
	WorstCosineFidelity float32
	Samples             int
}

// MeasureQuality round-trips v and reports the reconstruction error.
func (qz *Quantizer) MeasureQuality(v []float32) Quality {
	rec := Dequantize(qz.Quantize(v))

	var q Quality
	var sumAbs float32
	for i := range v {
		diff := v[i] - rec[i]
		if diff < 0 {
			diff = -diff
		}
		sumAbs += diff
		if diff > q.MaxAbsError {
			q.MaxAbsError = diff
		}
		if a := abs32(v[i]); a > 1e-12 {
			if rel := diff / a; rel > q.MaxRelError {
				q.MaxRelError = rel
			}
		}
	}
	if len(v) > 0 {
		q.MeanAbsError = sumAbs / float32(len(v))
	}
	q.CosineFidelity = distance.CosineSimilarity(v, rec)
	return q
}

// MeasureBatchQuality aggregates mean and worst-case error across a sample.
func (qz *Quantizer) MeasureBatchQuality(vectors [][]float32) BatchQuality {
	bq := BatchQuality{WorstCosineFidelity: 1, Samples: len(vectors)}
	if len(vectors) == 0 {
		return bq
	}

	var sumAbs, sumCos float32
	for _, v := range vectors {
		q := qz.MeasureQuality(v)
		sumAbs += q.MeanAbsError
		sumCos += q.CosineFidelity
		if q.MaxAbsError > bq.WorstAbsError {
			bq.WorstAbsError = q.MaxAbsError
		}
		if q.CosineFidelity < bq.WorstCosineFidelity {
			bq.WorstCosineFidelity = q.CosineFidelity
		}
	}
	bq.MeanAbsError = sumAbs / float32(len(vectors))
	bq.MeanCosineFidelity = sumCos / float32(len(vectors))
	return bq
}

// CompressionRatio returns the memory compression ratio of the codec
// (always 4.0: float32 down to one byte per dimension).
func CompressionRatio() float64 { return 4.0 }

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
