package protocol

import "math"

// QuantizeStep is the world-unit resolution of a quantized coordinate.
// Round trips recover the original value to within half a step; consumers
// must never compare replicated positions for exact float equality.
const QuantizeStep float32 = 0.01

// Quantize converts a world coordinate to its 16-bit wire form at
// centimeter resolution, rounding to nearest and saturating at the int16
// bounds rather than wrapping.
func Quantize(v float32) int16 {
	q := math.Round(float64(v) * 100)
	if q > math.MaxInt16 {
		return math.MaxInt16
	}
	if q < math.MinInt16 {
		return math.MinInt16
	}
	return int16(q)
}

// Dequantize recovers the world coordinate for a quantized value.
func Dequantize(q int16) float32 {
	return float32(q) / 100
}
