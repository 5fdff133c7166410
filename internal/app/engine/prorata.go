package engine

import "math/bits"

// ProRata computes floor(amount * share / total) through a 128-bit
// intermediate so large pools never wrap uint64. Shares above total clamp to
// total, which keeps the quotient within 64 bits; a zero total yields zero.
func ProRata(amount, share, total uint64) uint64 {
	if total == 0 || share == 0 {
		return 0
	}
	if share > total {
		share = total
	}
	hi, lo := bits.Mul64(amount, share)
	q, _ := bits.Div64(hi, lo, total)
	return q
}
