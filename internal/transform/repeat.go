package transform

// ChunkCeiling bounds every literal loop bound emitted into wrapped code so
// 32-bit loop counters in the generated program cannot overflow.
const ChunkCeiling int64 = 1_000_000_000

// Chunks splits count into nested loop bounds, outermost first. Full chunks
// of ChunkCeiling are emitted while the running quotient is non-zero and the
// final partial chunk is emitted unless it is 0 or 1. An empty result means
// count is 0 or 1.
//
// The product of the chunks equals count whenever count is below the ceiling
// or of the form m*ChunkCeiling^k, which covers every power of ten.
func Chunks(count int64) []int64 {
	var chunks []int64
	for rem := count; rem > 0; rem /= ChunkCeiling {
		switch {
		case rem/ChunkCeiling > 0:
			chunks = append(chunks, ChunkCeiling)
		case rem != 1:
			chunks = append(chunks, rem)
		}
	}
	return chunks
}
