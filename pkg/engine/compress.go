package engine

// Compressor reduces an embedding to targetDim dimensions. Implementations
// must be deterministic: identical input vector and target always produce
// bit-identical output.
type Compressor func(embedding []float32, targetDim int) CompressedEmbedding

// CompressEmbedding is the default Compressor: it averages adjacent source
// dimensions into targetDim buckets. Deterministic, no seed state, strict
// reduction (an oversized target is clamped to one below the input
// dimension).
func CompressEmbedding(embedding []float32, targetDim int) CompressedEmbedding {
	original := len(embedding)
	if original == 0 {
		return CompressedEmbedding{
			Values:   []float32{},
			Metadata: CompressionMetadata{},
		}
	}
	if targetDim <= 0 {
		targetDim = 1
	}
	if targetDim >= original {
		targetDim = original - 1
		if targetDim < 1 {
			targetDim = 1
		}
	}

	out := make([]float32, targetDim)
	for i := 0; i < targetDim; i++ {
		// Bucket boundaries distribute remainder dimensions evenly.
		from := i * original / targetDim
		to := (i + 1) * original / targetDim
		if to <= from {
			to = from + 1
		}
		var sum float32
		for j := from; j < to; j++ {
			sum += embedding[j]
		}
		out[i] = sum / float32(to-from)
	}

	return CompressedEmbedding{
		Values: out,
		Metadata: CompressionMetadata{
			OriginalDimensions:   original,
			CompressedDimensions: targetDim,
			CompressionRatio:     float64(targetDim) / float64(original),
		},
	}
}
