package vector

import (
	"testing"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/models"
)

func BenchmarkRank(b *testing.B) {
	const dims = 1536
	chunks := make([]models.Chunk, 1000)
	for i := range chunks {
		v := make([]float32, dims)
		v[i%dims] = 1
		v[0] = float32(i) / 1000
		chunks[i] = models.Chunk{Index: i, Embedding: v}
	}
	query := make([]float32, dims)
	query[0] = 1
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Rank(query, chunks, 5)
	}
}
