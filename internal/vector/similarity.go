package vector

import (
	"cmp"
	"slices"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/models"
	"github.com/apexneural-anniesiri/doc-qa-engine/pkg/utils"
)

// Rank scores every chunk against query by cosine similarity and returns the
// best topK, highest score first. Equal scores keep chunk order.
func Rank(query []float32, chunks []models.Chunk, topK int) []models.SearchResult {
	results := make([]models.SearchResult, len(chunks))
	for i := range chunks {
		results[i] = models.SearchResult{
			Chunk: &chunks[i],
			Score: utils.CosineSimilarity(query, chunks[i].Embedding),
		}
	}
	slices.SortFunc(results, func(a, b models.SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Chunk.Index, b.Chunk.Index)
	})
	topK = min(topK, len(results))
	results = results[:topK]
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}
