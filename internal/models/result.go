package models

// SearchResult is a single similarity hit inside one document.
type SearchResult struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// Citation is a chunk that was used as context for an answer.
type Citation struct {
	Text       string  `json:"text"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Page       int     `json:"page,omitempty"`
}

// Answer is a grounded answer with the sources it was generated from.
type Answer struct {
	DocumentID string     `json:"doc_id"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`
	Sources    []Citation `json:"sources"`
}

// NewCitation builds a citation from a search hit.
func NewCitation(r SearchResult) Citation {
	return Citation{
		Text:       r.Chunk.Text,
		ChunkIndex: r.Chunk.Index,
		Score:      r.Score,
		Page:       r.Chunk.Page,
	}
}
