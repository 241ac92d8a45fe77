package retrieval

// Document is one retrieved passage.
type Document struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	Source      string         `json:"source"`
	Score       float64        `json:"score"`
	RerankScore float64        `json:"rerank_score,omitempty"`
	FinalScore  float64        `json:"final_score,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Relevance is the score callers should rank by: FinalScore once the
// document went through a reranker, Score otherwise.
func (d Document) Relevance() float64 {
	if d.FinalScore != 0 || d.RerankScore != 0 {
		return d.FinalScore
	}
	return d.Score
}
