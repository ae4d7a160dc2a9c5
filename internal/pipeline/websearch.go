package pipeline

import "context"

// WebSearcher is the optional web-search capability consulted by
// CollectEvidenceStage alongside memory. A nil WebSearcher simply skips
// the web leg of evidence collection.
type WebSearcher interface {
	Search(ctx context.Context, query string, k int) ([]EvidenceItem, error)
}
