// Package knowledge indexes completed analyses so later runs can ground their
// research in prior conclusions. Retrieval is hybrid: a full-text pass over
// the hypothesis wording and a targeted pass over the instruments involved,
// fused with reciprocal-rank fusion.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/tradesage-ai/tradesage/internal/agent/core"
)

const rrfK = 60 // reciprocal-rank-fusion constant

// Document is one indexed prior analysis.
type Document struct {
	ID          string   `json:"id"`
	Hypothesis  string   `json:"hypothesis"`
	Synthesis   string   `json:"synthesis"`
	Instruments []string `json:"instruments"`
	Confidence  float64  `json:"confidence"`
}

// Retriever is an in-memory hybrid index over prior analyses. Safe for
// concurrent use.
type Retriever struct {
	mu    sync.RWMutex
	index bleve.Index
	docs  map[string]Document
}

// NewRetriever creates an empty in-memory retriever.
func NewRetriever() (*Retriever, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("bleve index: %w", err)
	}
	return &Retriever{
		index: index,
		docs:  make(map[string]Document),
	}, nil
}

// IndexResult adds a completed analysis to the corpus. Failed runs carry no
// reusable conclusion and are skipped.
func (r *Retriever) IndexResult(result core.PipelineResult) error {
	if result.Status != "success" {
		return nil
	}
	doc := Document{
		ID:          result.ID,
		Hypothesis:  result.ProcessedHypothesis,
		Synthesis:   result.Synthesis,
		Instruments: result.Instruments,
		Confidence:  result.ConfidenceScore,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc
	return r.index.Index(doc.ID, doc)
}

// Len returns the number of indexed analyses.
func (r *Retriever) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

// Retrieve returns prior analyses relevant to the hypothesis, most relevant
// first. Implements core.KnowledgeRetriever.
func (r *Retriever) Retrieve(ctx context.Context, hypothesis string, instruments []string) ([]core.KnowledgeHit, error) {
	const k = 5

	textHits, err := r.search(hypothesis, k)
	if err != nil {
		return nil, err
	}
	var symbolHits []core.KnowledgeHit
	if len(instruments) > 0 {
		symbolHits, err = r.search(strings.Join(instruments, " "), k)
		if err != nil {
			return nil, err
		}
	}
	return fuseRRF(textHits, symbolHits, k), nil
}

// search runs one BM25 pass over the corpus.
func (r *Retriever) search(q string, k int) ([]core.KnowledgeHit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	query := bleve.NewQueryStringQuery(sanitizeQuery(q))
	req := bleve.NewSearchRequestOptions(query, k*3, 0, false)

	r.mu.RLock()
	res, err := r.index.Search(req)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	var out []core.KnowledgeHit
	for _, hit := range res.Hits {
		r.mu.RLock()
		doc, ok := r.docs[hit.ID]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		out = append(out, core.KnowledgeHit{
			ID:      doc.ID,
			Title:   doc.Hypothesis,
			Snippet: snippet(doc.Synthesis),
			Score:   hit.Score,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// fuseRRF merges two ranked lists with reciprocal-rank fusion.
func fuseRRF(a, b []core.KnowledgeHit, k int) []core.KnowledgeHit {
	type agg struct {
		hit   core.KnowledgeHit
		score float64
	}
	m := map[string]*agg{}
	add := func(list []core.KnowledgeHit) {
		for rank, h := range list {
			x, ok := m[h.ID]
			if !ok {
				x = &agg{hit: h}
				m[h.ID] = x
			}
			x.score += 1.0 / float64(rrfK+rank+1)
		}
	}
	add(a)
	add(b)

	fused := make([]agg, 0, len(m))
	for _, v := range m {
		fused = append(fused, *v)
	}
	sort.Slice(fused, func(i, j int) bool { return fused[i].score > fused[j].score })

	if len(fused) > k {
		fused = fused[:k]
	}
	out := make([]core.KnowledgeHit, 0, len(fused))
	for _, f := range fused {
		f.hit.Score = f.score
		out = append(out, f.hit)
	}
	return out
}

// sanitizeQuery strips query-string operators that user-authored hypotheses
// commonly contain ($, parentheses, colons).
func sanitizeQuery(q string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '$', '(', ')', ':', '"', '+', '-', '^', '~', '*', '?', '[', ']', '{', '}', '/', '\\':
			return ' '
		}
		return r
	}, q)
}

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "..."
}
