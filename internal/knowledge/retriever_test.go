package knowledge

import (
	"context"
	"testing"

	"github.com/tradesage-ai/tradesage/internal/agent/core"
)

func seedResult(id, hypothesis, synthesis string, instruments ...string) core.PipelineResult {
	return core.PipelineResult{
		ID:                  id,
		ProcessedHypothesis: hypothesis,
		Synthesis:           synthesis,
		Instruments:         instruments,
		ConfidenceScore:     0.7,
		Status:              "success",
	}
}

func TestRetrieveFindsRelatedAnalyses(t *testing.T) {
	r, err := NewRetriever()
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	if err := r.IndexResult(seedResult("h1", "Apple (AAPL) will reach $220", "iPhone demand remains strong", "AAPL")); err != nil {
		t.Fatalf("index: %v", err)
	}
	if err := r.IndexResult(seedResult("h2", "Crude oil (CL=F) drops below $60", "OPEC supply overwhelms demand", "CL=F")); err != nil {
		t.Fatalf("index: %v", err)
	}

	hits, err := r.Retrieve(context.Background(), "Apple iPhone revenue will keep growing", []string{"AAPL"})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("expected at least one hit")
	}
	if hits[0].ID != "h1" {
		t.Fatalf("expected the Apple analysis first, got %q", hits[0].ID)
	}
}

func TestRetrieveSkipsFailedRuns(t *testing.T) {
	r, err := NewRetriever()
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	failed := seedResult("h1", "Apple (AAPL) will reach $220", "n/a", "AAPL")
	failed.Status = "error"
	if err := r.IndexResult(failed); err != nil {
		t.Fatalf("index: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("failed runs must not be indexed, got %d docs", r.Len())
	}
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	r, err := NewRetriever()
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	hits, err := r.Retrieve(context.Background(), "anything at all", nil)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
}

func TestRetrieveQuerySanitization(t *testing.T) {
	r, err := NewRetriever()
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	if err := r.IndexResult(seedResult("h1", "Apple (AAPL) will reach $220", "strong services growth", "AAPL")); err != nil {
		t.Fatalf("index: %v", err)
	}
	// Raw hypothesis text full of query-string operators must not error.
	if _, err := r.Retrieve(context.Background(), `Apple (AAPL) "will" reach $220 +/- 5%`, []string{"AAPL"}); err != nil {
		t.Fatalf("retrieve with operators: %v", err)
	}
}

func TestFuseRRFPrefersDocsInBothLists(t *testing.T) {
	a := []core.KnowledgeHit{{ID: "x"}, {ID: "shared"}}
	b := []core.KnowledgeHit{{ID: "shared"}, {ID: "y"}}
	fused := fuseRRF(a, b, 3)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused hits, got %d", len(fused))
	}
	if fused[0].ID != "shared" {
		t.Fatalf("doc present in both lists should rank first, got %q", fused[0].ID)
	}
}
