package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tradesage-ai/tradesage/config"
)

func newsFixture(t *testing.T, handler http.HandlerFunc) (*News, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.NewsConfig{MaxArticles: 3, DefaultDays: 7, Timeout: 2 * time.Second}
	av := config.AlphaVantageConfig{Endpoint: srv.URL, APIKey: "k", Timeout: 2 * time.Second}
	return NewNews(cfg, av), srv
}

func feedItem(title string, published time.Time) string {
	return fmt.Sprintf(`{"title": %q, "summary": "s", "source": "Reuters", "url": "https://example.com",
"time_published": %q, "overall_sentiment_score": 0.2}`, title, published.Format("20060102T150405"))
}

func TestSearchFiltersAndCaps(t *testing.T) {
	now := time.Now().UTC()
	var gotTickers string
	n, _ := newsFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotTickers = r.URL.Query().Get("tickers")
		items := []string{
			feedItem("fresh-1", now.Add(-1*time.Hour)),
			feedItem("stale", now.AddDate(0, 0, -10)),
			feedItem("fresh-2", now.Add(-2*time.Hour)),
			feedItem("fresh-3", now.Add(-3*time.Hour)),
			feedItem("fresh-4", now.Add(-4*time.Hour)),
		}
		fmt.Fprintf(w, `{"feed": [%s]}`, strings.Join(items, ","))
	})

	articles, err := n.Search(context.Background(), "(AAPL) iPhone demand", 7)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotTickers != "AAPL" {
		t.Fatalf("ticker not forwarded to feed: %q", gotTickers)
	}
	if len(articles) != 3 {
		t.Fatalf("expected cap at 3 articles, got %d", len(articles))
	}
	for _, a := range articles {
		if a.Title == "stale" {
			t.Fatalf("stale article survived the recency filter")
		}
	}
	if articles[0].Sentiment != 0.2 {
		t.Fatalf("sentiment not carried: %v", articles[0].Sentiment)
	}
}

func TestSearchQuotaNote(t *testing.T) {
	n, _ := newsFixture(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Information": "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`)
	})
	if _, err := n.Search(context.Background(), "AAPL", 7); err == nil {
		t.Fatalf("expected quota note to surface as an error")
	}
}

func TestSearchNoAPIKey(t *testing.T) {
	n := NewNews(config.NewsConfig{}, config.AlphaVantageConfig{})
	if _, err := n.Search(context.Background(), "AAPL", 7); err == nil {
		t.Fatalf("expected error without an API key")
	}
}

func TestFirstTicker(t *testing.T) {
	cases := []struct {
		query, want string
	}{
		{"Apple (AAPL) will outperform", "AAPL"},
		{"BTC-USD momentum", "BTC-USD"},
		{"the market looks toppy", ""},
		{"buy BRK.B on weakness", "BRK.B"},
	}
	for _, tc := range cases {
		if got := firstTicker(tc.query); got != tc.want {
			t.Fatalf("firstTicker(%q) = %q, want %q", tc.query, got, tc.want)
		}
	}
}
