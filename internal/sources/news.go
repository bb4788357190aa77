package sources

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/tradesage-ai/tradesage/config"
	"github.com/tradesage-ai/tradesage/internal/agent/core"
)

// News implements core.NewsProvider over the Alpha Vantage NEWS_SENTIMENT
// feed. Results are capped and filtered to the requested recency window.
type News struct {
	cfg    config.NewsConfig
	av     config.AlphaVantageConfig
	http   *HTTPClient
	logger *log.Logger
}

func NewNews(cfg config.NewsConfig, av config.AlphaVantageConfig) *News {
	return &News{
		cfg:    cfg,
		av:     av,
		http:   NewHTTPClient(cfg.Timeout, 2, 300*time.Millisecond),
		logger: log.New(log.Writer(), "[NEWS] ", log.LstdFlags),
	}
}

var tickerToken = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,9}(?:[.\-=][A-Z0-9]{1,6})?$`)

// Search returns recent articles for a query, newest first. The query may mix
// a ticker with free text; the ticker drives the feed filter, the rest is
// dropped because the upstream API does not support full-text search.
func (n *News) Search(ctx context.Context, query string, days int) ([]core.Article, error) {
	if n.av.APIKey == "" {
		return nil, fmt.Errorf("alpha vantage API key not configured")
	}
	if days <= 0 {
		days = n.cfg.DefaultDays
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	u := fmt.Sprintf("%s?function=NEWS_SENTIMENT&sort=LATEST&limit=50&time_from=%s&apikey=%s",
		n.av.Endpoint, since.Format("20060102T1504"), n.av.APIKey)
	if ticker := firstTicker(query); ticker != "" {
		u += "&tickers=" + url.QueryEscape(ticker)
	}

	var out struct {
		Feed []struct {
			Title         string  `json:"title"`
			Summary       string  `json:"summary"`
			Source        string  `json:"source"`
			URL           string  `json:"url"`
			TimePublished string  `json:"time_published"`
			Sentiment     float64 `json:"overall_sentiment_score"`
		} `json:"feed"`
		Information string `json:"Information"`
	}
	if err := n.http.GetJSON(ctx, u, nil, &out); err != nil {
		return nil, err
	}
	if out.Information != "" {
		// Alpha Vantage reports quota exhaustion as a 200 with a note.
		return nil, fmt.Errorf("news feed unavailable: %s", out.Information)
	}

	max := n.cfg.MaxArticles
	if max <= 0 {
		max = 10
	}
	articles := make([]core.Article, 0, max)
	for _, item := range out.Feed {
		published := parseNewsTime(item.TimePublished)
		if !published.IsZero() && published.Before(since) {
			continue
		}
		articles = append(articles, core.Article{
			Title:     item.Title,
			Summary:   item.Summary,
			Source:    item.Source,
			URL:       item.URL,
			Published: published.Format(time.RFC3339),
			Sentiment: item.Sentiment,
		})
		if len(articles) >= max {
			break
		}
	}
	return articles, nil
}

// firstTicker picks the first token that looks like a ticker symbol,
// unwrapping the parenthesised form a normalized hypothesis uses.
func firstTicker(query string) string {
	for _, tok := range strings.Fields(query) {
		tok = strings.Trim(tok, "()")
		if tickerToken.MatchString(tok) {
			return tok
		}
	}
	return ""
}

// parseNewsTime parses the feed's compact timestamp, e.g. "20240101T120000".
func parseNewsTime(s string) time.Time {
	t, err := time.Parse("20060102T150405", s)
	if err != nil {
		return time.Time{}
	}
	return t
}
