package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradesage-ai/tradesage/config"
	"github.com/tradesage-ai/tradesage/internal/agent/core"
)

// MarketData implements core.MarketDataProvider with a provider fallback
// chain: Alpha Vantage first, Financial Modeling Prep second, the keyless
// Yahoo chart endpoint last. Quotes are cached in Redis for a short window so
// repeated runs against the same instrument do not burn API quota.
type MarketData struct {
	cfg      config.SourcesConfig
	http     *HTTPClient
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *log.Logger
}

// NewMarketData creates the market data provider. cache may be nil, which
// disables quote caching.
func NewMarketData(cfg config.SourcesConfig, cache *redis.Client, cacheTTL time.Duration) *MarketData {
	return &MarketData{
		cfg:      cfg,
		http:     NewHTTPClient(cfg.AlphaVantage.Timeout, 2, 300*time.Millisecond),
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   log.New(log.Writer(), "[MARKET] ", log.LstdFlags),
	}
}

func quoteCacheKey(symbol string) string { return "tradesage:quote:" + symbol }

// Quote returns the current snapshot for a symbol, trying each provider in
// order until one answers.
func (m *MarketData) Quote(ctx context.Context, symbol string) (core.Quote, error) {
	if m.cache != nil {
		if raw, err := m.cache.Get(ctx, quoteCacheKey(symbol)).Result(); err == nil {
			var q core.Quote
			if err := json.Unmarshal([]byte(raw), &q); err == nil {
				return q, nil
			}
		}
	}

	var errs []string
	for _, fetch := range []struct {
		name string
		fn   func(context.Context, string) (core.Quote, error)
	}{
		{"alpha_vantage", m.alphaVantageQuote},
		{"fmp", m.fmpQuote},
		{"yahoo", m.yahooQuote},
	} {
		q, err := fetch.fn(ctx, symbol)
		if err != nil {
			errs = append(errs, fetch.name+": "+err.Error())
			continue
		}
		q.Provider = fetch.name
		q.LastUpdated = time.Now().UTC().Format(time.RFC3339)
		if m.cache != nil {
			if b, err := json.Marshal(q); err == nil {
				if err := m.cache.Set(ctx, quoteCacheKey(symbol), b, m.cacheTTL).Err(); err != nil {
					m.logger.Printf("quote cache write failed for %s: %v", symbol, err)
				}
			}
		}
		return q, nil
	}
	return core.Quote{}, fmt.Errorf("all quote providers failed for %s: %s", symbol, strings.Join(errs, "; "))
}

func (m *MarketData) alphaVantageQuote(ctx context.Context, symbol string) (core.Quote, error) {
	if m.cfg.AlphaVantage.APIKey == "" {
		return core.Quote{}, fmt.Errorf("no API key")
	}
	u := fmt.Sprintf("%s?function=GLOBAL_QUOTE&symbol=%s&apikey=%s",
		m.cfg.AlphaVantage.Endpoint, url.QueryEscape(symbol), m.cfg.AlphaVantage.APIKey)
	var out struct {
		GlobalQuote map[string]string `json:"Global Quote"`
	}
	if err := m.http.GetJSON(ctx, u, nil, &out); err != nil {
		return core.Quote{}, err
	}
	price := parseFloat(out.GlobalQuote["05. price"])
	if price == 0 {
		return core.Quote{}, fmt.Errorf("empty quote for %s", symbol)
	}
	return core.Quote{
		Symbol:       symbol,
		CurrentPrice: price,
		Change:       parseFloat(out.GlobalQuote["09. change"]),
		ChangePct:    parseFloat(strings.TrimSuffix(out.GlobalQuote["10. change percent"], "%")),
	}, nil
}

func (m *MarketData) fmpQuote(ctx context.Context, symbol string) (core.Quote, error) {
	if m.cfg.FMP.APIKey == "" {
		return core.Quote{}, fmt.Errorf("no API key")
	}
	u := fmt.Sprintf("%s/quote/%s?apikey=%s", m.cfg.FMP.Endpoint, url.PathEscape(symbol), m.cfg.FMP.APIKey)
	var out []struct {
		Symbol            string  `json:"symbol"`
		Price             float64 `json:"price"`
		Change            float64 `json:"change"`
		ChangesPercentage float64 `json:"changesPercentage"`
		MarketCap         float64 `json:"marketCap"`
		PE                float64 `json:"pe"`
	}
	if err := m.http.GetJSON(ctx, u, nil, &out); err != nil {
		return core.Quote{}, err
	}
	if len(out) == 0 || out[0].Price == 0 {
		return core.Quote{}, fmt.Errorf("empty quote for %s", symbol)
	}
	q := out[0]
	return core.Quote{
		Symbol:       q.Symbol,
		CurrentPrice: q.Price,
		Change:       q.Change,
		ChangePct:    q.ChangesPercentage,
		MarketCap:    q.MarketCap,
		PERatio:      q.PE,
	}, nil
}

// yahooChart mirrors the subset of the Yahoo v8 chart payload we read.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (m *MarketData) yahooQuote(ctx context.Context, symbol string) (core.Quote, error) {
	out, err := m.yahooChartFetch(ctx, symbol, "5d")
	if err != nil {
		return core.Quote{}, err
	}
	meta := out.Chart.Result[0].Meta
	if meta.RegularMarketPrice == 0 {
		return core.Quote{}, fmt.Errorf("empty quote for %s", symbol)
	}
	change := meta.RegularMarketPrice - meta.ChartPreviousClose
	pct := 0.0
	if meta.ChartPreviousClose != 0 {
		pct = change / meta.ChartPreviousClose * 100
	}
	return core.Quote{
		Symbol:       symbol,
		CurrentPrice: meta.RegularMarketPrice,
		Change:       change,
		ChangePct:    pct,
	}, nil
}

func (m *MarketData) yahooChartFetch(ctx context.Context, symbol, rng string) (yahooChart, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=1d", m.cfg.Yahoo.Endpoint, url.PathEscape(symbol), rng)
	var out yahooChart
	if err := m.http.GetJSON(ctx, u, map[string]string{"User-Agent": "tradesage/1.0"}, &out); err != nil {
		return yahooChart{}, err
	}
	if out.Chart.Error != nil {
		return yahooChart{}, fmt.Errorf("yahoo: %s", out.Chart.Error.Description)
	}
	if len(out.Chart.Result) == 0 {
		return yahooChart{}, fmt.Errorf("no chart data for %s", symbol)
	}
	return out, nil
}

// PriceHistory returns up to days daily closes, oldest first. Alpha Vantage
// is preferred for its adjusted daily series; Yahoo is the keyless fallback.
func (m *MarketData) PriceHistory(ctx context.Context, symbol string, days int) ([]core.PricePoint, error) {
	if days <= 0 {
		days = 30
	}
	if m.cfg.AlphaVantage.APIKey != "" {
		points, err := m.alphaVantageHistory(ctx, symbol, days)
		if err == nil {
			return points, nil
		}
		m.logger.Printf("alpha vantage history failed for %s, falling back to yahoo: %v", symbol, err)
	}
	return m.yahooHistory(ctx, symbol, days)
}

func (m *MarketData) alphaVantageHistory(ctx context.Context, symbol string, days int) ([]core.PricePoint, error) {
	u := fmt.Sprintf("%s?function=TIME_SERIES_DAILY&symbol=%s&apikey=%s",
		m.cfg.AlphaVantage.Endpoint, url.QueryEscape(symbol), m.cfg.AlphaVantage.APIKey)
	var out struct {
		Series map[string]map[string]string `json:"Time Series (Daily)"`
	}
	if err := m.http.GetJSON(ctx, u, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Series) == 0 {
		return nil, fmt.Errorf("no daily series for %s", symbol)
	}

	dates := make([]string, 0, len(out.Series))
	for d := range out.Series {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	if len(dates) > days {
		dates = dates[len(dates)-days:]
	}

	points := make([]core.PricePoint, 0, len(dates))
	for _, d := range dates {
		row := out.Series[d]
		points = append(points, core.PricePoint{
			Date:   d,
			Price:  parseFloat(row["4. close"]),
			Volume: int64(parseFloat(row["5. volume"])),
		})
	}
	return points, nil
}

func (m *MarketData) yahooHistory(ctx context.Context, symbol string, days int) ([]core.PricePoint, error) {
	rng := "1mo"
	switch {
	case days > 250:
		rng = "2y"
	case days > 120:
		rng = "1y"
	case days > 60:
		rng = "6mo"
	case days > 25:
		rng = "3mo"
	}
	out, err := m.yahooChartFetch(ctx, symbol, rng)
	if err != nil {
		return nil, err
	}
	result := out.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("no chart data for %s", symbol)
	}
	quote := result.Indicators.Quote[0]

	var points []core.PricePoint
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == 0 {
			continue
		}
		var vol int64
		if i < len(quote.Volume) {
			vol = quote.Volume[i]
		}
		points = append(points, core.PricePoint{
			Date:   time.Unix(ts, 0).UTC().Format("2006-01-02"),
			Price:  quote.Close[i],
			Volume: vol,
		})
	}
	if len(points) > days {
		points = points[len(points)-days:]
	}
	return points, nil
}

// Trends computes simple technical indicators over the last 30 sessions.
func (m *MarketData) Trends(ctx context.Context, symbol string) (core.TrendReport, error) {
	const window = 30
	points, err := m.PriceHistory(ctx, symbol, window)
	if err != nil {
		return core.TrendReport{}, err
	}
	if len(points) < 5 {
		return core.TrendReport{}, fmt.Errorf("not enough history for %s: %d points", symbol, len(points))
	}

	ma5 := movingAverage(points, 5)
	ma20 := movingAverage(points, 20)
	first := points[0].Price
	last := points[len(points)-1].Price
	momentum := 0.0
	if first != 0 {
		momentum = (last - first) / first * 100
	}

	trend := "Neutral"
	switch {
	case ma5 > ma20 && momentum > 0:
		trend = "Bullish"
	case ma5 < ma20 && momentum < 0:
		trend = "Bearish"
	}

	return core.TrendReport{
		Symbol:     symbol,
		MA5:        ma5,
		MA20:       ma20,
		Momentum:   momentum,
		Trend:      trend,
		WindowDays: len(points),
	}, nil
}

// movingAverage averages the trailing n closes; fewer points than n means the
// whole series.
func movingAverage(points []core.PricePoint, n int) float64 {
	if len(points) < n {
		n = len(points)
	}
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range points[len(points)-n:] {
		sum += p.Price
	}
	return sum / float64(n)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
