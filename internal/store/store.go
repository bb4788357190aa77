// Package store persists analysis results to Postgres. One result fans out
// over four tables: the hypothesis row, its evidence (both polarities), its
// alerts and the price history snapshot used during research.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/tradesage-ai/tradesage/internal/agent/core"
)

type Store struct {
	DB *sql.DB
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// HypothesisSummary is a dashboard row.
type HypothesisSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// DashboardSummary aggregates the state of all stored analyses.
type DashboardSummary struct {
	TotalHypotheses int                 `json:"total_hypotheses"`
	SuccessCount    int                 `json:"success_count"`
	AvgConfidence   float64             `json:"avg_confidence"`
	UnreadAlerts    int                 `json:"unread_alerts"`
	Recent          []HypothesisSummary `json:"recent"`
}

// StoredAlert is an alert row including its persistence metadata.
type StoredAlert struct {
	ID           int64     `json:"id"`
	HypothesisID string    `json:"hypothesis_id"`
	Type         string    `json:"type"`
	Message      string    `json:"message"`
	Priority     string    `json:"priority"`
	IsRead       bool      `json:"is_read"`
	CreatedAt    time.Time `json:"created_at"`
}

// SaveResult persists a pipeline result atomically. The hypothesis title is
// cleaned of agent meta-prose before storage.
func (s *Store) SaveResult(ctx context.Context, result core.PipelineResult) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	instruments, _ := json.Marshal(result.Instruments)
	research, _ := json.Marshal(result.ResearchData)

	if _, err := tx.ExecContext(ctx, `
INSERT INTO hypotheses (
  id, title, processed, status, error, confidence, synthesis, target_price,
  instruments, research_data, processing_time_ms, tokens_used, cost_estimate, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
  title = EXCLUDED.title,
  processed = EXCLUDED.processed,
  status = EXCLUDED.status,
  error = EXCLUDED.error,
  confidence = EXCLUDED.confidence,
  synthesis = EXCLUDED.synthesis,
  target_price = EXCLUDED.target_price,
  instruments = EXCLUDED.instruments,
  research_data = EXCLUDED.research_data,
  processing_time_ms = EXCLUDED.processing_time_ms,
  tokens_used = EXCLUDED.tokens_used,
  cost_estimate = EXCLUDED.cost_estimate`,
		result.ID,
		CleanHypothesisTitle(result.ProcessedHypothesis),
		result.ProcessedHypothesis,
		result.Status,
		result.Error,
		result.ConfidenceScore,
		result.Synthesis,
		result.TargetPrice,
		instruments,
		research,
		result.ProcessingTime.Milliseconds(),
		result.TokensUsed,
		result.CostEstimate,
		result.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert hypothesis: %w", err)
	}

	// Re-saving replaces the derived rows wholesale.
	for _, table := range []string{"evidence", "alerts", "price_history"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE hypothesis_id = $1`, table), result.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	insertEvidence := func(items []core.EvidenceItem, polarity core.Polarity) error {
		for _, item := range items {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO evidence (hypothesis_id, polarity, quote, reason, source, strength)
VALUES ($1,$2,$3,$4,$5,$6)`,
				result.ID, string(polarity), item.Quote, item.Reason, item.Source, item.Strength); err != nil {
				return fmt.Errorf("insert evidence: %w", err)
			}
		}
		return nil
	}
	if err := insertEvidence(result.Contradictions, core.PolarityContradiction); err != nil {
		return err
	}
	if err := insertEvidence(result.Confirmations, core.PolarityConfirmation); err != nil {
		return err
	}

	for _, alert := range result.Alerts {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO alerts (hypothesis_id, type, message, priority, is_read, created_at)
VALUES ($1,$2,$3,$4,false,$5)`,
			result.ID, alert.Type, alert.Message, alert.Priority, result.CreatedAt); err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
	}

	if md, ok := result.ResearchData["market_data_search"]; ok {
		for _, point := range md.PriceHistory {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO price_history (hypothesis_id, symbol, date, price, volume)
VALUES ($1,$2,$3,$4,$5)`,
				result.ID, md.Instrument, point.Date, point.Price, point.Volume); err != nil {
				return fmt.Errorf("insert price point: %w", err)
			}
		}
	}

	return tx.Commit()
}

// GetResult reconstructs a stored pipeline result.
func (s *Store) GetResult(ctx context.Context, id string) (core.PipelineResult, error) {
	var (
		result       core.PipelineResult
		instrumentsB []byte
		researchB    []byte
		processingMs int64
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, processed, status, error, confidence, synthesis, target_price,
       instruments, research_data, processing_time_ms, tokens_used, cost_estimate, created_at
FROM hypotheses WHERE id = $1`, id).Scan(
		&result.ID, &result.ProcessedHypothesis, &result.Status, &result.Error,
		&result.ConfidenceScore, &result.Synthesis, &result.TargetPrice,
		&instrumentsB, &researchB, &processingMs, &result.TokensUsed,
		&result.CostEstimate, &result.CreatedAt,
	)
	if err != nil {
		return core.PipelineResult{}, err
	}
	result.ProcessingTime = time.Duration(processingMs) * time.Millisecond
	_ = json.Unmarshal(instrumentsB, &result.Instruments)
	_ = json.Unmarshal(researchB, &result.ResearchData)

	rows, err := s.DB.QueryContext(ctx, `
SELECT polarity, quote, reason, source, strength FROM evidence WHERE hypothesis_id = $1 ORDER BY id`, id)
	if err != nil {
		return core.PipelineResult{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var polarity string
		var item core.EvidenceItem
		if err := rows.Scan(&polarity, &item.Quote, &item.Reason, &item.Source, &item.Strength); err != nil {
			return core.PipelineResult{}, err
		}
		if polarity == string(core.PolarityContradiction) {
			result.Contradictions = append(result.Contradictions, item)
		} else {
			result.Confirmations = append(result.Confirmations, item)
		}
	}
	if err := rows.Err(); err != nil {
		return core.PipelineResult{}, err
	}

	alertRows, err := s.DB.QueryContext(ctx, `
SELECT type, message, priority FROM alerts WHERE hypothesis_id = $1 ORDER BY id`, id)
	if err != nil {
		return core.PipelineResult{}, err
	}
	defer alertRows.Close()
	for alertRows.Next() {
		var a core.Alert
		if err := alertRows.Scan(&a.Type, &a.Message, &a.Priority); err != nil {
			return core.PipelineResult{}, err
		}
		result.Alerts = append(result.Alerts, a)
	}
	return result, alertRows.Err()
}

// Dashboard summarizes stored analyses for the overview endpoint.
func (s *Store) Dashboard(ctx context.Context) (DashboardSummary, error) {
	var summary DashboardSummary
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE status = 'success'),
       COALESCE(AVG(confidence) FILTER (WHERE status = 'success'), 0)
FROM hypotheses`).Scan(&summary.TotalHypotheses, &summary.SuccessCount, &summary.AvgConfidence)
	if err != nil {
		return DashboardSummary{}, err
	}

	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE NOT is_read`).Scan(&summary.UnreadAlerts); err != nil {
		return DashboardSummary{}, err
	}

	rows, err := s.DB.QueryContext(ctx, `
SELECT id, title, status, confidence, created_at
FROM hypotheses ORDER BY created_at DESC LIMIT 10`)
	if err != nil {
		return DashboardSummary{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var h HypothesisSummary
		if err := rows.Scan(&h.ID, &h.Title, &h.Status, &h.Confidence, &h.CreatedAt); err != nil {
			return DashboardSummary{}, err
		}
		summary.Recent = append(summary.Recent, h)
	}
	return summary, rows.Err()
}

// ListAlerts returns alerts, optionally only unread ones, newest first.
func (s *Store) ListAlerts(ctx context.Context, unreadOnly bool) ([]StoredAlert, error) {
	q := `SELECT id, hypothesis_id, type, message, priority, is_read, created_at FROM alerts`
	if unreadOnly {
		q += ` WHERE NOT is_read`
	}
	q += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StoredAlert
	for rows.Next() {
		var a StoredAlert
		if err := rows.Scan(&a.ID, &a.HypothesisID, &a.Type, &a.Message, &a.Priority, &a.IsRead, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAlertRead flags one alert as read. Unknown ids return sql.ErrNoRows.
func (s *Store) MarkAlertRead(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE alerts SET is_read = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

var (
	metaPrefixPattern = regexp.MustCompile(`(?i)^(here is|here's|sure[,!]?|certainly[,!]?|below is)[^:]*:\s*`)
	labelPattern      = regexp.MustCompile(`(?i)^(processed |refined |structured )?hypothesis\s*:\s*`)
)

// CleanHypothesisTitle strips agent meta-prose, markdown fences and labels
// from a processed hypothesis so it reads as a plain title.
func CleanHypothesisTitle(s string) string {
	s = strings.TrimSpace(s)
	// Keep only the first line of multi-line agent output.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.Trim(s, "`*#")
	s = metaPrefixPattern.ReplaceAllString(s, "")
	s = labelPattern.ReplaceAllString(s, "")
	s = strings.Trim(s, `"' `)
	return s
}
