package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/tradesage-ai/tradesage/internal/agent/core"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func sampleResult() core.PipelineResult {
	return core.PipelineResult{
		ID:                  "hyp-1",
		ProcessedHypothesis: "Apple (AAPL) will reach $250 by Q2 2026",
		ConfidenceScore:     0.72,
		Synthesis:           "Balanced view with upside skew.",
		Status:              "success",
		TargetPrice:         250,
		Instruments:         []string{"AAPL"},
		Contradictions: []core.EvidenceItem{
			{Quote: "Valuation is stretched", Reason: "Market analysis challenges this thesis", Source: "Agent Analysis", Strength: "Medium"},
		},
		Confirmations: []core.EvidenceItem{
			{Quote: "Services revenue accelerating", Reason: "supports", Source: "Agent Analysis", Strength: "Strong"},
		},
		Alerts: []core.Alert{
			{Type: "confidence", Message: "High confidence", Priority: "high"},
			{Type: "recommendation", Message: "Buy", Priority: "medium"},
		},
		ResearchData: map[string]core.ToolResult{
			"market_data_search": {
				Status:     "success",
				Instrument: "AAPL",
				PriceHistory: []core.PricePoint{
					{Date: "2026-08-28", Price: 231.4, Volume: 100},
					{Date: "2026-08-29", Price: 233.1, Volume: 120},
				},
			},
		},
		ProcessingTime: 1500 * time.Millisecond,
		TokensUsed:     4200,
		CostEstimate:   0.031,
		CreatedAt:      time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestSaveResult(t *testing.T) {
	s, mock := newMockStore(t)
	result := sampleResult()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO hypotheses").
		WithArgs(result.ID, "Apple (AAPL) will reach $250 by Q2 2026", result.ProcessedHypothesis,
			"success", "", 0.72, result.Synthesis, 250.0,
			sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1500), int64(4200), 0.031, result.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM evidence").WithArgs(result.ID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM alerts").WithArgs(result.ID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM price_history").WithArgs(result.ID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO evidence").
		WithArgs(result.ID, "contradiction", "Valuation is stretched", "Market analysis challenges this thesis", "Agent Analysis", "Medium").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO evidence").
		WithArgs(result.ID, "confirmation", "Services revenue accelerating", "supports", "Agent Analysis", "Strong").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("INSERT INTO alerts").
		WithArgs(result.ID, "confidence", "High confidence", "high", result.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO alerts").
		WithArgs(result.ID, "recommendation", "Buy", "medium", result.CreatedAt).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("INSERT INTO price_history").
		WithArgs(result.ID, "AAPL", "2026-08-28", 231.4, int64(100)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO price_history").
		WithArgs(result.ID, "AAPL", "2026-08-29", 233.1, int64(120)).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveResult(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveResultRollsBackOnInsertError(t *testing.T) {
	s, mock := newMockStore(t)
	result := sampleResult()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO hypotheses").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	require.Error(t, s.SaveResult(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResult(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	instruments, _ := json.Marshal([]string{"AAPL"})
	research, _ := json.Marshal(map[string]core.ToolResult{})

	mock.ExpectQuery("SELECT id, processed, status").WithArgs("hyp-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "processed", "status", "error", "confidence", "synthesis", "target_price",
			"instruments", "research_data", "processing_time_ms", "tokens_used", "cost_estimate", "created_at",
		}).AddRow("hyp-1", "Apple (AAPL) will reach $250", "success", "", 0.72, "synthesis", 250.0,
			instruments, research, int64(1500), int64(4200), 0.031, created))
	mock.ExpectQuery("SELECT polarity, quote, reason").WithArgs("hyp-1").
		WillReturnRows(sqlmock.NewRows([]string{"polarity", "quote", "reason", "source", "strength"}).
			AddRow("contradiction", "q1", "r1", "Agent Analysis", "Medium").
			AddRow("confirmation", "q2", "r2", "Agent Analysis", "Strong"))
	mock.ExpectQuery("SELECT type, message, priority").WithArgs("hyp-1").
		WillReturnRows(sqlmock.NewRows([]string{"type", "message", "priority"}).
			AddRow("confidence", "High confidence", "high"))

	result, err := s.GetResult(context.Background(), "hyp-1")
	require.NoError(t, err)
	require.Equal(t, "hyp-1", result.ID)
	require.Equal(t, 1500*time.Millisecond, result.ProcessingTime)
	require.Equal(t, []string{"AAPL"}, result.Instruments)
	require.Len(t, result.Contradictions, 1)
	require.Len(t, result.Confirmations, 1)
	require.Equal(t, "q1", result.Contradictions[0].Quote)
	require.Len(t, result.Alerts, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResultNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, processed, status").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := s.GetResult(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDashboard(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\),`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "success", "avg"}).AddRow(5, 4, 0.66))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM alerts`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("SELECT id, title, status").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "status", "confidence", "created_at"}).
			AddRow("hyp-1", "Apple thesis", "success", 0.72, created))

	summary, err := s.Dashboard(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, summary.TotalHypotheses)
	require.Equal(t, 4, summary.SuccessCount)
	require.Equal(t, 0.66, summary.AvgConfidence)
	require.Equal(t, 3, summary.UnreadAlerts)
	require.Len(t, summary.Recent, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAlertsUnreadOnly(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("WHERE NOT is_read").
		WillReturnRows(sqlmock.NewRows([]string{"id", "hypothesis_id", "type", "message", "priority", "is_read", "created_at"}).
			AddRow(int64(1), "hyp-1", "risk", "Contradiction-heavy", "high", false, created))

	alerts, err := s.ListAlerts(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.False(t, alerts[0].IsRead)
}

func TestMarkAlertRead(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE alerts SET is_read").WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.MarkAlertRead(context.Background(), 7))
}

func TestMarkAlertReadNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE alerts SET is_read").WithArgs(int64(404)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, s.MarkAlertRead(context.Background(), 404), sql.ErrNoRows)
}

func TestCleanHypothesisTitle(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Apple (AAPL) will reach $250", "Apple (AAPL) will reach $250"},
		{"Here is the refined hypothesis: Apple (AAPL) will reach $250", "Apple (AAPL) will reach $250"},
		{"Hypothesis: TSLA rallies into year end", "TSLA rallies into year end"},
		{"Processed hypothesis: \"Gold breaks $3000\"", "Gold breaks $3000"},
		{"**Bold claim**\nwith trailing analysis paragraphs", "Bold claim"},
		{"  `code-fenced title`  ", "code-fenced title"},
	}
	for _, tc := range cases {
		if got := CleanHypothesisTitle(tc.in); got != tc.want {
			t.Fatalf("CleanHypothesisTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
