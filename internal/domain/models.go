// Package domain defines the core business entities for the expense
// analytics service. These models are independent of storage and transport
// and represent the canonical data structures used throughout the service.
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used on every wire and in storage.
const DateLayout = "2006-01-02"

// ============================================================
// Users / Expenses (owned by the CRUD path, consumed here)
// ============================================================

// User is the owner of expenses and insights.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Expense is a single dated spend. ExpenseDate carries no time of day.
type Expense struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	PayMethod   string          `json:"pay_method"`
	ExpenseDate time.Time       `json:"expense_date"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ============================================================
// Insights
// ============================================================

// Insight is a persisted, append-only summary of one analysis run.
// Suggestions and Anomalies hold canonical JSON text ("" when absent).
type Insight struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Label       string    `json:"label"`
	Trend       string    `json:"trend"`
	TopCategory string    `json:"top_category"`
	Suggestions string    `json:"suggestions"`
	Anomalies   string    `json:"anomalies"`
	CreatedAt   time.Time `json:"created_at"`
}

// InsightRequest is the flat projection of one expense sent to the analysis engine.
type InsightRequest struct {
	UserID      string      `json:"user_id"`
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	PayMethod   string      `json:"pay_method"`
	ExpenseDate string      `json:"expense_date"`
}

// InsightResult is the analysis engine's response. Raw is the exact text
// produced by the engine; the remaining fields are parsed from it.
type InsightResult struct {
	Raw         string
	Label       string
	Trend       string
	TopCategory string
	Suggestions json.RawMessage
	Anomalies   json.RawMessage
}

// ============================================================
// Aggregation
// ============================================================

// PeriodSummary holds the current week, month and year-to-date totals.
type PeriodSummary struct {
	UserID string          `json:"user_id"`
	Week   decimal.Decimal `json:"week"`
	Month  decimal.Decimal `json:"month"`
	Year   decimal.Decimal `json:"year"`
	AsOf   string          `json:"as_of"`
}

// ============================================================
// Batch runs
// ============================================================

// UserResult is the outcome of the insight pipeline for one user in a batch run.
type UserResult struct {
	UserID    string `json:"user_id"`
	InsightID string `json:"insight_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// OK reports whether the user's insight was recorded.
func (r UserResult) OK() bool { return r.Error == "" }

// BatchReport summarizes one pass over all users.
type BatchReport struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Results    []UserResult `json:"results"`
	Error      string       `json:"error,omitempty"`
}
