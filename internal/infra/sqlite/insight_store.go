package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/domain"

	"github.com/google/uuid"
)

// InsightStore implements port.InsightStore. Rows are append-only; the
// schema rejects updates with a trigger.
type InsightStore struct {
	db *DB
}

// NewInsightStore creates an insight store on db.
func NewInsightStore(db *DB) *InsightStore {
	return &InsightStore{db: db}
}

// Save inserts insight, assigning ID and CreatedAt when absent. The user
// must exist.
func (s *InsightStore) Save(ctx context.Context, insight *domain.Insight) (*domain.Insight, error) {
	out := *insight
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO insights (id, user_id, label, trend, top_category, suggestions, anomalies, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.UserID, out.Label, out.Trend, out.TopCategory, out.Suggestions, out.Anomalies,
		formatTime(out.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting insight: %w", err)
	}
	return &out, nil
}

// ListByUser returns the user's insights, newest first.
func (s *InsightStore) ListByUser(ctx context.Context, userID string) ([]domain.Insight, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, user_id, label, trend, top_category, suggestions, anomalies, created_at
		FROM insights WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing insights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	insights := make([]domain.Insight, 0)
	for rows.Next() {
		var (
			in      domain.Insight
			created string
		)
		if err := rows.Scan(&in.ID, &in.UserID, &in.Label, &in.Trend, &in.TopCategory,
			&in.Suggestions, &in.Anomalies, &created); err != nil {
			return nil, fmt.Errorf("listing insights: %w", err)
		}
		if in.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("listing insights: %w", err)
		}
		insights = append(insights, in)
	}
	return insights, rows.Err()
}
