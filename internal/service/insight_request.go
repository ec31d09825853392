package service

import (
	"encoding/json"

	"github.com/boddenberg/fintrack-insights/internal/domain"
)

// BuildInsightRequests projects expenses into the analysis engine's input
// records, keeping their order. Amounts keep their exact decimal text.
// The result is never nil so it always encodes as a JSON array.
func BuildInsightRequests(expenses []domain.Expense) []domain.InsightRequest {
	out := make([]domain.InsightRequest, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, domain.InsightRequest{
			UserID:      e.UserID,
			Amount:      json.Number(e.Amount.String()),
			Description: e.Description,
			Category:    e.Category,
			PayMethod:   e.PayMethod,
			ExpenseDate: e.ExpenseDate.Format(domain.DateLayout),
		})
	}
	return out
}
