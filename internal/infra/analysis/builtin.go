package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/domain"
	"github.com/boddenberg/fintrack-insights/internal/infra/observability"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// Answer for an empty request list.
const noDataResponse = `{"label":"No data","trend":"No data available for analysis.","topCategory":"None","suggestions":[],"anomalies":[]}`

// Spending profile labels.
const (
	LabelSaver    = "Saver"
	LabelBalanced = "Balanced"
	LabelSpender  = "Spender"
)

const (
	trendIncreasing = "Your expenses are increasing over time. Review your budget."
	trendDecreasing = "Your expenses are decreasing. Great job!"
	trendStable     = "Your expenses are stable."

	anomalyZScore = 2.0
)

var (
	essentialCategories = map[string]bool{"food": true, "utilities": true, "health": true}

	discretionaryCategories = map[string]bool{
		"entertainment": true,
		"gifts":         true,
		"miscellaneous": true,
		"subscriptions": true,
		"items":         true,
	}
)

// Builtin computes insights in-process. It answers with the same JSON shape
// as the external analysis program, so results flow through ParseResult.
type Builtin struct {
	metrics *observability.Metrics
}

// NewBuiltin creates the in-process engine.
func NewBuiltin(metrics *observability.Metrics) *Builtin {
	return &Builtin{metrics: metrics}
}

type builtinAnomaly struct {
	ExpenseDate string      `json:"expense_date"`
	Amount      json.Number `json:"amount"`
	Category    string      `json:"category"`
	Description string      `json:"description"`
}

type builtinResponse struct {
	UserID      string           `json:"userId"`
	TopCategory string           `json:"topCategory"`
	Label       string           `json:"label"`
	Trend       string           `json:"trend"`
	Suggestions []string         `json:"suggestions"`
	Anomalies   []builtinAnomaly `json:"anomalies"`
}

// parsedExpense is an InsightRequest with its amount and date decoded.
type parsedExpense struct {
	req    domain.InsightRequest
	amount decimal.Decimal
	date   time.Time
	dated  bool
}

// ComputeInsight implements port.InsightEngine.
func (b *Builtin) ComputeInsight(ctx context.Context, requests []domain.InsightRequest) (*domain.InsightResult, error) {
	_, span := tracer.Start(ctx, "Builtin.ComputeInsight")
	defer span.End()
	span.SetAttributes(attribute.Int("analysis.request_count", len(requests)))

	start := time.Now()
	defer func() { b.metrics.RecordRequestDuration("analysis.builtin", time.Since(start)) }()

	if len(requests) == 0 {
		b.metrics.IncrAnalysis(observability.AnalysisSuccess)
		return ParseResult([]byte(noDataResponse))
	}

	expenses := make([]parsedExpense, 0, len(requests))
	for i, r := range requests {
		amount, err := decimal.NewFromString(r.Amount.String())
		if err != nil {
			b.metrics.IncrAnalysis(observability.AnalysisMalformed)
			return nil, &domain.ErrValidation{Field: fmt.Sprintf("requests[%d].amount", i), Message: err.Error()}
		}
		p := parsedExpense{req: r, amount: amount}
		if d, err := time.Parse(domain.DateLayout, r.ExpenseDate); err == nil {
			p.date, p.dated = d, true
		}
		expenses = append(expenses, p)
	}

	out, err := json.Marshal(analyze(expenses))
	if err != nil {
		b.metrics.IncrAnalysis(observability.AnalysisMalformed)
		return nil, malformed(err)
	}
	b.metrics.IncrAnalysis(observability.AnalysisSuccess)
	return ParseResult(out)
}

func analyze(expenses []parsedExpense) builtinResponse {
	total := decimal.Zero
	essential := decimal.Zero
	for _, e := range expenses {
		total = total.Add(e.amount)
		if essentialCategories[e.req.Category] {
			essential = essential.Add(e.amount)
		}
	}

	// The essentials ratio is undefined when nothing was spent.
	ratioKnown := !total.IsZero()
	var essRatio float64
	if ratioKnown {
		essRatio = essential.Div(total).InexactFloat64()
	}

	avg := total.Div(decimal.NewFromInt(int64(len(expenses)))).InexactFloat64()
	label := LabelBalanced
	switch {
	case ratioKnown && avg < 10000 && essRatio > 0.7:
		label = LabelSaver
	case ratioKnown && avg > 20000 && essRatio < 0.5:
		label = LabelSpender
	}

	slope := monthlySlope(expenses)
	trend := trendStable
	switch {
	case slope > 0:
		trend = trendIncreasing
	case slope < 0:
		trend = trendDecreasing
	}

	anomalies := findAnomalies(expenses)
	top := topCategory(expenses)

	suggestions := make([]string, 0)
	if discretionaryCategories[top] {
		suggestions = append(suggestions, fmt.Sprintf("You seem to spend a lot on %s. Consider setting a monthly limit for this category.", top))
	}
	if ratioKnown && 1-essRatio > 0.5 {
		suggestions = append(suggestions, "Over half of your spending goes to non-essentials. Consider prioritizing savings or reducing discretionary purchases.")
	}
	if s, ok := payMethodSuggestion(expenses); ok {
		suggestions = append(suggestions, s)
	}
	if len(anomalies) > 2 {
		suggestions = append(suggestions, fmt.Sprintf("We noticed %d irregular transactions. Review these to ensure they were intentional.", len(anomalies)))
	}
	if busyDays(expenses) > 5 {
		suggestions = append(suggestions, "You're making frequent small purchases. Try combining or planning ahead to reduce impulse buys.")
	}
	switch {
	case label == LabelSaver && slope <= 0:
		suggestions = append(suggestions, "Excellent financial behavior! You're spending wisely and consistently.")
	case label == LabelBalanced && slope <= 0:
		suggestions = append(suggestions, "Great job maintaining a stable budget across categories.")
	}
	if len(suggestions) == 0 {
		suggestions = append(suggestions, "You're doing well! Continue tracking and refining your spending habits.")
	}

	return builtinResponse{
		UserID:      expenses[0].req.UserID,
		TopCategory: top,
		Label:       label,
		Trend:       trend,
		Suggestions: suggestions,
		Anomalies:   anomalies,
	}
}

// monthlySlope fits a least-squares line through monthly totals, with the
// months in calendar order at x = 0, 1, 2, ...
func monthlySlope(expenses []parsedExpense) float64 {
	totals := make(map[string]decimal.Decimal)
	for _, e := range expenses {
		if !e.dated {
			continue
		}
		key := e.date.Format("2006-01")
		totals[key] = totals[key].Add(e.amount)
	}
	if len(totals) < 2 {
		return 0
	}

	months := make([]string, 0, len(totals))
	for m := range totals {
		months = append(months, m)
	}
	sort.Strings(months)

	n := float64(len(months))
	var sumY float64
	ys := make([]float64, len(months))
	for i, m := range months {
		ys[i] = totals[m].InexactFloat64()
		sumY += ys[i]
	}
	meanX := (n - 1) / 2
	meanY := sumY / n

	var num, den float64
	for i, y := range ys {
		dx := float64(i) - meanX
		num += dx * (y - meanY)
		den += dx * dx
	}
	return num / den
}

// findAnomalies flags amounts more than two population standard deviations
// from the mean, in input order.
func findAnomalies(expenses []parsedExpense) []builtinAnomaly {
	out := make([]builtinAnomaly, 0)
	if len(expenses) < 2 {
		return out
	}

	values := make([]float64, len(expenses))
	var sum float64
	for i, e := range expenses {
		values[i] = e.amount.InexactFloat64()
		sum += values[i]
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(len(values)))
	if std == 0 {
		return out
	}

	for i, e := range expenses {
		if math.Abs(values[i]-mean)/std <= anomalyZScore {
			continue
		}
		date := e.req.ExpenseDate
		if e.dated {
			date = e.date.Format("2006-01-02T15:04:05")
		}
		out = append(out, builtinAnomaly{
			ExpenseDate: date,
			Amount:      json.Number(e.amount.String()),
			Category:    e.req.Category,
			Description: e.req.Description,
		})
	}
	return out
}

// topCategory returns the category with the largest total. Ties go to the
// alphabetically first category.
func topCategory(expenses []parsedExpense) string {
	totals := make(map[string]decimal.Decimal)
	for _, e := range expenses {
		totals[e.req.Category] = totals[e.req.Category].Add(e.amount)
	}

	categories := make([]string, 0, len(totals))
	for c := range totals {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	best := categories[0]
	for _, c := range categories[1:] {
		if totals[c].GreaterThan(totals[best]) {
			best = c
		}
	}
	return best
}

func payMethodSuggestion(expenses []parsedExpense) (string, bool) {
	counts := make(map[string]int)
	known := 0
	for _, e := range expenses {
		if e.req.PayMethod == "" {
			continue
		}
		counts[e.req.PayMethod]++
		known++
	}
	if known == 0 {
		return "", false
	}

	share := func(method string) float64 { return float64(counts[method]) / float64(known) }
	switch {
	case share("cash") > 0.6:
		return "You mostly use cash. Switching to digital payments (UPI/Card) can help you track expenses more easily.", true
	case share("upi") > 0.7:
		return "You're doing well using UPI, it's easier to track and manage compared to cash.", true
	}
	return "", false
}

// busyDays counts the dates with more than three expenses.
func busyDays(expenses []parsedExpense) int {
	perDay := make(map[time.Time]int)
	for _, e := range expenses {
		if e.dated {
			perDay[e.date]++
		}
	}
	n := 0
	for _, c := range perDay {
		if c > 3 {
			n++
		}
	}
	return n
}
