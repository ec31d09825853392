// Package period holds the calendar arithmetic behind spending aggregation:
// current-period boundaries and week/month bucketing of dated amounts.
//
// Dates are treated as already localized. Only the wall-clock year, month
// and day of a time.Time are read; no timezone conversion happens here.
package period

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/domain"

	"github.com/shopspring/decimal"
)

// Kind selects a current-period range.
type Kind string

const (
	Week  Kind = "week"
	Month Kind = "month"
	Year  Kind = "year"
)

// weekRangeSep separates the two ends of a weekly bucket label (en dash).
const weekRangeSep = " – "

// Date truncates t to its calendar date at 00:00 UTC.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// WeekStart returns the Monday on or before d.
func WeekStart(d time.Time) time.Time {
	d = Date(d)
	offset := (int(d.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return d.AddDate(0, 0, -offset)
}

// Range returns the inclusive [start, end] range of the period of the given
// kind that contains today. end is always today.
func Range(today time.Time, kind Kind) (start, end time.Time, err error) {
	end = Date(today)
	switch kind {
	case Week:
		start = WeekStart(end)
	case Month:
		start = time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Year:
		start = time.Date(end.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}, time.Time{}, &domain.ErrValidation{Field: "period", Message: "must be one of week, month, year"}
	}
	return start, end, nil
}

// Entry is a dated amount to be bucketed.
type Entry struct {
	Date   time.Time
	Amount decimal.Decimal
}

// Entries projects expenses into bucketable entries.
func Entries(expenses []domain.Expense) []Entry {
	out := make([]Entry, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, Entry{Date: e.ExpenseDate, Amount: e.Amount})
	}
	return out
}

// MonthLabel is the upper-case three letter abbreviation of d's month.
// The year is deliberately not part of the label.
func MonthLabel(d time.Time) string {
	return strings.ToUpper(d.Month().String()[:3])
}

// WeekLabel formats the Monday-to-Sunday week containing d, e.g. "Jul 14 – Jul 20".
func WeekLabel(d time.Time) string {
	start := WeekStart(d)
	return start.Format("Jan 2") + weekRangeSep + start.AddDate(0, 0, 6).Format("Jan 2")
}

// Monthly sums entries per month label. Entries from different years in the
// same month share one bucket.
func Monthly(entries []Entry) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, e := range entries {
		label := MonthLabel(e.Date)
		out[label] = out[label].Add(e.Amount)
	}
	return out
}

// Bucket is one labeled accumulation of amounts.
type Bucket struct {
	Label  string
	Start  time.Time
	Amount decimal.Decimal
}

// Breakdown is an ordered list of buckets with unique labels.
type Breakdown []Bucket

// Weekly sums entries per Monday-based week, ascending by week start.
func Weekly(entries []Entry) Breakdown {
	index := make(map[time.Time]int)
	out := make(Breakdown, 0)
	for _, e := range entries {
		start := WeekStart(e.Date)
		i, ok := index[start]
		if !ok {
			i = len(out)
			index[start] = i
			out = append(out, Bucket{Label: WeekLabel(start), Start: start})
		}
		out[i].Amount = out[i].Amount.Add(e.Amount)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Total sums every bucket.
func (b Breakdown) Total() decimal.Decimal {
	total := decimal.Zero
	for _, bucket := range b {
		total = total.Add(bucket.Amount)
	}
	return total
}

// MarshalJSON encodes the breakdown as a JSON object whose keys keep the
// breakdown's order. Amounts are emitted as exact JSON numbers.
func (b Breakdown) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, bucket := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(bucket.Label)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(bucket.Amount.String())
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
