package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/domain"
	"github.com/boddenberg/fintrack-insights/internal/period"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const expenseColumns = `id, user_id, amount, description, category, pay_method, expense_date, created_at, updated_at`

// ExpenseStore implements port.ExpenseStore plus the CRUD operations the
// rest of the tracker performs on expenses.
type ExpenseStore struct {
	db      *DB
	onWrite []func(userID string)
}

// NewExpenseStore creates an expense store on db.
func NewExpenseStore(db *DB) *ExpenseStore {
	return &ExpenseStore{db: db}
}

// OnWrite registers fn to run after an expense of userID is saved or
// deleted. Register hooks before the store is shared.
func (s *ExpenseStore) OnWrite(fn func(userID string)) {
	s.onWrite = append(s.onWrite, fn)
}

func (s *ExpenseStore) notify(userID string) {
	for _, fn := range s.onWrite {
		fn(userID)
	}
}

// SaveExpense inserts or replaces an expense. ID, CreatedAt and UpdatedAt
// are filled in when absent.
func (s *ExpenseStore) SaveExpense(ctx context.Context, e *domain.Expense) (*domain.Expense, error) {
	out := *e
	now := time.Now().UTC()
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	out.ExpenseDate = period.Date(out.ExpenseDate)

	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO expenses (`+expenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			description = excluded.description,
			category = excluded.category,
			pay_method = excluded.pay_method,
			expense_date = excluded.expense_date,
			updated_at = excluded.updated_at`,
		out.ID, out.UserID, out.Amount, out.Description, out.Category, out.PayMethod,
		out.ExpenseDate.Format(domain.DateLayout), formatTime(out.CreatedAt), formatTime(out.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("saving expense: %w", err)
	}
	s.notify(out.UserID)
	return &out, nil
}

// FindExpenseByID returns the expense or *domain.ErrNotFound.
func (s *ExpenseStore) FindExpenseByID(ctx context.Context, id string) (*domain.Expense, error) {
	row := s.db.conn.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)

	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "expense", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("reading expense: %w", err)
	}
	return e, nil
}

// ExpenseExists reports whether an expense with id exists.
func (s *ExpenseStore) ExpenseExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM expenses WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking expense: %w", err)
	}
	return n > 0, nil
}

// DeleteExpense removes an expense. Deleting a missing expense is
// *domain.ErrNotFound.
func (s *ExpenseStore) DeleteExpense(ctx context.Context, id string) error {
	var userID string
	err := s.db.conn.QueryRowContext(ctx,
		`DELETE FROM expenses WHERE id = ? RETURNING user_id`, id).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ErrNotFound{Resource: "expense", ID: id}
	}
	if err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	s.notify(userID)
	return nil
}

// FindByUser returns the user's expenses in insertion order. An unknown
// user yields an empty slice.
func (s *ExpenseStore) FindByUser(ctx context.Context, userID string) ([]domain.Expense, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE user_id = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	expenses := make([]domain.Expense, 0)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("listing expenses: %w", err)
		}
		expenses = append(expenses, *e)
	}
	return expenses, rows.Err()
}

// SumByUserAndDateRange sums amounts dated within [start, end]. Summation
// happens in decimal arithmetic; no rows gives zero.
func (s *ExpenseStore) SumByUserAndDateRange(ctx context.Context, userID string, start, end time.Time) (decimal.Decimal, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT amount FROM expenses WHERE user_id = ? AND expense_date BETWEEN ? AND ?`,
		userID, start.Format(domain.DateLayout), end.Format(domain.DateLayout),
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("summing expenses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("summing expenses: %w", err)
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}

func scanExpense(sc scanner) (*domain.Expense, error) {
	var (
		e                      domain.Expense
		date, created, updated string
	)
	if err := sc.Scan(&e.ID, &e.UserID, &e.Amount, &e.Description, &e.Category, &e.PayMethod,
		&date, &created, &updated); err != nil {
		return nil, err
	}

	var err error
	if e.ExpenseDate, err = time.Parse(domain.DateLayout, date); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &e, nil
}
