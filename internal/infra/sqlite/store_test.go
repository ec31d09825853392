package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// StoreTestSuite exercises the stores against a fresh in-memory database.
type StoreTestSuite struct {
	suite.Suite
	db       *DB
	users    *UserStore
	expenses *ExpenseStore
	insights *InsightStore
	ctx      context.Context
}

func (suite *StoreTestSuite) SetupTest() {
	db, err := Open(":memory:")
	require.NoError(suite.T(), err, "failed to create test database")
	suite.db = db
	suite.users = NewUserStore(db)
	suite.expenses = NewExpenseStore(db)
	suite.insights = NewInsightStore(db)
	suite.ctx = context.Background()
}

func (suite *StoreTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

func (suite *StoreTestSuite) newUser(name string) *domain.User {
	u, err := suite.users.SaveUser(suite.ctx, &domain.User{Username: name})
	require.NoError(suite.T(), err)
	return u
}

func (suite *StoreTestSuite) addExpense(userID, amount, date, category string) *domain.Expense {
	d, err := time.Parse(domain.DateLayout, date)
	require.NoError(suite.T(), err)
	e, err := suite.expenses.SaveExpense(suite.ctx, &domain.Expense{
		UserID:      userID,
		Amount:      decimal.RequireFromString(amount),
		Description: "test " + category,
		Category:    category,
		PayMethod:   "card",
		ExpenseDate: d,
	})
	require.NoError(suite.T(), err)
	return e
}

func (suite *StoreTestSuite) TestUserFindByID() {
	u := suite.newUser("alice")

	got, err := suite.users.FindByID(suite.ctx, u.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "alice", got.Username)

	_, err = suite.users.FindByID(suite.ctx, "00000000-0000-0000-0000-000000000000")
	var notFound *domain.ErrNotFound
	assert.True(suite.T(), errors.As(err, &notFound), "expected ErrNotFound, got %v", err)
}

func (suite *StoreTestSuite) TestFindAllInInsertionOrder() {
	a := suite.newUser("a")
	b := suite.newUser("b")

	users, err := suite.users.FindAll(suite.ctx)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), users, 2)
	assert.Equal(suite.T(), a.ID, users[0].ID)
	assert.Equal(suite.T(), b.ID, users[1].ID)
}

func (suite *StoreTestSuite) TestExpenseRoundTrip() {
	u := suite.newUser("bob")
	e := suite.addExpense(u.ID, "12.34", "2025-07-14", "food")

	got, err := suite.expenses.FindExpenseByID(suite.ctx, e.ID)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), got.Amount.Equal(decimal.RequireFromString("12.34")))
	assert.Equal(suite.T(), "2025-07-14", got.ExpenseDate.Format(domain.DateLayout))

	exists, err := suite.expenses.ExpenseExists(suite.ctx, e.ID)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), exists)

	require.NoError(suite.T(), suite.expenses.DeleteExpense(suite.ctx, e.ID))
	exists, err = suite.expenses.ExpenseExists(suite.ctx, e.ID)
	require.NoError(suite.T(), err)
	assert.False(suite.T(), exists)

	var notFound *domain.ErrNotFound
	assert.True(suite.T(), errors.As(suite.expenses.DeleteExpense(suite.ctx, e.ID), &notFound))
}

func (suite *StoreTestSuite) TestFindByUser() {
	u := suite.newUser("carol")
	other := suite.newUser("dave")
	suite.addExpense(u.ID, "1", "2025-07-20", "food")
	suite.addExpense(other.ID, "5", "2025-07-20", "food")
	suite.addExpense(u.ID, "2", "2025-07-01", "health")

	got, err := suite.expenses.FindByUser(suite.ctx, u.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), got, 2)
	assert.Equal(suite.T(), "food", got[0].Category, "insertion order")

	none, err := suite.expenses.FindByUser(suite.ctx, "unknown")
	require.NoError(suite.T(), err)
	assert.NotNil(suite.T(), none)
	assert.Empty(suite.T(), none)
}

func (suite *StoreTestSuite) TestSumEmptyIsZero() {
	start, _ := time.Parse(domain.DateLayout, "2025-01-01")
	end, _ := time.Parse(domain.DateLayout, "2025-12-31")

	sum, err := suite.expenses.SumByUserAndDateRange(suite.ctx, "nobody", start, end)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), sum.IsZero())
}

func (suite *StoreTestSuite) TestSumInclusiveAndExact() {
	u := suite.newUser("erin")
	suite.addExpense(u.ID, "0.10", "2025-07-14", "food") // start, included
	suite.addExpense(u.ID, "0.20", "2025-07-20", "food") // end, included
	suite.addExpense(u.ID, "100", "2025-07-13", "food")  // before
	suite.addExpense(u.ID, "100", "2025-07-21", "food")  // after

	start, _ := time.Parse(domain.DateLayout, "2025-07-14")
	end, _ := time.Parse(domain.DateLayout, "2025-07-20")

	sum, err := suite.expenses.SumByUserAndDateRange(suite.ctx, u.ID, start, end)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "0.3", sum.String())
}

func (suite *StoreTestSuite) TestInsightSaveAndList() {
	u := suite.newUser("frank")

	first, err := suite.insights.Save(suite.ctx, &domain.Insight{
		UserID:    u.ID,
		Label:     "Saver",
		CreatedAt: time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC),
	})
	require.NoError(suite.T(), err)
	assert.NotEmpty(suite.T(), first.ID)

	second, err := suite.insights.Save(suite.ctx, &domain.Insight{UserID: u.ID, Label: "Spender"})
	require.NoError(suite.T(), err)
	assert.False(suite.T(), second.CreatedAt.IsZero())

	list, err := suite.insights.ListByUser(suite.ctx, u.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), list, 2)
	assert.Equal(suite.T(), second.ID, list[0].ID, "newest first")
}

func (suite *StoreTestSuite) TestInsightRequiresExistingUser() {
	_, err := suite.insights.Save(suite.ctx, &domain.Insight{UserID: "ghost"})
	assert.Error(suite.T(), err)
}

func (suite *StoreTestSuite) TestInsightsAreAppendOnly() {
	u := suite.newUser("grace")
	in, err := suite.insights.Save(suite.ctx, &domain.Insight{UserID: u.ID, Label: "Saver"})
	require.NoError(suite.T(), err)

	_, err = suite.db.conn.ExecContext(suite.ctx, `UPDATE insights SET label = 'Spender' WHERE id = ?`, in.ID)
	require.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "append-only")

	list, err := suite.insights.ListByUser(suite.ctx, u.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), list, 1)
	assert.Equal(suite.T(), "Saver", list[0].Label)
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (suite *StoreTestSuite) TestWriteHooks() {
	u := suite.newUser("hook")
	var notified []string
	suite.expenses.OnWrite(func(userID string) { notified = append(notified, userID) })

	e := suite.addExpense(u.ID, "1", "2025-07-14", "food")
	require.NoError(suite.T(), suite.expenses.DeleteExpense(suite.ctx, e.ID))
	assert.Equal(suite.T(), []string{u.ID, u.ID}, notified)

	_ = suite.expenses.DeleteExpense(suite.ctx, e.ID)
	assert.Len(suite.T(), notified, 2, "a failed delete notifies no one")
}
