package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/domain"

	"github.com/google/uuid"
)

// UserStore implements port.UserStore.
type UserStore struct {
	db *DB
}

// NewUserStore creates a user store on db.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// SaveUser inserts a user, assigning an ID and CreatedAt when absent.
func (s *UserStore) SaveUser(ctx context.Context, u *domain.User) (*domain.User, error) {
	out := *u
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)`,
		out.ID, out.Username, formatTime(out.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return &out, nil
}

// FindByID returns the user or *domain.ErrNotFound.
func (s *UserStore) FindByID(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.conn.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE id = ?`, userID)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("reading user: %w", err)
	}
	return u, nil
}

// FindAll returns every user in insertion order.
func (s *UserStore) FindAll(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, username, created_at FROM users ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	users := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("listing users: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (*domain.User, error) {
	var (
		u       domain.User
		created string
	)
	if err := sc.Scan(&u.ID, &u.Username, &created); err != nil {
		return nil, err
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = t
	return &u, nil
}
