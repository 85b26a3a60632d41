package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/fridaylabs/token-market/internal/model"
	"github.com/fridaylabs/token-market/internal/utils"
)

// UserRepo persists application user accounts.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id, email, display_name, password_hash, role, is_active, created_at, updated_at"

// Create inserts a user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, email, displayName, password, role string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, display_name, password_hash, role) VALUES (?,?,?,?)",
		email, displayName, hash, role)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func scanUser(row interface{ Scan(...interface{}) error }) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash,
		&u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ? LIMIT 1", id))
}

// ListAll returns every user account, newest first.  Admin oversight
// only.
func (r *UserRepo) ListAll(ctx context.Context) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT " + userColumns + " FROM users ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
