package repository

import (
	"context"
	"database/sql"

	"github.com/fridaylabs/token-market/internal/model"
)

// SettingsRepo reads and writes the single marketplace settings row.
// The row may be absent on a fresh database; Get returns an empty
// Settings in that case so pricing falls through to the year formula.
type SettingsRepo struct {
	DB *sql.DB
}

// NewSettingsRepo returns a new SettingsRepo bound to the given
// database.
func NewSettingsRepo(db *sql.DB) *SettingsRepo { return &SettingsRepo{DB: db} }

// Get returns the settings row.  A missing row is not an error.
func (r *SettingsRepo) Get(ctx context.Context) (model.Settings, error) {
	var s model.Settings
	var price sql.NullFloat64
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, current_price_eur, updated_at FROM settings WHERE id = 1").
		Scan(&s.ID, &price, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.Settings{}, nil
	}
	if err != nil {
		return model.Settings{}, err
	}
	if price.Valid {
		p := price.Float64
		s.CurrentPriceEUR = &p
	}
	return s, nil
}

// SetCurrentPrice upserts the global current token price.
func (r *SettingsRepo) SetCurrentPrice(ctx context.Context, priceEUR float64) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO settings (id, current_price_eur) VALUES (1, ?) ON DUPLICATE KEY UPDATE current_price_eur = VALUES(current_price_eur)",
		priceEUR)
	return err
}
