package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/fridaylabs/token-market/internal/config"
)

const pingTimeout = 5 * time.Second

// Open connects to MySQL with the pool sized from config and verifies
// the connection with a ping before returning it.
func Open(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", buildDSN(cfg))
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.DBMaxOpen)
	db.SetMaxIdleConns(cfg.DBMaxIdle)
	db.SetConnMaxLifetime(time.Duration(cfg.DBConnLifeMin) * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// buildDSN assembles the driver DSN.  parseTime maps DATETIME columns
// to time.Time and loc=UTC keeps every scanned timestamp in UTC, which
// the ledger and call-duration math rely on.
func buildDSN(cfg config.Config) string {
	auth := cfg.DBUser
	if cfg.DBPass != "" {
		auth = fmt.Sprintf("%s:%s", cfg.DBUser, cfg.DBPass)
	}
	return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, cfg.DBHost, cfg.DBPort, cfg.DBName)
}
