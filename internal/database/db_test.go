package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fridaylabs/token-market/internal/config"
)

func TestBuildDSN(t *testing.T) {
	cfg := config.Config{
		DBUser: "market",
		DBPass: "s3cret",
		DBHost: "db.internal",
		DBPort: "3306",
		DBName: "tokenmarket",
	}
	assert.Equal(t,
		"market:s3cret@tcp(db.internal:3306)/tokenmarket?charset=utf8mb4&parseTime=true&loc=UTC",
		buildDSN(cfg))
}

func TestBuildDSNEmptyPassword(t *testing.T) {
	cfg := config.Config{
		DBUser: "market",
		DBHost: "127.0.0.1",
		DBPort: "3306",
		DBName: "tokenmarket",
	}
	assert.Equal(t,
		"market@tcp(127.0.0.1:3306)/tokenmarket?charset=utf8mb4&parseTime=true&loc=UTC",
		buildDSN(cfg))
}
