package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriceForYear(t *testing.T) {
	cases := []struct {
		year int
		want float64
	}{
		{2025, 450},
		{2026, 495},
		{2027, 544.5},
		{2028, 598.95},
		{2030, 724.73},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, PriceForYear(tc.year), "year %d", tc.year)
	}
}

func TestResolve(t *testing.T) {
	override := 399.99
	assert.Equal(t, 399.99, Resolve(&override, 2026), "override wins over the formula")
	assert.Equal(t, 495.0, Resolve(nil, 2026), "nil override falls back to the formula")
}

func TestCountFridays(t *testing.T) {
	cases := []struct {
		year int
		want int
	}{
		{2025, 52},
		{2026, 52},
		{2027, 53}, // starts on a Friday
		{2028, 52},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CountFridays(tc.year), "year %d", tc.year)
	}
}

func TestIsSaleFriday(t *testing.T) {
	friday := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	saturday := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	assert.True(t, IsSaleFriday(friday))
	assert.False(t, IsSaleFriday(saturday))
}
