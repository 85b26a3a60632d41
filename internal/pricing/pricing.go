// Package pricing computes token prices and the Friday-calendar
// figures the market endpoints report.  Prices grow 10% per year from
// a fixed base; a marketplace-wide override price, when configured in
// settings, takes precedence and is applied by the caller.
package pricing

import (
	"math"
	"time"
)

const (
	// BaseYear is the first sale year of the marketplace.
	BaseYear = 2025
	// BasePriceEUR is the token price in BaseYear.
	BasePriceEUR = 450
	// growthRate is the year-over-year price multiplier.
	growthRate = 1.1
)

// saleTimeZone is the reference market time zone for "is it Friday"
// decisions.  Tokens are themed around Friday call sales, so the
// calendar is evaluated where the marketplace operates.
const saleTimeZone = "Europe/Bratislava"

// PriceForYear returns the token price for the given issue year,
// rounded to two decimals: BasePriceEUR compounded by 10% for each
// year past BaseYear.  Years before BaseYear discount by the same
// rate.
func PriceForYear(year int) float64 {
	diff := year - BaseYear
	price := BasePriceEUR * math.Pow(growthRate, float64(diff))
	return math.Round(price*100) / 100
}

// Resolve picks the effective token price: the explicit override when
// present (the settings row), otherwise the year formula.
func Resolve(override *float64, year int) float64 {
	if override != nil && *override > 0 {
		return *override
	}
	return PriceForYear(year)
}

// marketLocation loads the sale time zone, falling back to UTC when
// the zone database is unavailable.
func marketLocation() *time.Location {
	loc, err := time.LoadLocation(saleTimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsSaleFriday reports whether the given instant falls on a Friday in
// the market time zone.
func IsSaleFriday(now time.Time) bool {
	return now.In(marketLocation()).Weekday() == time.Friday
}

// CountFridays returns the number of Fridays in the given year in the
// market time zone.
func CountFridays(year int) int {
	loc := marketLocation()
	// Noon avoids any DST edge around midnight when stepping by days.
	d := time.Date(year, time.January, 1, 12, 0, 0, 0, loc)
	count := 0
	for d.Year() == year {
		if d.Weekday() == time.Friday {
			count++
		}
		d = d.AddDate(0, 0, 1)
	}
	return count
}
