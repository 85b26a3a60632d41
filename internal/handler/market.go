package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fridaylabs/token-market/internal/pricing"
	"github.com/fridaylabs/token-market/internal/repository"
)

// MarketHandler serves the public, unauthenticated marketplace views.
// These endpoints sit behind the Redis response cache.
type MarketHandler struct {
	Listings *repository.ListingRepo
	Tokens   *repository.TokenRepo
	Settings *repository.SettingsRepo
}

func NewMarketHandler(listings *repository.ListingRepo, tokens *repository.TokenRepo, settings *repository.SettingsRepo) *MarketHandler {
	if listings == nil || tokens == nil || settings == nil {
		panic("nil repository passed to NewMarketHandler")
	}
	return &MarketHandler{Listings: listings, Tokens: tokens, Settings: settings}
}

// BrowseListings handles GET /v1/market/listings and returns all open
// listings, newest first.
func (h *MarketHandler) BrowseListings(c echo.Context) error {
	items, err := h.Listings.ListOpen(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load listings"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Supply handles GET /v1/market/supply.  It reports token counts by
// status plus the current price for this year's tokens.
func (h *MarketHandler) Supply(c echo.Context) error {
	ctx := c.Request().Context()
	supply, err := h.Tokens.SupplyCounts(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to count tokens"})
	}
	settings, err := h.Settings.Get(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load settings failed"})
	}
	year := time.Now().UTC().Year()
	return c.JSON(http.StatusOK, echo.Map{
		"supply":            supply,
		"current_price_eur": pricing.Resolve(settings.CurrentPriceEUR, year),
		"year":              year,
	})
}

// Price handles GET /v1/market/price?year=.  It quotes the token price
// for the requested year (defaulting to the current one) along with
// sale-day calendar context.
func (h *MarketHandler) Price(c echo.Context) error {
	year := time.Now().UTC().Year()
	if raw := c.QueryParam("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < pricing.BaseYear {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid year"})
		}
		year = parsed
	}
	settings, err := h.Settings.Get(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load settings failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"year":            year,
		"price_eur":       pricing.Resolve(settings.CurrentPriceEUR, year),
		"list_price_eur":  pricing.PriceForYear(year),
		"is_sale_friday":  pricing.IsSaleFriday(time.Now()),
		"fridays_in_year": pricing.CountFridays(year),
	})
}
