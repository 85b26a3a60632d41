package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/fridaylabs/token-market/internal/config"
	"github.com/fridaylabs/token-market/internal/database"
	"github.com/fridaylabs/token-market/internal/handler"
	"github.com/fridaylabs/token-market/internal/payment"
	"github.com/fridaylabs/token-market/internal/push"
	"github.com/fridaylabs/token-market/internal/queue"
	"github.com/fridaylabs/token-market/internal/repository"
	"github.com/fridaylabs/token-market/internal/router"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env vars win

	cfg := config.Load()

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient() // nil when Redis is unreachable; middleware degrades

	users := repository.NewUserRepo(db)
	refresh := repository.NewRefreshTokenRepo(db)
	tokens := repository.NewTokenRepo(db)
	transactions := repository.NewTransactionRepo(db)
	listings := repository.NewListingRepo(db)
	calls := repository.NewCallRepo(db)
	devices := repository.NewDeviceRepo(db)
	payments := repository.NewPaymentRepo(db)
	settings := repository.NewSettingsRepo(db)

	var gateway handler.CheckoutGateway
	if stripe := payment.NewClientFromEnv(cfg.FrontendURL); stripe != nil {
		gateway = stripe
	} else {
		log.Println("payments: STRIPE_SECRET_KEY not set, checkout disabled")
	}

	apns, err := push.NewClientFromEnv()
	if err != nil {
		log.Fatalf("push: %v", err)
	}
	if apns == nil {
		log.Println("push: APNS_KEY_PATH not set, VoIP delivery disabled")
	}

	// Background consumer delivers the pushes; a nil client keeps the
	// audit-log behavior only.
	go func() {
		var sender queue.PushSender
		if apns != nil {
			sender = apns
		}
		if err := queue.StartCallConsumer(sender); err != nil {
			log.Printf("call-consumer: %v", err)
		}
	}()

	h := router.Handlers{
		Auth:         handler.NewAuthHandler(cfg, users, refresh),
		Market:       handler.NewMarketHandler(listings, tokens, settings),
		Tokens:       handler.NewTokenHandler(cfg, tokens, transactions, settings),
		Listings:     handler.NewListingHandler(cfg, listings, tokens, transactions),
		Calls:        handler.NewCallHandler(calls, tokens, devices, users, transactions),
		Transactions: handler.NewTransactionHandler(transactions),
		Payments:     handler.NewPaymentHandler(cfg, gateway, payments, tokens, transactions, settings),
		Devices:      handler.NewDeviceHandler(devices),
		Admin:        handler.NewAdminHandler(cfg, tokens, transactions, users, payments, settings),
	}

	e := echo.New()
	e.HideBanner = true
	router.Register(e, cfg, h, rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
