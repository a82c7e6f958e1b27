package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/import-brokerage/internal/config"
	"github.com/iliyamo/import-brokerage/internal/credential"
	"github.com/iliyamo/import-brokerage/internal/database"
	"github.com/iliyamo/import-brokerage/internal/handler"
	"github.com/iliyamo/import-brokerage/internal/logger"
	"github.com/iliyamo/import-brokerage/internal/middleware"
	"github.com/iliyamo/import-brokerage/internal/notify"
	"github.com/iliyamo/import-brokerage/internal/order"
	"github.com/iliyamo/import-brokerage/internal/otp"
	"github.com/iliyamo/import-brokerage/internal/payment"
	"github.com/iliyamo/import-brokerage/internal/queue"
	"github.com/iliyamo/import-brokerage/internal/repository"
	"github.com/iliyamo/import-brokerage/internal/router"
	queue_publisher "github.com/iliyamo/import-brokerage/internal/service"
	"github.com/iliyamo/import-brokerage/internal/utils"
)

func main() {
	_ = godotenv.Load() // .env is optional; real environment wins
	cfg := config.Load()
	log := logger.New()
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalw("mysql connect failed", "error", err)
	}
	defer db.Close()

	rdb, err := config.OpenRedis(ctx)
	if err != nil {
		log.Fatalw("redis connect failed", "error", err)
	}
	defer rdb.Close()

	sealer, err := utils.NewSealer(cfg.AddressKey)
	if err != nil {
		log.Fatalw("address key rejected", "error", err)
	}

	// storage
	users := repository.NewUserRepo(db)
	sessions := repository.NewSessionRepo(db)
	orders := repository.NewOrderRepo(db, sealer)
	payments := repository.NewPaymentRepo(db)
	blacklist := repository.NewBlacklistRepo(rdb, "bl")
	idem := repository.NewIdempotencyRepo(rdb, "idem", cfg.IdempotencyTTL)

	// core
	mailer := notify.NewLogSender(log.Named("mail"))
	var geo notify.GeoLocator
	if cfg.GeoTable != "" {
		table, err := notify.ParseStaticGeo(cfg.GeoTable)
		if err != nil {
			log.Fatalw("geo table rejected", "error", err)
		}
		geo = table
	}
	creds := credential.New(credential.Deps{
		Users:     users,
		Sessions:  sessions,
		Blacklist: blacklist,
		Passcodes: otp.NewVerifier(otp.NewRedisStore(rdb, "otp"), cfg.OTPTTL, cfg.OTPMaxAttempts, log.Named("otp")),
		Limiter:   otp.NewRequestLimiter(rdb, cfg.OTPRequestLimit, cfg.OTPRequestWindow, log.Named("otp")),
		Tokens:    utils.NewTokenService(cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL()),
		Mailer:    mailer,
		Geo:       geo,
		Log:       log.Named("auth"),
	}, credential.Options{
		OTPLength:          cfg.OTPLength,
		OTPTTL:             cfg.OTPTTL,
		MaxSessionsPerUser: cfg.MaxSessionsPerUser,
	})
	publisher := queue_publisher.NewPublisher(cfg.RabbitMQURL, log.Named("amqp"))
	machine := order.NewMachine(orders, payments, publisher, log.Named("order"))
	ledger := payment.NewLedger(payments, machine, payment.Config{
		MerchantID:     cfg.MerchantID,
		MerchantSecret: cfg.MerchantSecret,
		Currency:       cfg.PaymentCurrency,
	}, log.Named("payment"))

	// http
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log.Named("http")))
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log.Named("ratelimit")))

	authH := handler.NewAuthHandler(creds)
	router.RegisterRoutes(e, handler.Ready(map[string]handler.Pinger{
		"mysql": db.PingContext,
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}))
	router.RegisterAuth(e, authH, creds,
		middleware.NewTokenBucket(config.LoadAuthRateLimitConfig(), rdb, log.Named("ratelimit")))
	router.RegisterOrders(e,
		handler.NewOrderHandler(machine, users),
		handler.NewPaymentHandler(ledger, machine, idem, log.Named("payment")),
		creds,
		middleware.NewTokenBucket(config.LoadUserRateLimitConfig(), rdb, log.Named("ratelimit")),
		middleware.NewRedisCache(config.LoadCacheConfig(), rdb, log.Named("cache")))
	router.RegisterAdmin(e, authH, creds)

	go func() {
		err := queue.StartStatusConsumer(ctx, cfg.RabbitMQURL, queue.StatusNotifier{Mailer: mailer, Log: log.Named("consumer")})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("status consumer stopped", "error", err)
		}
	}()

	addr := ":" + cfg.Port
	go func() {
		log.Infow("listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Infow("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		log.Errorw("http shutdown", "error", err)
	}
}
