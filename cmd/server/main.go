package main // Entry point package

import (
	"log"  // Logging library
	"time" // Durations for protocol configuration

	"github.com/joho/godotenv"    // Loads .env files into the environment
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/yzsoft/activation-server/internal/activation"
	"github.com/yzsoft/activation-server/internal/config"
	"github.com/yzsoft/activation-server/internal/database"
	"github.com/yzsoft/activation-server/internal/handler"
	"github.com/yzsoft/activation-server/internal/middleware"
	"github.com/yzsoft/activation-server/internal/queue"
	"github.com/yzsoft/activation-server/internal/repository"
	"github.com/yzsoft/activation-server/internal/router"
)

func main() {
	// .env is a development convenience; in production the variables
	// arrive from the process environment and the file is absent.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Platform signing key: loaded from disk, generated on first run.
	custodian, err := activation.LoadCustodian(cfg.PlatformKeyPath, cfg.PlatformPubPath)
	if err != nil {
		log.Fatalf("platform key: %v", err)
	}

	store := repository.NewActivationStore(db)
	orch := activation.NewOrchestrator(store, custodian, activation.Config{
		TOTPStep:           uint(cfg.TOTPStep),
		TOTPDrift:          cfg.TOTPDrift,
		ClockSkew:          cfg.ClockSkew,
		ReplayWindow:       cfg.ReplayWindow,
		MinNonceLength:     cfg.MinNonceLen,
		DefaultLicenseTTL:  cfg.DefaultLicenseTTL,
		FallbackLicenseTTL: cfg.FallbackLicenseTTL,
	})

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)

	authH := handler.NewAuthHandler(cfg, users, tokens)
	adminH := handler.NewAdminHandler(store.Channels, store.CACs, store.Licenses, store.Audits, custodian, uint(cfg.TOTPStep))
	actH := handler.NewActivationHandler(orch)

	// Redis backs rate limiting and response caching; both degrade to
	// pass-through when the client is nil.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable; rate limiting and caching disabled")
	}

	rlCfg := config.LoadRateLimitConfig()
	rlCfg.KeyStrategy = "channel" // each reseller channel drains its own bucket
	limiter := middleware.NewTokenBucket(rlCfg, rdb)

	cacheCfg := config.LoadCacheConfig()
	cache := middleware.NewRedisCache(cacheCfg, rdb)

	e := echo.New()
	router.RegisterRoutes(e, db, adminH, cache)
	router.RegisterActivation(e, actH, limiter)
	router.RegisterAuth(e, authH, cfg.JWTSecret)
	router.RegisterAdmin(e, authH, adminH, cfg.JWTSecret)

	// Background consumer appends issued-license events to the local
	// log.  It reconnects forever on its own.
	go func() {
		if err := queue.StartLicenseConsumer(); err != nil {
			log.Printf("license consumer stopped: %v", err)
		}
	}()

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s, totp_step=%ds, skew=%s)", addr, cfg.Env, cfg.TOTPStep, cfg.ClockSkew)

	e.Server.ReadHeaderTimeout = 10 * time.Second
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
