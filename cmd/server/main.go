package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/kzp/zoo-ticketing/internal/config"
	"github.com/kzp/zoo-ticketing/internal/database"
	"github.com/kzp/zoo-ticketing/internal/handler"
	"github.com/kzp/zoo-ticketing/internal/middleware"
	"github.com/kzp/zoo-ticketing/internal/model"
	"github.com/kzp/zoo-ticketing/internal/queue"
	"github.com/kzp/zoo-ticketing/internal/repository"
	"github.com/kzp/zoo-ticketing/internal/router"
	"github.com/kzp/zoo-ticketing/internal/service"
	"github.com/kzp/zoo-ticketing/internal/utils"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("could not read .env")
	}
	logCfg := config.LoadLogConfig()
	config.SetupLogging(logCfg)
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := cfg.DBDSN
	if cfg.DBDriver == database.DialectMySQL && dsn == "" {
		dsn = database.MySQLDSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
	db, err := database.Open(cfg.DBDriver, dsn)
	if err != nil {
		log.WithError(err).Fatal("database open failed")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
		log.WithError(err).Fatal("database migration failed")
	}

	canon, err := config.LoadCatalog(cfg.TariffFile)
	if err != nil {
		log.WithError(err).Fatal("tariff catalog load failed")
	}

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	tariffs := repository.NewTariffRepo(db)
	tickets := repository.NewTicketRepo(db)
	scans := repository.NewScanLogRepo(db)

	bootstrapAdmin(ctx, cfg, users)
	if n, err := tokens.PurgeExpired(ctx, time.Now().UTC()); err != nil {
		log.WithError(err).Warn("refresh token purge failed")
	} else if n > 0 {
		log.WithField("removed", n).Info("expired refresh tokens purged")
	}

	var events service.Publisher
	if cfg.EventsEnabled {
		url := queue.BrokerURL()
		events = queue.NewPublisher(url)
		go runAuditConsumer(ctx, url, logCfg, cfg.AuditLogDir)
	}

	catalog := service.NewCatalogService(tariffs, canon)
	if list, err := catalog.Resequence(ctx); err != nil {
		log.WithError(err).Error("startup resequence failed; serving canonical defaults")
	} else {
		log.WithField("tariffs", len(list)).Info("tariff catalog resequenced")
	}
	bookings := service.NewBookingService(catalog, tickets, events, service.BookingPolicy{
		WindowDays:    cfg.BookingWindowDays,
		ClosedWeekday: cfg.ClosedWeekday,
		OnlineMaxQty:  cfg.OnlineMaxQty,
		QRImageSize:   cfg.QRImageSize,
	}, nil)
	entry := service.NewEntryService(tickets, scans, events, nil)

	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
	}
	cacheCfg := config.LoadCacheConfig()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger())

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens), cfg.JWTSecret)
	router.RegisterBooking(e, handler.NewBookingHandler(bookings, catalog), cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
		middleware.NewRedisCache(cacheCfg, rdb))
	router.RegisterGate(e, handler.NewGateHandler(entry), cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadGateRateLimitConfig(), rdb))
	router.RegisterAdmin(e, handler.NewTariffHandler(catalog, rdb, cacheCfg.Prefix), cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		log.WithFields(log.Fields{"addr": addr, "env": cfg.Env, "db": cfg.DBDriver}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown failed")
	}
	log.Info("stopped")
}

// bootstrapAdmin creates the ADMIN account named by ADMIN_EMAIL when it
// does not exist yet.
func bootstrapAdmin(ctx context.Context, cfg config.Config, users *repository.UserRepo) {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return
	}
	if err := utils.CheckPassword(cfg.AdminPassword); err != nil {
		log.WithError(err).Error("bootstrap admin skipped")
		return
	}
	_, err := users.GetByEmail(ctx, cfg.AdminEmail)
	if err == nil {
		return
	}
	if !errors.Is(err, repository.ErrNotFound) {
		log.WithError(err).Error("bootstrap admin lookup failed")
		return
	}
	if _, err := users.Create(ctx, cfg.AdminEmail, cfg.AdminPassword, model.RoleAdmin, cfg.BcryptCost); err != nil {
		log.WithError(err).Error("bootstrap admin create failed")
		return
	}
	log.WithField("email", cfg.AdminEmail).Info("bootstrap admin created")
}

// runAuditConsumer appends every event to a per-queue rotating file until
// ctx ends.
func runAuditConsumer(ctx context.Context, url string, logCfg config.LogConfig, dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.WithError(err).WithField("dir", dir).Error("audit log dir unavailable; consumer not started")
		return
	}
	sinks := queue.AuditSinks{
		queue.TicketIssuedQueue:   logCfg.RotatingFile(filepath.Join(dir, "tickets.log")),
		queue.EntryValidatedQueue: logCfg.RotatingFile(filepath.Join(dir, "entry.log")),
		queue.ScanAlertQueue:      logCfg.RotatingFile(filepath.Join(dir, "scan_alert.log")),
	}
	if err := queue.StartAuditConsumer(ctx, url, sinks); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("audit consumer stopped")
	}
}
