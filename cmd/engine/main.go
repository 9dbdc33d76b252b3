package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/moex-sandbox/invest-engine/internal/config"
	"github.com/moex-sandbox/invest-engine/internal/ledger"
	"github.com/moex-sandbox/invest-engine/internal/logger"
	"github.com/moex-sandbox/invest-engine/internal/mail"
	"github.com/moex-sandbox/invest-engine/internal/moex"
	"github.com/moex-sandbox/invest-engine/internal/notify"
	"github.com/moex-sandbox/invest-engine/internal/postgres"
)

const (
	_engineCfgFilePath = "./configs/engine.yaml"
)

func main() {
	zapLogger, loggerSync, err := logger.NewZapLogger(logger.Info)
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	defer loggerSync()

	if err := godotenv.Load(); err != nil {
		zapLogger.Warnf("can't detect .env file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadEngineConfig(_engineCfgFilePath)
	if err != nil {
		zapLogger.Fatalf("%s: can't load engine cfg", err)
	}

	db, err := postgres.NewDB(postgres.NewConfigFromEnv().Setup())
	if err != nil {
		zapLogger.Fatalf("%s: can't connect to database", err)
	}
	defer db.Close()

	quotes := moex.NewClient(cfg.ISS, zapLogger)
	defer quotes.Close()

	// the trade-side ledger (ledger.NewLedger over this store) is the
	// library surface for the web collaborator; this daemon only runs
	// the notification loop
	store := ledger.NewSQLStore(db, zapLogger)

	dispatcher := notify.NewDispatcher(mail.NewSMTPSender(cfg.SMTP), store, zapLogger)
	scheduler, err := notify.NewScheduler(store, quotes, dispatcher, cfg.Scheduler, zapLogger)
	if err != nil {
		zapLogger.Fatalf("%s: can't create scheduler", err)
	}

	zapLogger.Infof("notification engine started, tick interval %s", cfg.Scheduler.TickInterval)
	if err := scheduler.Run(ctx); err != nil {
		zapLogger.Fatalf("%s: scheduler stopped", err)
	}
}
