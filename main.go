package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/apex/log"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"foodsafety/access"
	"foodsafety/common"
	"foodsafety/confidential"
	"foodsafety/config"
	"foodsafety/database"
	"foodsafety/events"
	"foodsafety/handlers"
	"foodsafety/investigation"
	"foodsafety/ledger"
	"foodsafety/server"
	"foodsafety/stats"
)

func main() {
	cfg := config.Load()

	db, err := common.DBConnect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Info("Initializing database schema...")
	if err := database.InitializeSchema(db, cfg.OwnerAddress); err != nil {
		log.Fatalf("Failed to initialize database schema: %v", err)
	}

	// One writer at a time; each operation is one transaction.
	var mu sync.Mutex

	eventLog := events.NewLog(db)
	registry := access.NewRegistry(db, eventLog, &mu)

	var cipher confidential.Cipher
	if cfg.ConfidentialEnabled {
		authorize := func(addr ethcommon.Address) bool {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if ok, err := registry.IsOwner(ctx, addr); err == nil && ok {
				return true
			}
			ok, err := registry.IsRegulator(ctx, addr)
			return err == nil && ok
		}
		p, err := confidential.GeneratePaillier(cfg.PaillierBits, authorize)
		if err != nil {
			log.Fatalf("Failed to set up confidential value layer: %v", err)
		}
		cipher = p
		log.Info("Confidential value layer enabled")
	}

	aggregator := stats.NewAggregator(db, cipher)
	reportLedger := ledger.NewService(db, registry, aggregator, eventLog, cipher, &mu)
	tracker := investigation.NewTracker(db, registry, aggregator, eventLog, &mu)

	h := handlers.NewHandlers(reportLedger, tracker, registry, aggregator, eventLog, cipher)
	router := server.SetupRouter(h, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Food safety service starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Service stopped: %v", err)
	}
	log.Info("Service stopped")
}
