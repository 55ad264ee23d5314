package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/grid_ladder/internal/domain"
	"github.com/vitos/grid_ladder/internal/infrastructure/exchange"
	"github.com/vitos/grid_ladder/internal/infrastructure/logger"
	"github.com/vitos/grid_ladder/internal/infrastructure/storage"
	"github.com/vitos/grid_ladder/internal/usecase"
	"github.com/vitos/grid_ladder/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	// 1. Load Config
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else if log, err = logger.NewLogger(cfg.Logging.Level); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("Bot exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Init Journal
	var journal domain.FillJournal
	if cfg.Journal.Path != "" {
		j, err := storage.NewSQLiteJournal(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("init journal: %w", err)
		}
		defer j.Close()
		journal = j
	}

	// 4. Init Exchange
	stream := exchange.NewPriceStream(cfg.Exchange.WSEndpoint, log.Named("stream"))
	adapter := exchange.NewBinanceAdapter(cfg.binance(), log.Named("binance"))
	adapter.UsePriceStream(stream)

	// 5. Init Supervisor
	supervisor := usecase.NewSupervisor(usecase.Deps{
		Gateway: adapter,
		Journal: journal,
		Logger:  log,
	})
	for _, req := range cfg.Strategies {
		snap, err := supervisor.Start(ctx, req)
		if err != nil {
			log.Error("Failed to start configured strategy",
				zap.String("id", req.ID), zap.String("symbol", req.Symbol), zap.Error(err))
			continue
		}
		log.Info("Strategy started", zap.String("id", snap.ID), zap.String("symbol", snap.Symbol), zap.String("type", snap.Variant))
	}

	// 6. Init Web Server
	server := web.NewServer(cfg.Server.Port, supervisor, journal, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return stream.Run(gctx)
	})
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		serverErr := server.Shutdown(shutdownCtx)
		supervisorErr := supervisor.Shutdown(shutdownCtx)
		return errors.Join(serverErr, supervisorErr)
	})

	return g.Wait()
}
