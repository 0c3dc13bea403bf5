package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/openlob/itembook/params"
	"github.com/openlob/itembook/pkg/api"
	"github.com/openlob/itembook/pkg/market"
	"github.com/openlob/itembook/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	// ---- Marketplace ----
	mkt, err := market.New(cfg.DataDir, sugar)
	if err != nil {
		sugar.Fatalw("marketplace_init_failed", "err", err)
	}
	defer mkt.Close()

	// Register the configured trading pairs
	for _, pair := range cfg.Market.Pairs {
		collection, denom, ok := strings.Cut(pair, "/")
		if !ok {
			denom = cfg.Market.DefaultDenom
		}
		bookID, err := mkt.CreateOrderBook(collection, denom)
		if err != nil {
			sugar.Fatalw("book_init_failed", "pair", pair, "err", err)
		}
		sugar.Infow("book_registered", "pair", pair, "book", bookID.Hex())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	// Serves REST and streams trades/depth over WebSocket
	apiServer := api.NewServer(mkt, sugar)
	go func() {
		if err := apiServer.Start(cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("marketd_started",
		"data_dir", cfg.DataDir,
		"api_addr", cfg.API.Addr,
		"pairs", len(cfg.Market.Pairs))

	<-ctx.Done()
	sugar.Info("shutting down")
}
