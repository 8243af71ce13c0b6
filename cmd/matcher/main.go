package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olyamironova/matching-core/internal/adapter/cache"
	"github.com/olyamironova/matching-core/internal/adapter/pg"
	"github.com/olyamironova/matching-core/internal/adapter/redisbook"
	httpapi "github.com/olyamironova/matching-core/internal/api/http"
	"github.com/olyamironova/matching-core/internal/config"
	"github.com/olyamironova/matching-core/internal/core"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/logging"
	"github.com/olyamironova/matching-core/internal/settle"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()
	repo := pg.NewRepoWithPool(pool)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	book := redisbook.NewStore(rdb)

	settlement := settle.NewEngine()
	// the matching loop publishes each trade's price here; until the
	// first print conditional orders stay parked
	marketData := cache.NewRedisCache(rdb, 24*time.Hour)
	adm := core.NewAdmission(repo, book, marketData, log)

	srv := httpapi.NewServer(adm, repo, book, marketData, log)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("admission API listening")
		if err := srv.Run(cfg.HTTP.Addr); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped")
			cancel()
		}
	}()

	procCfg := core.Config{
		BatchSize:        cfg.Matching.BatchSize,
		CheckingInterval: cfg.CheckingInterval(),
		GuardBand:        cfg.GuardBand(),
		MinDelay:         cfg.MinDelay(),
		MaxDelay:         cfg.MaxDelay(),
		EmptyThreshold:   cfg.Matching.EmptyThreshold,
		SettleRetryLimit: cfg.Matching.SettleRetryLimit,
	}
	for _, pc := range cfg.Pairs {
		pair := domain.Pair{Coin: pc.Coin, Currency: pc.Currency}
		proc := core.NewProcessor(pair, repo, book, settlement, procCfg, log)
		proc.PublishMarketData(marketData, marketData)
		go supervise(ctx, proc, pair, log)
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
}

// supervise stands in for the external scheduler: it re-invokes the
// pair's processor lifecycle until shutdown.
func supervise(ctx context.Context, proc *core.Processor, pair domain.Pair, log zerolog.Logger) {
	for {
		if err := proc.ProcessPair(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("pair", pair.Key()).Msg("processor run failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}
