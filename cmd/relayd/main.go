// Command relayd boots one relay instance: it wires the Session
// Registry, Presence Store, Message Queue, Pairing module, Rate
// Limiter, Pub/Sub bus, and Relay Dispatcher to a Redis client and a
// Postgres-backed account store, then serves the WebSocket/HTTP front
// door until a termination signal arrives. Grounded on the teacher's
// server/shutdown.go signal handling, generalized from its raw
// net.Listener loop to context-based http.Server shutdown, the
// idiomatic replacement the pack's own newer services
// (uncord-chat-uncord-server, WAN-Ninjas-AmityVox) use instead of a
// hand-rolled graceful listener.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/relaymesh/relaymesh/internal/account"
	"github.com/relaymesh/relaymesh/internal/config"
	"github.com/relaymesh/relaymesh/internal/dispatch"
	"github.com/relaymesh/relaymesh/internal/metrics"
	"github.com/relaymesh/relaymesh/internal/pairing"
	"github.com/relaymesh/relaymesh/internal/presence"
	"github.com/relaymesh/relaymesh/internal/pubsub"
	"github.com/relaymesh/relaymesh/internal/queue"
	"github.com/relaymesh/relaymesh/internal/ratelimit"
	"github.com/relaymesh/relaymesh/internal/session"
	"github.com/relaymesh/relaymesh/internal/social"
	"github.com/relaymesh/relaymesh/internal/transport"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	log = log.With().Str("instance_id", cfg.InstanceID).Logger()

	rdb := newRedisClient(cfg)
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.KVConnTimeout)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("redis unreachable")
	}
	cancel()

	accounts, err := account.NewPostgresStore(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer accounts.Close()
	if err := accounts.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("migrate postgres")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	sessions := session.NewRegistry(log)
	pres := presence.New(rdb, cfg.PresenceTTL)
	q := queue.New(rdb, cfg.MaxQueueLen, cfg.QueueTTL)
	bus := pubsub.New(rdb)
	limiter := ratelimit.NewLimiter(cfg.MaxTokens, cfg.RefillRate)
	pairingMod := pairing.New(rdb, accounts, cfg.InviteTTL, cfg.SyncCodeTTL)
	soc := social.New(log)

	d := dispatch.New(dispatch.Config{
		InstanceID:     cfg.InstanceID,
		MaxPayloadSize: cfg.MaxPayloadSize,
	}, log, sessions, pres, q, bus, limiter, m)

	srv := transport.New(transport.Config{
		InstanceID: cfg.InstanceID,
		APIKey:     cfg.APIKey,
		FrameCap:   cfg.FrameCap,
	}, log, sessions, d, pres, pairingMod, accounts, soc)

	mux := http.NewServeMux()
	mux.Handle("/", srv.Router())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("relay listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := waitForSignal()
	<-stop
	log.Info().Msg("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown did not complete cleanly")
	}
	log.Info().Msg("relay stopped")
}

func newRedisClient(cfg *config.Config) redis.UniversalClient {
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			panic(err)
		}
		return redis.NewClient(opt)
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisHost + ":" + cfg.RedisPort,
		Password: cfg.RedisPassword,
	})
}

func waitForSignal() <-chan struct{} {
	stop := make(chan struct{})
	signchan := make(chan os.Signal, 1)
	signal.Notify(signchan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		<-signchan
		close(stop)
	}()
	return stop
}
