// Command server is campaign-manager's HTTP entrypoint: it wires the
// core's version/branch/resolver/fork/merge/effect engines to Postgres and
// Redis, binds the collaborator adapters the core depends on but never
// implements, and serves the transport per SPEC_FULL.md's package layout.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"

	campaignhttp "github.com/jakekausler/campaign-manager/http"
	"github.com/jakekausler/campaign-manager/internal/cachestore"
	"github.com/jakekausler/campaign-manager/internal/cascade"
	"github.com/jakekausler/campaign-manager/internal/config"
	"github.com/jakekausler/campaign-manager/internal/logging"
	"github.com/jakekausler/campaign-manager/internal/pgtx"
	"github.com/jakekausler/campaign-manager/internal/pubsub"
)

func main() {
	logging.Configure(os.Getenv("LOG_FORMAT") == "json", os.Getenv("LOG_LEVEL"))
	log := logging.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgtx.Open(ctx, config.DatabaseURL())
	if err != nil {
		log.WithError(err).Fatal("connect to postgres")
	}
	defer pool.Close()
	db := pool.DB()

	cacheCfg := config.LoadCacheConfig()
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cacheCfg.RedisHost + ":" + strconv.Itoa(cacheCfg.RedisPort),
		Password: cacheCfg.RedisPassword,
		DB:       cacheCfg.RedisCacheDB,
	})
	defer redisClient.Close()

	store := cachestore.New(cachestore.Config{
		Client:       redisClient,
		KeyPrefix:    cacheCfg.KeyPrefix,
		DefaultTTL:   cacheCfg.DefaultTTL,
		StatsEnabled: cacheCfg.StatsTrackingEnabled,
		ResetPeriod:  cacheCfg.StatsResetPeriod,
	})

	invalidator := cascade.New(store)
	shells := &dbShellLookup{db: db}
	dispatcher := cascade.NewDispatcher(invalidator, shells)

	publisher := pubsub.New(redisClient)
	membership := &dbMembershipChecker{db: db}
	audit := &dbAuditLogger{db: db}

	srv := &server{
		reads:       buildEngines(db, invalidator, dispatcher, membership),
		pool:        pool,
		invalidator: invalidator,
		dispatcher:  dispatcher,
		publisher:   publisher,
		membership:  membership,
		audit:       audit,
	}

	serverCfg := config.LoadServerConfig()
	echoCfg := campaignhttp.DefaultServerConfig()
	echoCfg.Port = serverCfg.Port
	echoCfg.ReadTimeout = serverCfg.ReadTimeout
	echoCfg.WriteTimeout = serverCfg.WriteTimeout

	e := campaignhttp.NewEchoServer(echoCfg)
	registerRoutes(e, srv, jwtMiddleware(serverCfg.JWTSigningKey))

	go func() {
		if err := campaignhttp.StartServer(e, echoCfg); err != nil {
			log.WithError(err).Warn("server stopped")
		}
	}()

	<-ctx.Done()
	if err := campaignhttp.GracefulShutdown(e, echoCfg.ShutdownTimeout); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
