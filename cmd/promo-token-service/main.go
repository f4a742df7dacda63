// cmd/promo-token-service/main.go
package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"promotoken/internal/pkg/bootstrap"
	"promotoken/internal/pkg/logger"
	"promotoken/internal/pkg/metrics"
	"promotoken/internal/pkg/redis"
	"promotoken/internal/service/promotion/application"
	"promotoken/internal/service/promotion/domain"
	"promotoken/internal/service/promotion/infrastructure"
	"promotoken/internal/service/promotion/infrastructure/events"
	"promotoken/internal/service/promotion/infrastructure/rule"
	"promotoken/internal/service/promotion/interfaces"
	"promotoken/internal/service/promotion/port"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = bootstrap.DefaultConfigPath
	}
	cfg, err := bootstrap.LoadConfig(cfgPath)
	if err != nil {
		logger.Init("promo-token-service", "info")
		log.Fatal().Err(err).Msg("load config")
	}
	logger.Init(cfg.App.Name, cfg.Log.Level)

	var closers []io.Closer

	durable, closer, err := openDurableStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("open durable store")
	}
	closers = append(closers, closer)

	if cfg.Store.SeedDefaults && !cfg.Store.ReadOnly {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := infrastructure.SeedIfEmpty(ctx, durable, infrastructure.DefaultCatalogue)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("seed default promo codes")
		}
	}
	if cfg.Store.ReadOnly {
		// 只读部署：持久存储照常读取，所有写入落到进程内覆盖层
		durable = infrastructure.NewReadOnlyStore(durable)
		log.Warn().Msg("durable store is read-only, writes will be kept in memory")
	}

	successRule, err := rule.NewCELSuccessRule(cfg.Redeem.SuccessExpr)
	if err != nil {
		log.Fatal().Err(err).Msg("compile redeem success rule")
	}

	feed := interfaces.NewFeedHub()
	publishers := port.MultiPublisher{feed}
	if len(cfg.Infra.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.Topic)
		publishers = append(publishers, kp)
		closers = append(closers, kp)
	}

	deps := application.Deps{
		Durable:   durable,
		Overlay:   infrastructure.NewOverlay(),
		Publisher: publishers,
		Metrics:   metrics.New(prometheus.DefaultRegisterer),
		Tracer:    otel.Tracer(cfg.App.Name),
	}
	registry := application.NewCodeRegistry(deps, infrastructure.ResetCatalogue)
	issuer := application.NewTokenIssuer(deps, registry)
	redeemer := application.NewTokenRedeemer(deps, registry, successRule)
	handler := interfaces.NewPromoTokenHandler(registry, issuer, redeemer, feed,
		interfaces.Credentials{User: cfg.Admin.User, Pass: cfg.Admin.Pass})

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: cfg.App.Name,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			go feed.Run(appCtx.Ctx)
			handler.RegisterRoutes(appCtx.Mux)
		},
		Closers: closers,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("service exited")
	}
}

// openDurableStore 按配置的驱动创建持久存储，返回的 Closer 用于关停时释放连接
func openDurableStore(cfg *bootstrap.Config) (domain.Store, io.Closer, error) {
	if cfg.Store.Driver == "redis" {
		client, err := redis.NewClient(cfg.Infra.Redis.Addr, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		store, err := infrastructure.NewRedisStore(client)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, client, nil
	}

	db, err := infrastructure.OpenDB(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return infrastructure.NewGormStore(db), sqlDB, nil
}
