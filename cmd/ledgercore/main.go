package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	governancedomain "github.com/wyfcoding/ledgercore/internal/governance/domain"
	ledgerapp "github.com/wyfcoding/ledgercore/internal/ledger/application"
	ledgermysql "github.com/wyfcoding/ledgercore/internal/ledger/infrastructure/persistence/mysql"
	liquiditydomain "github.com/wyfcoding/ledgercore/internal/liquidity/domain"
	orderapp "github.com/wyfcoding/ledgercore/internal/order/application"
	orderdomain "github.com/wyfcoding/ledgercore/internal/order/domain"
	positionapp "github.com/wyfcoding/ledgercore/internal/position/application"
	positiondomain "github.com/wyfcoding/ledgercore/internal/position/domain"
	positionmysql "github.com/wyfcoding/ledgercore/internal/position/infrastructure/persistence/mysql"
	positionconsumer "github.com/wyfcoding/ledgercore/internal/position/interfaces/consumer"
	"github.com/wyfcoding/ledgercore/internal/pricing/infrastructure/cached"
	pricingmem "github.com/wyfcoding/ledgercore/internal/pricing/infrastructure/memory"
	pricingconsumer "github.com/wyfcoding/ledgercore/internal/pricing/interfaces/consumer"
	reserveapp "github.com/wyfcoding/ledgercore/internal/reserve/application"
	reservedomain "github.com/wyfcoding/ledgercore/internal/reserve/domain"
	"github.com/wyfcoding/ledgercore/pkg/breaker"
	"github.com/wyfcoding/ledgercore/pkg/cache"
	"github.com/wyfcoding/ledgercore/pkg/config"
	"github.com/wyfcoding/ledgercore/pkg/db"
	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
	esmysql "github.com/wyfcoding/ledgercore/pkg/eventsourcing/mysql"
	"github.com/wyfcoding/ledgercore/pkg/logger"
	"github.com/wyfcoding/ledgercore/pkg/metrics"
	"github.com/wyfcoding/ledgercore/pkg/mq"
	"github.com/wyfcoding/ledgercore/pkg/ratelimit"
	"github.com/wyfcoding/ledgercore/pkg/saga"
	sagakafka "github.com/wyfcoding/ledgercore/pkg/saga/kafka"
	sagamysql "github.com/wyfcoding/ledgercore/pkg/saga/mysql"
	sagaredis "github.com/wyfcoding/ledgercore/pkg/saga/redis"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/ledgercore.toml", "path to config file")
	flag.Parse()

	// 1. Config
	var cfg config.Config
	if err := config.Load(configPath, &cfg); err != nil {
		panic(fmt.Sprintf("load config failed: %v", err))
	}

	// 2. Logger
	log, err := logger.New(cfg.ServiceName, cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("init logger failed: %v", err))
	}
	slog.SetDefault(log)

	// 3. Database
	gdb, err := db.Open(cfg.Database)
	if err != nil {
		panic(fmt.Sprintf("connect db failed: %v", err))
	}
	defer db.Close(gdb)

	if err := gdb.AutoMigrate(migrations()...); err != nil {
		panic(fmt.Sprintf("migrate db failed: %v", err))
	}

	// 4. Redis / Kafka / Metrics
	redisClient, err := cache.New(cfg.Redis)
	if err != nil {
		panic(fmt.Sprintf("connect redis failed: %v", err))
	}
	defer redisClient.Close()

	kafkaCfg := mq.Config{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		MaxRetries:     cfg.Kafka.MaxRetries,
		RetryBackoffMS: cfg.Kafka.RetryBackoffMS,
	}
	producer := mq.NewProducer(kafkaCfg, log)
	defer producer.Close()

	m := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		go func() {
			if err := m.ExposeHTTP(cfg.Metrics.Port); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	// 5. Shared infrastructure
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           time.Duration(cfg.Breaker.WindowSeconds) * time.Second,
		Cooldown:         time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
	}, log)

	registry := eventsourcing.NewEventRegistry().Merge(
		positiondomain.EventRegistry(),
		liquiditydomain.EventRegistry(),
		orderdomain.EventRegistry(),
		governancedomain.EventRegistry(),
		reservedomain.EventRegistry(),
	)
	repo := eventsourcing.NewRepository(
		esmysql.NewEventStore(gdb, registry),
		esmysql.NewSnapshotStore(gdb),
		cfg.Saga.SnapshotEvery,
	).Instrument(m.EventsAppended, m.ConcurrencyConflicts)

	sagaOpts := []saga.Option{
		saga.WithStateStore(sagamysql.NewStateStore(gdb)),
		saga.WithMarkerStore(sagaredis.NewMarkerStore(redisClient, cfg.Saga.MarkerTTL())),
		saga.WithBreakers(breakers),
		saga.WithMetrics(saga.NewMetrics(m.Registry)),
	}

	// 6. Domain services
	ledgerSvc := ledgerapp.NewLedgerService(ledgermysql.NewLedger(gdb), breakers, log).
		Instrument(m.TransfersTotal, m.LocksActive)

	feed := pricingmem.NewOracle()
	oracle := cached.NewOracle(feed, redisClient, ratelimit.NewRedisLimiter(redisClient),
		ratelimit.Limit{Rate: 50, Period: time.Second, Burst: 50}, 3*time.Second, log).
		Instrument(m.OracleLatency)

	positions := positionapp.NewManager(repo, positionmysql.NewIndex(gdb), oracle, cfg.Platform.QuoteAsset, log).
		Instrument(m.LiquidationsTotal)
	reserves := reserveapp.NewManager(repo, ledgerSvc, log)
	coverer := reserveapp.NewCoverer(reserves, cfg.Platform.ReserveID, positionapp.LendingPoolAccount)
	liquidator := positionapp.NewLiquidator(positions, ledgerSvc, oracle, coverer, cfg.Platform.QuoteAsset, log, sagaOpts...)

	orders := orderapp.NewManager(repo, ledgerSvc, log, sagaOpts...).Instrument(m.MatchesTotal)
	if cfg.MarketMaker.Symbol != "" {
		orders.RegisterMarket(cfg.MarketMaker.Symbol, cfg.MarketMaker.BaseAsset, cfg.MarketMaker.QuoteAsset)
	}

	// 7. Saga driver and consumers
	driver := saga.NewDriver(log, cfg.Saga.MaxInFlight)
	driver.Register(positionapp.SagaLiquidatePosition, liquidator.ContinuationFactory())
	scheduler := sagakafka.NewScheduler(producer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	feedCfg := kafkaCfg
	feedCfg.GroupID = cfg.Kafka.GroupID + ".price-feed"
	g.Go(func() error {
		return mq.NewConsumer(feedCfg, pricingconsumer.TopicPriceUpdated, log).
			Run(ctx, pricingconsumer.NewPriceFeedHandler(feed, log))
	})

	reviewCfg := kafkaCfg
	reviewCfg.GroupID = cfg.Kafka.GroupID + ".position-review"
	g.Go(func() error {
		return mq.NewConsumer(reviewCfg, positionconsumer.TopicPriceUpdated, log).
			Run(ctx, positionconsumer.NewPriceUpdateHandler(positions, scheduler, log))
	})

	continuationCfg := kafkaCfg
	continuationCfg.GroupID = cfg.Kafka.GroupID + ".saga-continuations"
	g.Go(func() error {
		return mq.NewConsumer(continuationCfg, sagakafka.ContinuationTopic, log).
			Run(ctx, sagakafka.NewContinuationHandler(driver, log))
	})

	// 8. Market maker
	if cfg.MarketMaker.Enabled {
		mmCfg, err := marketMakerConfig(cfg.MarketMaker)
		if err != nil {
			panic(fmt.Sprintf("market maker config invalid: %v", err))
		}
		mm, err := orderapp.NewMarketMaker(orders, oracle, mmCfg, log)
		if err != nil {
			panic(fmt.Sprintf("init market maker failed: %v", err))
		}
		g.Go(func() error { return mm.Run(ctx) })
	}

	log.Info("ledgercore started", "service", cfg.ServiceName, "environment", cfg.Environment)

	if err := g.Wait(); err != nil {
		log.Error("worker exited with error", "error", err)
	}
	if err := driver.Wait(); err != nil {
		log.Error("saga driver drained with error", "error", err)
	}
	log.Info("ledgercore stopped")
}

// migrations 启动时确保存在的全部持久化对象。账本的每笔划转
// 在同一事务里写入流水表，任何一张表缺失首笔资金动作就会失败。
func migrations() []any {
	return []any{
		&esmysql.EventPO{}, &esmysql.SnapshotPO{},
		&sagamysql.SagaStatePO{},
		&ledgermysql.AccountPO{}, &ledgermysql.LockPO{}, &ledgermysql.TransactionPO{},
		&positionmysql.PositionPO{}, &positionmysql.PositionAssetPO{},
	}
}

// marketMakerConfig 把文本配置解析为做市参数。价差以基点表示。
func marketMakerConfig(cfg config.MarketMakerConfig) (orderapp.MarketMakerConfig, error) {
	size, err := decimal.NewFromString(cfg.OrderSize)
	if err != nil {
		return orderapp.MarketMakerConfig{}, fmt.Errorf("order_size: %w", err)
	}
	maxInventory, err := decimal.NewFromString(cfg.MaxInventory)
	if err != nil {
		return orderapp.MarketMakerConfig{}, fmt.Errorf("max_inventory: %w", err)
	}
	return orderapp.MarketMakerConfig{
		Symbol:       cfg.Symbol,
		BaseAsset:    cfg.BaseAsset,
		QuoteAsset:   cfg.QuoteAsset,
		AccountID:    cfg.AccountID,
		Spread:       decimal.New(cfg.SpreadBps, -4),
		QuoteSize:    size,
		MaxInventory: maxInventory,
		Interval:     time.Duration(cfg.IntervalMS) * time.Millisecond,
	}, nil
}
