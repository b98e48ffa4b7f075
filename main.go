package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bozbot/config"
	"bozbot/internal/api"
	"bozbot/internal/database"
	"bozbot/internal/events"
	"bozbot/internal/features"
	"bozbot/internal/fetch"
	"bozbot/internal/logging"
	"bozbot/internal/market"
	"bozbot/internal/ml"
	"bozbot/internal/notification"
	"bozbot/internal/prediction"
	"bozbot/internal/ratelimit"
	"bozbot/internal/risk"
	"bozbot/internal/scheduler"
	"bozbot/internal/secrets"
	"bozbot/internal/settlement"
	"bozbot/internal/trading"
	"bozbot/internal/weather"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logging.Setup(cfg.LogLevel, cfg.LogPretty)
	log.Info().Str("addr", cfg.HTTPAddr).Bool("production", cfg.ProductionMode).Msg("starting bozbot")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage.
	db, err := database.NewDB(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	repo := database.NewRepository(db)

	box, err := secrets.New(cfg.MasterKey)
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	publisher, err := events.NewPublisher(cfg.RedisURL, log)
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}

	// Weather ingestion. NWS asks for a courteous request rate; Open-Meteo
	// tolerates more.
	limiter := ratelimit.NewRegistry(2)
	limiter.Set("api.weather.gov", 1)
	limiter.Set("forecast.weather.gov", 1)
	limiter.Set("api.open-meteo.com", 5)
	fetcher := fetch.NewClient(limiter, cfg.UserAgent, 3, log)
	weatherClient := weather.NewClient(fetcher, log)

	// Model ensemble. Missing artifacts leave members untrained until the
	// weekly training job produces them.
	ensemble := ml.NewEnsemble([]ml.Regressor{
		ml.NewGBT(filepath.Join(cfg.ModelsDir, "gbt_temp.json"), features.Names),
		ml.NewForest(filepath.Join(cfg.ModelsDir, "rf_temp.json"), features.Names),
		ml.NewRidge(filepath.Join(cfg.ModelsDir, "ridge_temp.json"), features.Names),
	}, filepath.Join(cfg.ModelsDir, "ml_weights.json"), log)
	loaded := ensemble.Load()
	log.Info().Int("models_loaded", loaded).Msg("ensemble initialized")

	factory := newGatewayFactory(box, log)

	riskMgr := risk.NewManager(repo, log)
	sender := notification.NewSender(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, log)
	executor := trading.NewExecutor(repo, factory, riskMgr, publisher, sender, log)
	settler := settlement.NewSettler(repo, weatherClient, riskMgr, publisher, log)
	pipeline := prediction.NewPipeline(repo, &operatorGateway{repo: repo, open: factory}, ensemble, publisher, log)

	// Task plumbing: cron beat enqueues, worker pool consumes.
	broker, err := scheduler.NewBroker(cfg.RedisURL, log)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	defer broker.Close()

	jobs := scheduler.NewJobs(repo, weatherClient, pipeline, executor, settler, ensemble, log)
	pool := scheduler.NewPool(broker, cfg.Workers, log)
	jobs.RegisterAll(pool)

	beat, err := scheduler.NewBeat(broker, cfg.Location(), log)
	if err != nil {
		return fmt.Errorf("beat: %w", err)
	}

	// Event fan-out to browsers.
	hub := api.NewHub(log)
	go hub.Run()
	subscriber, err := api.NewSubscriber(cfg.RedisURL, hub, log)
	if err != nil {
		return fmt.Errorf("subscriber: %w", err)
	}

	server := api.NewServer(api.Config{
		Addr:           cfg.HTTPAddr,
		ProductionMode: cfg.ProductionMode,
		AuthEnabled:    cfg.AuthEnabled,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
	}, repo, executor, hub, log)

	beat.Start()
	defer beat.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return subscriber.Run(gctx) })
	g.Go(func() error { return server.Start(gctx) })

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}

// newGatewayFactory builds per-operator Kalshi clients by decrypting the
// stored API credentials.
func newGatewayFactory(box *secrets.Box, log zerolog.Logger) trading.GatewayFactory {
	return func(ctx context.Context, op *database.Operator) (market.Gateway, error) {
		if op == nil || op.KalshiAPIKeyID == nil || op.KalshiPrivateKeyEnc == nil {
			return nil, fmt.Errorf("operator has no kalshi credentials")
		}
		pemData, err := box.Decrypt(*op.KalshiPrivateKeyEnc)
		if err != nil {
			return nil, fmt.Errorf("decrypt kalshi key: %w", err)
		}
		priv, err := market.ParsePrivateKey([]byte(pemData))
		if err != nil {
			return nil, fmt.Errorf("parse kalshi key: %w", err)
		}
		return market.NewKalshiClient(*op.KalshiAPIKeyID, priv, op.DemoMode, log), nil
	}
}

// operatorGateway resolves the operator and opens a short-lived client per
// call, so the prediction pipeline can read markets without holding
// credentials itself.
type operatorGateway struct {
	repo *database.Repository
	open trading.GatewayFactory
}

func (g *operatorGateway) gateway(ctx context.Context) (market.Gateway, error) {
	op, err := g.repo.GetOperator(ctx)
	if err != nil {
		return nil, err
	}
	return g.open(ctx, op)
}

func (g *operatorGateway) GetEventMarkets(ctx context.Context, eventTicker string) ([]market.Market, error) {
	gw, err := g.gateway(ctx)
	if err != nil {
		return nil, err
	}
	defer gw.Close()
	return gw.GetEventMarkets(ctx, eventTicker)
}

func (g *operatorGateway) GetMarket(ctx context.Context, ticker string) (*market.Market, error) {
	gw, err := g.gateway(ctx)
	if err != nil {
		return nil, err
	}
	defer gw.Close()
	return gw.GetMarket(ctx, ticker)
}

func (g *operatorGateway) GetOrders(ctx context.Context, status string) ([]market.Order, error) {
	gw, err := g.gateway(ctx)
	if err != nil {
		return nil, err
	}
	defer gw.Close()
	return gw.GetOrders(ctx, status)
}

func (g *operatorGateway) PlaceOrder(ctx context.Context, ticker string, side market.Side, priceCents, qty int) (*market.Order, error) {
	gw, err := g.gateway(ctx)
	if err != nil {
		return nil, err
	}
	defer gw.Close()
	return gw.PlaceOrder(ctx, ticker, side, priceCents, qty)
}

func (g *operatorGateway) GetBalance(ctx context.Context) (int64, error) {
	gw, err := g.gateway(ctx)
	if err != nil {
		return 0, err
	}
	defer gw.Close()
	return gw.GetBalance(ctx)
}

func (g *operatorGateway) Close() error { return nil }
