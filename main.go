// Command strategy-engine runs the trading service: one strategy, one
// symbol, one venue. Configuration comes from the environment and the
// strategy YAML file; state survives restarts in SQLite.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"strategy-engine/internal/api"
	"strategy-engine/internal/balance"
	"strategy-engine/internal/engine"
	"strategy-engine/internal/events"
	"strategy-engine/internal/metrics"
	"strategy-engine/internal/monitor"
	"strategy-engine/internal/notify"
	"strategy-engine/internal/order"
	"strategy-engine/internal/persistence"
	"strategy-engine/internal/position"
	"strategy-engine/internal/risk"
	"strategy-engine/internal/scorer"
	"strategy-engine/pkg/config"
	"strategy-engine/pkg/db"
	"strategy-engine/pkg/exchange"
	"strategy-engine/pkg/exchange/binance"
	"strategy-engine/pkg/exchange/paper"
	"strategy-engine/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	env, strat, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:  env.LogLevel,
		Format: env.LogFormat,
		Output: env.LogOutput,
	})
	if err != nil {
		return err
	}

	log.Info("starting strategy engine",
		logger.String("gateway", env.Gateway),
		logger.String("symbol", strat.Symbol),
		logger.String("timeframe", strat.Timeframe))

	database, err := db.New(env.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()

	gw, candles, err := buildGateway(env, log)
	if err != nil {
		return err
	}

	var opinion scorer.Opinion
	if env.AIScorerURL != "" {
		opinion = scorer.NewHTTPOpinion(env.AIScorerURL, env.AIScorerKey,
			time.Duration(env.AIScorerTimeout)*time.Millisecond)
	}
	sc, err := scorer.New(strat.Scorer, strat.Filters, opinion, log)
	if err != nil {
		return err
	}

	machine := position.NewMachine(strat.Symbol, database, bus, log)
	riskMgr := risk.NewManager(strat.Risk, database, bus, log)
	reconciler := position.NewReconciler(machine, gw, bus, log, 3, 2*time.Second)
	executor := order.NewExecutor(gw, database, bus, strat.Retry, log)
	balanceMgr := balance.NewManager(gw, time.Minute, log)
	healthMon := monitor.New(strat.Health, nil, database, bus, log)
	recorder := metrics.New()
	signalWriter := persistence.NewSignalWriter(database, bus, 50, 500*time.Millisecond, log)
	tradeWriter := persistence.NewTradeWriter(database, bus, log)
	bridge := notify.NewBridge(bus, log, buildSinks(env, log)...)

	ctrl := engine.New(engine.Deps{
		Config:     *strat,
		Gateway:    gw,
		Candles:    candles,
		Scorer:     sc,
		Risk:       riskMgr,
		Machine:    machine,
		Reconciler: reconciler,
		Executor:   executor,
		Balance:    balanceMgr,
		Monitor:    healthMon,
		Metrics:    recorder,
		Bus:        bus,
		Log:        log,
	})

	server := api.NewServer(api.Config{
		JWTSecret:   env.APIJWTSecret,
		OperatorKey: env.APIOperatorKey,
	}, ctrl, healthMon, recorder, database, log)

	var wg sync.WaitGroup
	runAll(ctx, &wg,
		balanceMgr.Run,
		healthMon.Run,
		signalWriter.Run,
		tradeWriter.Run,
		bridge.Run,
	)

	if env.Gateway == "binance" && strat.Watcher.On() {
		stream := binance.NewStream(strat.Symbol, strat.Timeframe, env.BinanceTestnet,
			ctrl.OnTick, nil, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(env.APIAddr); err != nil {
			log.Error("api server stopped", logger.Err(err))
			stop()
		}
	}()

	err = ctrl.Run(ctx)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Warn("api shutdown incomplete", logger.Err(serr))
	}
	wg.Wait()

	if errors.Is(err, context.Canceled) {
		log.Info("shutdown complete")
		return nil
	}
	return err
}

// buildGateway selects the venue. Paper mode pairs the simulated venue with
// a deterministic synthetic candle feed so dry runs need no credentials.
func buildGateway(env *config.Env, log *logger.Logger) (exchange.Gateway, exchange.CandleSource, error) {
	switch env.Gateway {
	case "binance":
		if env.BinanceAPIKey == "" || env.BinanceAPISecret == "" {
			return nil, nil, errors.New("binance gateway requires BINANCE_API_KEY and BINANCE_API_SECRET")
		}
		gw := binance.New(binance.Config{
			APIKey:    env.BinanceAPIKey,
			APISecret: env.BinanceAPISecret,
			Testnet:   env.BinanceTestnet,
		}, log)
		return gw, gw, nil
	case "paper":
		gw := paper.New(paper.Config{
			InitialBalance: env.PaperInitialBalance,
			FeeRate:        env.PaperFeeRate,
			SlippageBps:    env.PaperSlippageBps,
		}, log)
		return gw, paper.NewSynthSource(2000, time.Now().UnixNano()), nil
	default:
		return nil, nil, fmt.Errorf("unknown gateway %q", env.Gateway)
	}
}

func buildSinks(env *config.Env, log *logger.Logger) []notify.Sink {
	sinks := []notify.Sink{notify.NewLogSink(log)}
	if env.TelegramBotToken != "" && env.TelegramChatID != "" {
		sinks = append(sinks, notify.NewTelegramSink(env.TelegramBotToken, env.TelegramChatID))
	}
	return sinks
}

func runAll(ctx context.Context, wg *sync.WaitGroup, fns ...func(context.Context)) {
	for _, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
}
