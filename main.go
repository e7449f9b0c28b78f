// Command futures-signal-engine runs the streaming signal-generation
// core of spec.md: it loads configuration, wires every internal
// component, seeds the candle cache, waits for btc_data_ready, and
// drives the control loop until an interrupt or termination signal
// arrives. Grounded on the teacher's cmd/bot/main.go: the same
// load-config -> init-logging -> construct-components -> start-feeds ->
// block-on-signal shape, generalized from the teacher's HTTP+worker
// dual-mode startup to this engine's single worker-mode startup (the
// HTTP surface is an external collaborator per spec.md §1, out of
// scope for this core).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"futures-signal-engine/config"
	"futures-signal-engine/internal/candle"
	"futures-signal-engine/internal/clock"
	"futures-signal-engine/internal/datacache"
	"futures-signal-engine/internal/engine"
	"futures-signal-engine/internal/exchange"
	"futures-signal-engine/internal/feed"
	"futures-signal-engine/internal/filters"
	"futures-signal-engine/internal/journal"
	"futures-signal-engine/internal/logging"
	"futures-signal-engine/internal/metrics"
	"futures-signal-engine/internal/regime"
	"futures-signal-engine/internal/risk"
	"futures-signal-engine/internal/secrets"
	"futures-signal-engine/internal/signal"
)

// logNotifier is the baseline Notifier (spec.md §6): it logs every
// outbound event at startup, in the absence of any downstream
// notification channel being wired (notification formatting/delivery is
// an external collaborator per spec.md §1).
type logNotifier struct {
	log *logging.Logger
}

func (n *logNotifier) EmitSignal(s signal.Signal) {
	n.log.WithFields(map[string]interface{}{
		"symbol":     s.Symbol,
		"direction":  string(s.Direction),
		"entry":      s.Entry,
		"stop_loss":  s.StopLoss,
		"take_profit": s.TakeProfit,
		"rr_ratio":   s.RRRatio,
		"grade":      string(s.Grade),
		"score":      s.Score,
	}).Info("signal emitted")
}

func (n *logNotifier) EmitTradeUpdate(u engine.TradeUpdate) {
	n.log.WithFields(map[string]interface{}{
		"symbol":     u.Symbol,
		"action":     string(u.Action),
		"price":      u.Price,
		"r_multiple": u.RMultiple,
	}).Info("trade lifecycle update")
}

func (n *logNotifier) EmitAlert(a engine.Alert) {
	fields := map[string]interface{}{"level": string(a.Level), "title": a.Title}
	entry := n.log.WithFields(fields)
	switch a.Level {
	case engine.AlertCritical, engine.AlertError:
		entry.Error(a.Message)
	case engine.AlertWarning:
		entry.Warn(a.Message)
	default:
		entry.Info(a.Message)
	}
}

func main() {
	configPath := flag.String("config", "", "path to a JSON config file layered over defaults")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Credential resolution happens before Validate, per spec.md §7's
	// secrets contract: Vault may supply what the environment left empty.
	if cfg.Exchange.APIKey == "" && cfg.Vault.Enabled {
		store, serr := secrets.NewStore(secrets.Config{
			Enabled:    cfg.Vault.Enabled,
			Address:    cfg.Vault.Address,
			Token:      cfg.Vault.Token,
			TLSEnabled: cfg.Vault.TLSEnabled,
			CACert:     cfg.Vault.CACert,
			SecretPath: cfg.Vault.SecretPath,
		})
		if serr != nil {
			fmt.Fprintf(os.Stderr, "secrets: %v\n", serr)
			os.Exit(1)
		}
		if creds, cerr := store.Credentials(context.Background(), "exchange"); cerr == nil {
			cfg.Exchange.APIKey = creds.APIKey
			cfg.Exchange.APISecret = creds.SecretKey
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("structured logging initialized")

	restClient := exchange.NewBinanceFuturesClient(cfg.Exchange.BaseURL)
	candleCache := candle.NewCache(cfg.Cache.Size)
	dcache := datacache.NewCache(datacache.Config{
		Enabled:  cfg.DataCache.Enabled,
		Address:  cfg.DataCache.Address,
		Password: cfg.DataCache.Password,
		DB:       cfg.DataCache.DB,
		PoolSize: cfg.DataCache.PoolSize,
	})

	var mirror journal.PostgresMirror
	if cfg.Journal.PostgresDSN != "" {
		logger.Warn("journal.postgres_dsn is set but DSN-string parsing is not wired; configure journal.dir-relative Postgres fields individually if a mirror is required")
	}
	tradeJournal, err := journal.NewJournal(cfg.Journal.Dir, mirror)
	if err != nil {
		logger.WithError(err).Fatal("constructing trade journal")
	}

	reg := prometheus.NewRegistry()
	coll := metrics.NewCollector(reg)

	orchestrator := filters.NewOrchestrator()
	if len(cfg.Filters.Tier2Weights) > 0 {
		for name, weight := range cfg.Filters.Tier2Weights {
			filters.Tier2Weight[name] = weight
		}
	}

	profiles := signal.DefaultProfiles()
	for name, p := range cfg.Markets {
		profiles[regime.MarketType(name)] = signal.Profile{SLMult: p.SLMult, TPMult: p.TPMult, MinRR: p.MinRR}
	}
	generator := signal.NewGenerator(profiles)

	riskCfg := risk.Config{
		AccountSize:           cfg.Risk.AccountSize,
		MaxConcurrent:         cfg.Risk.MaxConcurrent,
		DailyProfitTargetPct:  cfg.Risk.DailyProfitTargetPct,
		MaxDailyDrawdownPct:   cfg.Risk.MaxDailyDrawdownPct,
		MaxSignalsPerDay:      cfg.Risk.MaxSignalsPerDay,
		MaxConsecutiveLosses:  cfg.Risk.MaxConsecutiveLosses,
		CooldownMinutes:       cfg.Risk.CooldownMinutes,
		BreakEvenAtR:          cfg.Risk.BreakEvenAtR,
		PartialExitAtR:        cfg.Risk.PartialExitAtR,
		TrendingMaxHoldingMin: cfg.Risk.TrendingMaxHoldingMin,
		ChoppyMaxHoldingMin:   cfg.Risk.ChoppyMaxHoldingMin,
		Sizing: risk.PositionSizeConfig{
			RiskPerTradePct: cfg.Risk.RiskPerTradePct,
			MaxPositionPct:  cfg.Risk.MaxPositionPct,
			MinPosition:     cfg.Risk.MinPosition,
			MaxATRPct:       cfg.Risk.MaxATRPct,
			Leverage:        cfg.Risk.MaxLeverage,
		},
	}
	clk := clock.Real{}
	riskMgr := risk.NewManager(riskCfg, clk, logging.WithComponent("risk"))

	notifier := &logNotifier{log: logging.WithComponent("notifier")}

	eng := engine.New(
		engine.Config{
			BTCSymbol:           cfg.Feed.BTCSymbol,
			Symbols:             cfg.Feed.Symbols,
			AccountSize:         cfg.Risk.AccountSize,
			BTCRegimeRefreshMin: cfg.BTCRegime.RefreshMin,
			TickInterval:        5 * time.Second,
			NotifierQueueSize:   256,
		},
		candleCache,
		restClient,
		dcache,
		orchestrator,
		generator,
		riskMgr,
		tradeJournal,
		coll,
		notifier,
		clk,
	)

	pairs := buildPairs(cfg.Feed.Symbols, cfg.Feed.BTCSymbol)
	feedMgr := feed.NewManager(restClient, candleCache, eng, pairs, cfg.Cache.Size)

	logger.Info("seeding candle cache from REST backfill")
	if err := feedMgr.Seed(cfg.Feed.BTCSymbol); err != nil {
		logger.WithError(err).Fatal("seeding candle cache")
	}
	if err := eng.Bootstrap(feedMgr.BTCDataReady()); err != nil {
		logger.WithError(err).Fatal("engine bootstrap: btc_data_ready latch not set")
	}

	onFatal := func(err error) {
		logger.WithError(err).Error("feed manager exhausted reconnect attempts")
		coll.FeedReconnects.Inc()
		eng.RecordReconnect()
		eng.SetDegraded("ws", true)
	}
	feedMgr.Start(cfg.Exchange.WSBaseURL, onFatal)
	logger.Info("feed manager started")

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping engine")
	cancel()
	feedMgr.Stop()
}

// buildPairs fans every configured symbol out across the primary and
// supporting timeframes spec.md §4.9 step 2 reads from the cache (5m,
// 15m, 1h, 4h), plus BTC's set (needed for regime detection regardless
// of whether BTC is itself in the trading symbol list).
func buildPairs(symbols []string, btcSymbol string) []feed.Pair {
	timeframes := []candle.Timeframe{candle.TF5m, candle.TF15m, candle.TF1h, candle.TF4h}
	seen := make(map[string]struct{})
	var pairs []feed.Pair
	add := func(sym string) {
		if _, ok := seen[sym]; ok {
			return
		}
		seen[sym] = struct{}{}
		for _, tf := range timeframes {
			pairs = append(pairs, feed.Pair{Symbol: sym, TF: tf})
		}
	}
	add(btcSymbol)
	for _, s := range symbols {
		add(s)
	}
	return pairs
}
