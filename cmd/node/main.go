package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/uhyunpark/creditswap/params"
	"github.com/uhyunpark/creditswap/pkg/abci"
	"github.com/uhyunpark/creditswap/pkg/api"
	"github.com/uhyunpark/creditswap/pkg/app/core/bank"
	"github.com/uhyunpark/creditswap/pkg/app/core/exchange"
	"github.com/uhyunpark/creditswap/pkg/app/core/mempool"
	"github.com/uhyunpark/creditswap/pkg/app/core/transaction"
	"github.com/uhyunpark/creditswap/pkg/app/escrow"
	"github.com/uhyunpark/creditswap/pkg/crypto"
	"github.com/uhyunpark/creditswap/pkg/metrics"
	"github.com/uhyunpark/creditswap/pkg/storage"
	"github.com/uhyunpark/creditswap/pkg/util"
)

// nodeStore is what the node needs from its persistence layer
type nodeStore interface {
	exchange.Journal
	bank.BalanceStore
	escrow.ChainStore
	Load() (*exchange.Snapshot, error)
	Close() error
}

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	var logger *zap.Logger
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogLevel, cfg.Node.LogFile)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	if err := run(cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
}

func run(cfg params.Config, sugar *zap.SugaredLogger) error {
	// ---- Storage ----
	var store nodeStore
	if cfg.Node.DataDir != "" {
		ps, err := storage.NewPebbleStore(cfg.Node.DataDir)
		if err != nil {
			return err
		}
		store = ps
		sugar.Infow("storage_opened", "backend", "pebble", "path", cfg.Node.DataDir)
	} else {
		store = storage.NewMemoryStore()
		sugar.Infow("storage_opened", "backend", "memory")
	}
	defer store.Close()

	// ---- Ledger ----
	ledger, err := bank.New(store, sugar.Named("bank"))
	if err != nil {
		return err
	}

	// ---- Metrics ----
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	// ---- Exchange ----
	snap, err := store.Load()
	if err != nil {
		return err
	}
	clock := util.NewBlockClock(time.UnixMilli(0))

	var srv *api.Server
	opts := []exchange.Option{
		exchange.WithClock(clock),
		exchange.WithLogger(sugar.Named("exchange")),
		exchange.WithJournal(store),
		exchange.WithEventHandler(func(ev exchange.Event) {
			m.ObserveEvent(ev)
			srv.OnEvent(ev)
		}),
	}
	if snap != nil {
		opts = append(opts, exchange.WithSnapshot(snap))
	}
	x, err := exchange.New(exchange.Config{
		Admin:            cfg.Exchange.Admin,
		Custody:          cfg.Exchange.Custody,
		CommunityFund:    cfg.Exchange.CommunityFund,
		Treasury:         cfg.Exchange.Treasury,
		FeePercent:       cfg.Exchange.FeePercent,
		MaxOrdersPerUser: cfg.Exchange.MaxOrdersPerUser,
	}, ledger, ledger, opts...)
	if err != nil {
		return err
	}
	m.SetActiveOrders(len(x.ActiveOrders()))
	m.SetPaused(x.IsPaused())

	// ---- App ----
	domain := crypto.NewDomain(cfg.Node.ChainID, cfg.Exchange.Custody)
	app, err := escrow.NewApp(x, transaction.NewVerifier(domain), clock,
		escrow.WithStore(store),
		escrow.WithLogger(sugar.Named("app")),
		escrow.WithMetrics(m),
		escrow.WithMempool(mempool.NewMempool(cfg.Node.MempoolSize)),
		escrow.WithReceiptHandler(func(r escrow.Receipt) { srv.OnReceipt(r) }),
	)
	if err != nil {
		return err
	}

	// ---- API Server ----
	apiCfg := api.Config{
		Addr:        cfg.API.Addr,
		ChainID:     cfg.Node.ChainID,
		CORSOrigins: cfg.API.CORSOrigins,
		Registry:    registry,
		Logger:      sugar.Named("api"),
	}
	if cfg.API.FaucetEnabled {
		apiCfg.Faucet = ledger
		sugar.Warnw("faucet_enabled", "note", "anyone can mint devnet funds")
	}
	srv = api.NewServer(app, ledger, apiCfg)

	// ---- Sequencer ----
	seq := abci.NewSequencer(app, util.RealClock{}, app.Height(), cfg.Node.MinBlockTime)
	seq.Logger = sugar.Named("sequencer")
	seq.OnCommit = srv.OnCommit

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("node_starting",
		"chain_id", cfg.Node.ChainID,
		"height", app.Height(),
		"admin", x.GetAdmin().Hex(),
		"custody", cfg.Exchange.Custody.Hex(),
		"min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds())

	// ---- Transaction Feeder (optional) ----
	// Enable with: ENABLE_TXGEN=true TXGEN_MODE=default|high
	if cfg.Node.TxGen {
		feedCfg := escrow.DefaultFeederConfig()
		if cfg.Node.TxGenMode == "high" {
			feedCfg = escrow.HighLoadConfig()
		}
		cancelFeeder, err := escrow.StartTxFeeder(ctx, app, ledger, feedCfg, sugar.Named("txfeeder"))
		if err != nil {
			return err
		}
		defer cancelFeeder()
	}

	errc := make(chan error, 2)
	running := 2
	go func() { errc <- srv.Start(ctx) }()
	go func() { errc <- seq.Run(ctx) }()

	// Progress logging loop
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sugar.Infow("node_stopping", "height", seq.Height())
			// Let the sequencer finish its block before the store closes
			for ; running > 0; running-- {
				select {
				case <-errc:
				case <-time.After(5 * time.Second):
					return errors.New("shutdown timed out")
				}
			}
			return nil
		case err := <-errc:
			running--
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		case <-ticker.C:
			sugar.Infow("node_progress",
				"height", seq.Height(),
				"mempool", app.MempoolSize(),
				"active_orders", len(x.ActiveOrders()))
		}
	}
}
