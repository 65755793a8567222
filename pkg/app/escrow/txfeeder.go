package escrow

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// TxFeederConfig controls transaction generation rate
type TxFeederConfig struct {
	BatchSize   int           // Number of txs to generate per batch
	Interval    time.Duration // How often to generate batches
	NumAccounts int           // Number of simulated traders
	Token       common.Address
	Credits     int64 // credits minted to each seller
	Native      int64 // native units deposited to each buyer
}

// DefaultFeederConfig returns reasonable defaults for a devnet
func DefaultFeederConfig() TxFeederConfig {
	return TxFeederConfig{
		BatchSize:   10,
		Interval:    100 * time.Millisecond,
		NumAccounts: 20,
		Token:       common.HexToAddress("0x00000000000000000000000000000000000cced1"),
		Credits:     1_000_000,
		Native:      1_000_000_000,
	}
}

// HighLoadConfig returns config for stress testing
func HighLoadConfig() TxFeederConfig {
	cfg := DefaultFeederConfig()
	cfg.BatchSize = 100
	cfg.NumAccounts = 200
	return cfg
}

// StartTxFeeder funds simulated traders through funder, then keeps
// submitting generated transactions to app until ctx is cancelled
func StartTxFeeder(ctx context.Context, app *App, funder Funder, cfg TxFeederConfig, logger *zap.SugaredLogger) (context.CancelFunc, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	x := app.Exchange()
	domain := app.verifier.Domain()
	gen, err := NewTxGenerator(cfg.NumAccounts, cfg.Token, domain, x.ActiveOrders)
	if err != nil {
		return nil, err
	}
	if err := gen.Fund(funder, cfg.Credits, cfg.Native); err != nil {
		return nil, err
	}

	feedCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		start := time.Now()
		submitted, rejected := 0, 0
		logger.Infow("txfeeder_started", "batch", cfg.BatchSize, "interval", cfg.Interval.String(), "accounts", cfg.NumAccounts)

		for {
			select {
			case <-feedCtx.Done():
				elapsed := time.Since(start)
				logger.Infow("txfeeder_stopped",
					"submitted", submitted,
					"rejected", rejected,
					"tx_per_sec", float64(submitted)/elapsed.Seconds())
				return

			case <-ticker.C:
				for _, tx := range gen.GenerateBatch(cfg.BatchSize) {
					if _, err := app.SubmitTx(tx); err != nil {
						rejected++
						continue
					}
					submitted++
				}
			}
		}
	}()

	return cancel, nil
}
