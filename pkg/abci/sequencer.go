package abci

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/creditswap/pkg/util"
)

const DefaultMaxTxBytes = 1 << 24

// Sequencer is the single-node block producer. Every MinBlockTime it asks
// the application for a proposal and, if the proposal is non-empty and
// accepted, finalizes it as the next block.
type Sequencer struct {
	App          Application
	Clock        util.Clock
	MinBlockTime time.Duration
	MaxTxBytes   int64

	Logger *zap.SugaredLogger

	// OnCommit runs after each finalized block
	OnCommit func(height int64, timestamp int64, appHash Hash)

	height atomic.Int64
}

// NewSequencer resumes block production after lastHeight
func NewSequencer(app Application, clock util.Clock, lastHeight int64, minBlockTime time.Duration) *Sequencer {
	s := &Sequencer{
		App:          app,
		Clock:        clock,
		MinBlockTime: minBlockTime,
		MaxTxBytes:   DefaultMaxTxBytes,
		Logger:       zap.NewNop().Sugar(),
	}
	s.height.Store(lastHeight)
	return s
}

// Height is the last finalized height
func (s *Sequencer) Height() int64 {
	return s.height.Load()
}

// Run produces blocks until ctx is cancelled
func (s *Sequencer) Run(ctx context.Context) error {
	s.Logger.Infow("sequencer_started", "height", s.Height(), "min_block_time", s.MinBlockTime.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Clock.After(s.MinBlockTime):
		}
		if _, err := s.Step(); err != nil {
			return err
		}
	}
}

// Step produces at most one block. It returns false when there was nothing
// to do.
func (s *Sequencer) Step() (bool, error) {
	next := s.height.Load() + 1

	prep := s.App.PrepareProposal(RequestPrepareProposal{Height: next, MaxTxBytes: s.MaxTxBytes})
	if len(prep.Txs) == 0 {
		return false, nil
	}
	if resp := s.App.ProcessProposal(RequestProcessProposal{Height: next, Txs: prep.Txs}); !resp.Accept {
		return false, fmt.Errorf("proposal at height %d rejected by application", next)
	}

	ts := s.Clock.Now().UnixMilli()
	resp, err := s.App.FinalizeBlock(RequestFinalizeBlock{Height: next, Timestamp: ts, Txs: prep.Txs})
	if err != nil {
		s.Logger.Errorw("finalize_failed", "height", next, "err", err)
		return false, fmt.Errorf("finalize block %d: %w", next, err)
	}
	s.height.Store(next)

	s.Logger.Infow("commit",
		"height", next,
		"txs", len(prep.Txs),
		"apphash", fmt.Sprintf("0x%x", resp.AppHash[:]))
	if s.OnCommit != nil {
		s.OnCommit(next, ts, resp.AppHash)
	}
	return true, nil
}
