// Package pel implements the pipelined execution layer: a coordinator that
// takes ordered blocks from an external consensus component and drives each
// one through execute, merklize, seal, verify, and commit, overlapping
// those stages across consecutive block numbers instead of running them to
// completion one block at a time.
package pel

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/Richard1048576/gravity-reth/execution"
	"github.com/Richard1048576/gravity-reth/pelchan"
	"github.com/Richard1048576/gravity-reth/storage"
)

// Config bundles everything needed to launch a pipeline instance: the
// chain's hardfork rules, the external state/trie database, the block
// executor, and where the chain currently stands.
type Config struct {
	ChainSpec execution.ChainSpec
	Storage   storage.Storage
	Executor  execution.Executor

	LatestBlockHeader *gethtypes.Header
	LatestBlockHash   common.Hash

	// ExecutionArgs is delivered exactly once, before the first ordered
	// block is processed.
	ExecutionArgs <-chan ExecutionArgs

	// MetricsRegistry is where stage metrics are registered; nil selects
	// metrics.DefaultRegistry.
	MetricsRegistry metrics.Registry
}

// New wires up a pipeline instance from cfg, launches its dispatch loop in
// the background, registers the process-wide Ext so the host node can drain
// MakeCanonicalEvents, and returns the Coordinator-facing API.
//
// Every barrier is seeded at cfg.LatestBlockHeader's number so that the
// first ordered block (number+1) can proceed immediately instead of waiting
// on a block number that will never arrive.
func New(ctx context.Context, cfg Config) *API {
	latestNumber := cfg.LatestBlockHeader.Number.Uint64()
	startTime := time.Now()

	executedBlockHash := pelchan.New[common.Hash, common.Hash]()
	verifiedBlockHash := pelchan.New[common.Hash, common.Hash]()
	orderedBlocks := pelchan.NewQueue[*OrderedBlock]()
	events := make(chan MakeCanonicalEvent)

	core := &Core{
		executedBlockHashTx: executedBlockHash,
		verifiedBlockHashRx: verifiedBlockHash,
		storage:             cfg.Storage,
		executor:            cfg.Executor,
		spec:                cfg.ChainSpec,
		eventCh:             events,
		executeBlockBarrier: pelchan.NewWithStates(map[uint64]execState{
			latestNumber: {header: cfg.LatestBlockHeader, startTime: startTime},
		}),
		merklizeBarrier: pelchan.NewWithStates(map[uint64]struct{}{
			latestNumber: {},
		}),
		sealBarrier: pelchan.NewWithStates(map[uint64]common.Hash{
			latestNumber: cfg.LatestBlockHash,
		}),
		makeCanonicalBarrier: pelchan.NewWithStates(map[uint64]time.Time{
			latestNumber: startTime,
		}),
		metrics: NewMetrics(cfg.MetricsRegistry),
		tracer:  newTracer(),
	}

	service := &Service{
		core:          core,
		orderedBlocks: orderedBlocks,
		executionArgs: cfg.ExecutionArgs,
	}
	go service.Run(ctx, latestNumber)

	RegisterExt(&Ext{Events: events})

	return &API{
		core:                core,
		orderedBlocks:       orderedBlocks,
		executedBlockHashRx: executedBlockHash,
		verifiedBlockHashTx: verifiedBlockHash,
	}
}
