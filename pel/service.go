package pel

import (
	"context"
	"time"

	"github.com/Richard1048576/gravity-reth/pelchan"
)

// Service owns the ingress side of the pipeline: it waits once for the
// startup ExecutionArgs, then dispatches every ordered block it receives to
// its own goroutine, so that blocks N and N+1 run concurrently and are only
// serialised where a barrier says they must be.
type Service struct {
	core *Core

	orderedBlocks *pelchan.Queue[*OrderedBlock]
	executionArgs <-chan ExecutionArgs
}

// Run blocks until orderedBlocks is closed. latestBlockNumber is the number
// of the last block already committed before this service started; the
// first ordered block it accepts must be latestBlockNumber+1.
func (s *Service) Run(ctx context.Context, latestBlockNumber uint64) {
	args, ok := <-s.executionArgs
	if !ok {
		return
	}
	s.core.initStorage(args)

	for {
		recvStart := time.Now()
		ordered, ok := s.orderedBlocks.Recv()
		if !ok {
			s.core.executedBlockHashTx.Close()
			s.core.executeBlockBarrier.Close()
			s.core.merklizeBarrier.Close()
			s.core.makeCanonicalBarrier.Close()
			return
		}
		record(s.core.metrics.RecvBlockTimeDiff, recvStart)

		if ordered.Number != latestBlockNumber+1 {
			Fatal("ordered block number is not monotone", "expected", latestBlockNumber+1, "got", ordered.Number)
		}
		latestBlockNumber = ordered.Number
		// Only block numbers are checked here; ordered.ParentID is not compared
		// with the previous block's ID (see the parent-id check in
		// Core.executeOrderedBlock for the only indirect check).

		core := s.core
		go core.Process(ctx, ordered)
	}
}

// initStorage seeds the storage's number-to-id index from the one-shot
// startup arguments.
func (c *Core) initStorage(args ExecutionArgs) {
	for number, id := range args.BlockNumberToBlockID {
		c.storage.InsertBlockID(number, id)
	}
}
