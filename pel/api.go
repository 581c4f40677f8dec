package pel

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Richard1048576/gravity-reth/pelchan"
)

// API is the Coordinator-facing façade: push ordered blocks in, pull
// executed hashes out for verification, push verified hashes back in to
// unblock commit.
type API struct {
	core *Core

	orderedBlocks *pelchan.Queue[*OrderedBlock]

	executedBlockHashRx *pelchan.Channel[common.Hash, common.Hash]
	verifiedBlockHashTx *pelchan.Channel[common.Hash, common.Hash]
}

// StageOf reports how far the block at number has progressed through the
// pipeline, for observability (dashboards, debug endpoints); see
// Core.StageOf.
func (a *API) StageOf(number uint64) (BlockStage, bool) {
	return a.core.StageOf(number)
}

// PushOrderedBlock enqueues block for execution. It reports false if the
// queue has already been closed.
func (a *API) PushOrderedBlock(block *OrderedBlock) bool {
	return a.orderedBlocks.Push(block)
}

// PullExecutedBlockHash blocks until the pipeline has sealed blockID,
// returning its hash, or returns ok=false if the pipeline has shut down.
func (a *API) PullExecutedBlockHash(blockID common.Hash) (common.Hash, bool) {
	return a.executedBlockHashRx.Wait(blockID)
}

// CommitExecutedBlockHash delivers the Coordinator's verification result for
// blockMeta, unblocking the pipeline's commit of that block. It reports
// false if the pipeline has already shut down.
func (a *API) CommitExecutedBlockHash(blockMeta ExecutedBlockMeta) bool {
	ok, _ := a.verifiedBlockHashTx.Notify(blockMeta.BlockID, blockMeta.BlockHash)
	return ok
}

// Close releases the API's side of the pipeline: it closes the ingress
// queue, which drains the Service loop and cascades into closing the
// execute/merklize/make-canonical barriers, and closes the verification
// handshake channel. Go has no destructor equivalent to a Rust Drop impl,
// so callers must call Close explicitly once they are done driving the
// pipeline; failing to do so leaves the Service loop, and any block
// currently waiting in Core.verifyExecutedBlockHash, blocked forever.
func (a *API) Close() {
	a.orderedBlocks.Close()
	a.verifiedBlockHashTx.Close()
}
