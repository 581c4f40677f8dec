package pel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Richard1048576/gravity-reth/execution"
	"github.com/Richard1048576/gravity-reth/internal/telemetry"
	"github.com/Richard1048576/gravity-reth/pelchan"
	"github.com/Richard1048576/gravity-reth/prefilter"
	"github.com/Richard1048576/gravity-reth/storage"
)

// errClosed is returned internally when a barrier or handshake channel has
// been closed out from under a waiting stage; it always means the pipeline
// is shutting down, never a protocol error.
var errClosed = errors.New("pel: channel closed")

// execState is the value threaded through the execute barrier: the block
// number's finished header, plus the wall-clock time its execution stage
// started, so the next block can report how closely the two overlapped.
type execState struct {
	header    *gethtypes.Header
	startTime time.Time
}

// Core holds everything the pipeline stages need and is shared, read-only
// after construction, across every in-flight block's goroutine.
type Core struct {
	executedBlockHashTx *pelchan.Channel[common.Hash, common.Hash]
	verifiedBlockHashRx *pelchan.Channel[common.Hash, common.Hash]

	storage  storage.Storage
	executor execution.Executor
	spec     execution.ChainSpec

	eventCh chan<- MakeCanonicalEvent

	executeBlockBarrier  *pelchan.Channel[uint64, execState]
	merklizeBarrier      *pelchan.Channel[uint64, struct{}]
	sealBarrier          *pelchan.Channel[uint64, common.Hash]
	makeCanonicalBarrier *pelchan.Channel[uint64, time.Time]

	metrics *Metrics
	tracer  trace.Tracer

	// stages records how far each in-flight block has progressed, keyed by
	// block number, for observability only — nothing in the pipeline reads
	// it back to make decisions.
	stages sync.Map
}

// StageOf reports how far the block at number has progressed through the
// pipeline, or ok=false if Core has no record of it (not yet queued;
// entries are never removed once written).
func (c *Core) StageOf(number uint64) (BlockStage, bool) {
	v, ok := c.stages.Load(number)
	if !ok {
		return StageQueued, false
	}
	return v.(BlockStage), true
}

func (c *Core) setStage(number uint64, stage BlockStage) {
	c.stages.Store(number, stage)
}

// notifyBarrierOrUnwind publishes v under number on barrier. It reports
// false if the caller should unwind quietly: the barrier was already closed,
// which only happens when Service.Run is tearing the pipeline down and is
// never a protocol error. A notify that fails for any other reason means
// the same block number was notified twice, an invariant violation, and is
// escalated to Fatal rather than mistaken for shutdown.
func notifyBarrierOrUnwind[V any](barrier *pelchan.Channel[uint64, V], number uint64, v V, msg string) bool {
	ok, closed := barrier.Notify(number, v)
	if ok {
		return true
	}
	if closed {
		return false
	}
	Fatal(msg, "number", number)
	return false
}

// Process drives one ordered block through every pipeline stage. It returns
// once the block has been made canonical, or early (with no further side
// effects) if a barrier it is waiting on is closed out from under it, which
// only happens during shutdown.
func (c *Core) Process(ctx context.Context, ordered *OrderedBlock) {
	number := ordered.Number
	id := ordered.ID

	log.Debug("new ordered block", "id", id, "parentId", ordered.ParentID, "number", number)
	c.setStage(number, StageQueued)

	c.storage.InsertBlockID(number, id)

	parent, ok := c.executeBlockBarrier.Wait(number - 1)
	if !ok {
		return
	}

	ctx, _, endSpan := telemetry.StartSpanWithTracer(ctx, c.tracer, "pel.execute")
	startTime := time.Now()
	block, senders, output := c.executeOrderedBlock(ctx, ordered, parent.header)
	c.storage.InsertBundleState(number, output.StateChanges)
	record(c.metrics.ExecuteDuration, startTime)
	c.metrics.StartExecuteTimeDiff.Update(startTime.Sub(parent.startTime))

	header := gethtypes.CopyHeader(block.Header())
	header.GasUsed = output.GasUsed
	endSpan(nil)
	c.setStage(number, StageExecuted)

	// Notify as soon as stage 1 is done, before the (local, unbarriered)
	// root computation below, so block N+1's own stage 1 is never held up
	// waiting on roots it doesn't need from block N's header.
	// Publish a copy: header is mutated further below (remaining roots,
	// state root, parent hash) by this same goroutine, and the next block's
	// goroutine may read it from the barrier concurrently with those
	// mutations.
	if !notifyBarrierOrUnwind(c.executeBlockBarrier, number, execState{header: gethtypes.CopyHeader(header), startTime: startTime}, "execute barrier notified twice for block number") {
		return
	}

	outcome := c.calculateRoots(ordered, header, block.Transactions(), output)
	c.setStage(number, StageRooted)

	if _, ok := c.merklizeBarrier.Wait(number - 1); !ok {
		return
	}
	ctx, _, endSpan = telemetry.StartSpanWithTracer(ctx, c.tracer, "pel.merklize")
	merklizeStart := time.Now()
	root, hashed, updates, err := c.storage.StateRootWithUpdates(number)
	if err != nil {
		endSpan(err)
		Fatal("failed to compute state root", "number", number, "err", err)
	}
	record(c.metrics.MerklizeDuration, merklizeStart)
	endSpan(nil)
	if !notifyBarrierOrUnwind(c.merklizeBarrier, number, struct{}{}, "merklize barrier notified twice for block number") {
		return
	}
	header.Root = root
	c.setStage(number, StageMerklized)
	log.Debug("state trie merklized", "number", number, "id", id, "root", root)

	parentHash, ok := c.sealBarrier.Wait(number - 1)
	if !ok {
		return
	}
	_, _, endSpan = telemetry.StartSpanWithTracer(ctx, c.tracer, "pel.seal")
	sealStart := time.Now()
	header.ParentHash = parentHash
	body := gethtypes.Body{Transactions: block.Transactions(), Withdrawals: block.Withdrawals()}
	sealed := gethtypes.NewBlockWithHeader(header).WithBody(body)
	blockHash := sealed.Hash()
	record(c.metrics.SealDuration, sealStart)
	endSpan(nil)
	if !notifyBarrierOrUnwind(c.sealBarrier, number, blockHash, "seal barrier notified twice for block number") {
		return
	}
	c.setStage(number, StageSealed)
	log.Debug("block sealed", "number", number, "id", id, "hash", blockHash,
		"transactionsRoot", header.TxHash, "receiptsRoot", header.ReceiptHash)

	verifyStart := time.Now()
	if err := c.verifyExecutedBlockHash(ExecutedBlockMeta{BlockID: id, BlockHash: blockHash}); err != nil {
		return
	}
	record(c.metrics.VerifyDuration, verifyStart)
	c.setStage(number, StageVerified)
	log.Debug("block verified", "number", number, "id", id, "hash", blockHash)

	gasUsed := header.GasUsed

	prevFinish, ok := c.makeCanonicalBarrier.Wait(number - 1)
	if !ok {
		return
	}
	_, _, endSpan = telemetry.StartSpanWithTracer(ctx, c.tracer, "pel.makeCanonical")
	makeCanonicalStart := time.Now()
	c.makeCanonical(ctx, &ExecutedBlock{
		Block:       sealed,
		Senders:     senders,
		Outcome:     outcome,
		HashedState: hashed,
		TrieUpdates: updates,
	})
	c.storage.UpdateCanonical(number, blockHash)
	finishTime := time.Now()
	record(c.metrics.MakeCanonicalDuration, makeCanonicalStart)
	c.metrics.FinishCommitTimeDiff.Update(finishTime.Sub(prevFinish))
	endSpan(nil)
	if !notifyBarrierOrUnwind(c.makeCanonicalBarrier, number, finishTime, "make canonical barrier notified twice for block number") {
		return
	}
	c.setStage(number, StageCanonical)

	c.metrics.TotalGasUsed.Inc(int64(gasUsed))
	log.Debug("block made canonical", "number", number, "id", id)
}

// verifyExecutedBlockHash publishes the sealed hash to the Coordinator and
// waits for it to echo back a verified hash, which must agree with what was
// sealed. It returns errClosed if either handshake channel is torn down
// during shutdown.
func (c *Core) verifyExecutedBlockHash(meta ExecutedBlockMeta) error {
	if ok, _ := c.executedBlockHashTx.Notify(meta.BlockID, meta.BlockHash); !ok {
		return errClosed
	}
	hash, ok := c.verifiedBlockHashRx.Wait(meta.BlockID)
	if !ok {
		return errClosed
	}
	if hash != meta.BlockHash {
		Fatal("verified block hash disagrees with sealed hash", "id", meta.BlockID, "sealed", meta.BlockHash, "verified", hash)
	}
	return nil
}

// makeCanonical asks the host node to integrate block into its canonical
// chain and blocks until it confirms.
func (c *Core) makeCanonical(ctx context.Context, block *ExecutedBlock) {
	reply := make(chan struct{})
	select {
	case c.eventCh <- MakeCanonicalEvent{ExecutedBlock: block, Reply: reply}:
	case <-ctx.Done():
		return
	}
	select {
	case <-reply:
	case <-ctx.Done():
	}
}

// executeOrderedBlock builds the block header/body for ordered against
// parentHeader, screens its transactions through the pre-filter, and runs
// what remains through the executor.
func (c *Core) executeOrderedBlock(ctx context.Context, ordered *OrderedBlock, parentHeader *gethtypes.Header) (*gethtypes.Block, []common.Address, *execution.Output) {
	if len(ordered.Transactions) != len(ordered.Senders) {
		Fatal("ordered block transactions/senders length mismatch", "id", ordered.ID, "number", ordered.Number)
	}

	log.Debug("ready to execute block", "id", ordered.ID, "parentId", ordered.ParentID, "number", ordered.Number)

	bb, err := buildHeaderSkeleton(c.spec, parentHeader, ordered)
	if err != nil {
		Fatal("failed to build header skeleton", "id", ordered.ID, "number", ordered.Number, "err", err)
	}

	parentID, view, err := c.storage.GetStateView(ordered.Number - 1)
	if err != nil {
		Fatal("failed to load parent state view", "number", ordered.Number, "err", err)
	}
	if parentID != ordered.ParentID {
		Fatal("parent id mismatch", "number", ordered.Number, "expected", ordered.ParentID, "got", parentID)
	}

	baseFee, overflow := uint256.FromBig(bb.header.BaseFee)
	if overflow {
		Fatal("base fee overflows 256 bits", "number", ordered.Number)
	}

	filterStart := time.Now()
	txs, senders := prefilter.Filter(view, ordered.Transactions, ordered.Senders, baseFee)
	record(c.metrics.FilterTransactionTime, filterStart)

	bb.body.Transactions = txs
	block := gethtypes.NewBlockWithHeader(bb.header).WithBody(bb.body)

	output, err := c.executor.Execute(ctx, block, senders, view)
	if err != nil {
		c.dumpExecutionFailure(ordered, block, senders, err)
	}

	log.Debug("block executed", "id", ordered.ID, "parentId", ordered.ParentID, "number", ordered.Number)
	return block, senders, output
}

// calculateRoots fills in the header fields that can only be known after
// execution but are not needed by the next block's own stage 1, and so are
// computed after the execute barrier has already been notified: the
// requests hash (post-Prague), the transactions root, the receipts root,
// and the logs bloom. header is mutated in place.
func (c *Core) calculateRoots(ordered *OrderedBlock, header *gethtypes.Header, txs gethtypes.Transactions, out *execution.Output) *Outcome {
	outcome := NewOutcome(ordered.Number, out)

	if c.spec.IsPragueActiveAtTimestamp(ordered.Timestamp) {
		reqHash := outcome.RequestsHash()
		header.RequestsHash = &reqHash
	}

	header.TxHash = transactionsRoot(txs)
	header.ReceiptHash = outcome.ReceiptsRoot()
	header.Bloom = outcome.LogsBloom()

	return outcome
}

// dumpExecutionFailure writes the block that failed to execute (header,
// transactions, withdrawals, senders) to <block id>.json, best-effort, before
// escalating to Fatal.
func (c *Core) dumpExecutionFailure(ordered *OrderedBlock, block *gethtypes.Block, senders []common.Address, cause error) {
	type diagnostic struct {
		BlockID      common.Hash            `json:"blockId"`
		Number       uint64                 `json:"number"`
		Header       *gethtypes.Header      `json:"header"`
		Transactions gethtypes.Transactions `json:"transactions"`
		Withdrawals  gethtypes.Withdrawals  `json:"withdrawals"`
		Senders      []common.Address       `json:"senders"`
	}
	d := diagnostic{
		BlockID:      ordered.ID,
		Number:       ordered.Number,
		Header:       block.Header(),
		Transactions: block.Transactions(),
		Withdrawals:  block.Withdrawals(),
		Senders:      senders,
	}

	path := fmt.Sprintf("%s.json", ordered.ID)
	if f, ferr := os.Create(path); ferr != nil {
		log.Error("failed to create execution-failure diagnostic file", "path", path, "err", ferr)
	} else {
		if jerr := json.NewEncoder(f).Encode(d); jerr != nil {
			log.Error("failed to write execution-failure diagnostic", "path", path, "err", jerr)
		}
		f.Close()
	}

	Fatal("failed to execute block", "id", ordered.ID, "number", ordered.Number, "err", cause)
}

// tracerName is the instrumentation name the pipeline registers its tracer
// under.
const tracerName = "github.com/Richard1048576/gravity-reth/pel"

func newTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
