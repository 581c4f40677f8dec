package pel

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Richard1048576/gravity-reth/execution"
	"github.com/Richard1048576/gravity-reth/pelchan"
	"github.com/Richard1048576/gravity-reth/storage"
)

// fakeChainSpec is a no-hardforks-active ChainSpec; NextBlockEnv always
// picks a base fee of 1 wei and passes the requested gas limit through.
type fakeChainSpec struct {
	shanghai, cancun, prague bool
}

func (f fakeChainSpec) IsShanghaiActiveAtTimestamp(uint64) bool { return f.shanghai }
func (f fakeChainSpec) IsCancunActiveAtTimestamp(uint64) bool   { return f.cancun }
func (f fakeChainSpec) IsPragueActiveAtTimestamp(uint64) bool   { return f.prague }

func (f fakeChainSpec) NextBlockEnv(parent *gethtypes.Header, attrs execution.NextBlockEnvAttributes) (execution.BlockEnv, error) {
	return execution.BlockEnv{BaseFee: big.NewInt(1), GasLimit: attrs.GasLimit}, nil
}

// fakeStateView never finds an account; any transaction checked against it
// is dropped by the pre-filter. That is fine for these tests, which only
// exercise empty blocks.
type fakeStateView struct{}

func (fakeStateView) Account(common.Address) (storage.Account, bool) { return storage.Account{}, false }

// fakeExecutor "executes" a block by charging 21000 gas per transaction and
// producing no receipts; it never fails.
type fakeExecutor struct{}

func (fakeExecutor) Execute(ctx context.Context, block *gethtypes.Block, senders []common.Address, db storage.StateView) (*execution.Output, error) {
	return &execution.Output{
		Receipts: gethtypes.Receipts{},
		GasUsed:  uint64(len(block.Transactions())) * 21000,
	}, nil
}

// blockingExecutor behaves like fakeExecutor except that it parks the
// caller at holdNumber until released, standing in for a block still
// mid-execute when the pipeline is asked to shut down.
type blockingExecutor struct {
	fakeExecutor
	holdNumber uint64
	started    chan struct{}
	release    chan struct{}
}

func (e *blockingExecutor) Execute(ctx context.Context, block *gethtypes.Block, senders []common.Address, db storage.StateView) (*execution.Output, error) {
	if block.NumberU64() == e.holdNumber {
		close(e.started)
		<-e.release
	}
	return e.fakeExecutor.Execute(ctx, block, senders, db)
}

// fakeStorage is an in-memory, mutex-guarded storage.Storage.
type fakeStorage struct {
	mu        sync.Mutex
	blockIDs  map[uint64]common.Hash
	canonical map[uint64]common.Hash
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{blockIDs: map[uint64]common.Hash{}, canonical: map[uint64]common.Hash{}}
}

func (s *fakeStorage) InsertBlockID(number uint64, id common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockIDs[number] = id
}

func (s *fakeStorage) InsertBundleState(uint64, interface{}) {}

func (s *fakeStorage) GetStateView(number uint64) (common.Hash, storage.StateView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockIDs[number], fakeStateView{}, nil
}

func (s *fakeStorage) StateRootWithUpdates(number uint64) (common.Hash, storage.HashedState, storage.TrieUpdates, error) {
	return common.BigToHash(new(big.Int).SetUint64(number)), nil, nil, nil
}

func (s *fakeStorage) UpdateCanonical(number uint64, hash common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canonical[number] = hash
}

func genesisHeader(number uint64) *gethtypes.Header {
	return &gethtypes.Header{
		Number:   new(big.Int).SetUint64(number),
		GasLimit: 30_000_000,
		BaseFee:  big.NewInt(1),
	}
}

// serveMakeCanonical drains MakeCanonicalEvents from the process-wide Ext
// and acknowledges each one immediately, standing in for the host node's
// canonicalization logic.
func serveMakeCanonical(t *testing.T) {
	t.Helper()
	ext := GetExt()
	require.NotNil(t, ext)
	go func() {
		for ev := range ext.Events {
			close(ev.Reply)
		}
	}()
}

func TestPipelineSingleEmptyBlock(t *testing.T) {
	resetExtForTest()

	genesisID := common.HexToHash("0xaa")
	genesisHash := common.HexToHash("0xbb")
	st := newFakeStorage()
	st.blockIDs[0] = genesisID

	argsCh := make(chan ExecutionArgs, 1)
	argsCh <- ExecutionArgs{BlockNumberToBlockID: map[uint64]common.Hash{0: genesisID}}

	api := New(context.Background(), Config{
		ChainSpec:         fakeChainSpec{},
		Storage:           st,
		Executor:          fakeExecutor{},
		LatestBlockHeader: genesisHeader(0),
		LatestBlockHash:   genesisHash,
		ExecutionArgs:     argsCh,
	})
	serveMakeCanonical(t)

	blockID := common.HexToHash("0x01")
	ok := api.PushOrderedBlock(&OrderedBlock{
		ParentID: genesisID,
		ID:       blockID,
		Number:   1,
		Timestamp: 1,
	})
	require.True(t, ok)

	hash, ok := api.PullExecutedBlockHash(blockID)
	require.True(t, ok)
	assert.NotEqual(t, common.Hash{}, hash)

	ok = api.CommitExecutedBlockHash(ExecutedBlockMeta{BlockID: blockID, BlockHash: hash})
	require.True(t, ok)

	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		got, ok := st.canonical[1]
		return ok && got == hash
	}, time.Second, time.Millisecond)

	stage, ok := api.StageOf(1)
	require.True(t, ok)
	assert.Equal(t, StageCanonical, stage)

	_, ok = api.StageOf(42)
	assert.False(t, ok, "no record should exist for a block never pushed")

	api.Close()
}

func TestPipelineOverlappingBlocks(t *testing.T) {
	resetExtForTest()

	genesisID := common.HexToHash("0xaa")
	genesisHash := common.HexToHash("0xbb")
	st := newFakeStorage()
	st.blockIDs[0] = genesisID

	argsCh := make(chan ExecutionArgs, 1)
	argsCh <- ExecutionArgs{BlockNumberToBlockID: map[uint64]common.Hash{0: genesisID}}

	api := New(context.Background(), Config{
		ChainSpec:         fakeChainSpec{},
		Storage:           st,
		Executor:          fakeExecutor{},
		LatestBlockHeader: genesisHeader(0),
		LatestBlockHash:   genesisHash,
		ExecutionArgs:     argsCh,
	})
	serveMakeCanonical(t)

	const n = 5
	ids := make([]common.Hash, n+1)
	ids[0] = genesisID
	for i := 1; i <= n; i++ {
		ids[i] = common.BigToHash(big.NewInt(int64(i)))
		require.True(t, api.PushOrderedBlock(&OrderedBlock{
			ParentID:  ids[i-1],
			ID:        ids[i],
			Number:    uint64(i),
			Timestamp: uint64(i),
		}))
	}

	for i := 1; i <= n; i++ {
		hash, ok := api.PullExecutedBlockHash(ids[i])
		require.True(t, ok, "block %d", i)
		require.True(t, api.CommitExecutedBlockHash(ExecutedBlockMeta{BlockID: ids[i], BlockHash: hash}))
	}

	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return len(st.canonical) == n
	}, time.Second, time.Millisecond)

	api.Close()
}

func TestPipelineVerificationMismatchIsFatal(t *testing.T) {
	genesisID := common.HexToHash("0xaa")
	genesisHash := common.HexToHash("0xbb")
	st := newFakeStorage()
	st.blockIDs[0] = genesisID

	executedBlockHash := pelchan.New[common.Hash, common.Hash]()
	verifiedBlockHash := pelchan.New[common.Hash, common.Hash]()

	blockID := common.HexToHash("0x01")
	wrongHash := common.HexToHash("0xdead")
	verifiedBlockHash.Notify(blockID, wrongHash)

	core := &Core{
		executedBlockHashTx: executedBlockHash,
		verifiedBlockHashRx: verifiedBlockHash,
		storage:             st,
		executor:            fakeExecutor{},
		spec:                fakeChainSpec{},
		eventCh:             make(chan MakeCanonicalEvent, 1),
		executeBlockBarrier: pelchan.NewWithStates(map[uint64]execState{
			0: {header: genesisHeader(0), startTime: time.Now()},
		}),
		merklizeBarrier: pelchan.NewWithStates(map[uint64]struct{}{0: {}}),
		sealBarrier:     pelchan.NewWithStates(map[uint64]common.Hash{0: genesisHash}),
		makeCanonicalBarrier: pelchan.NewWithStates(map[uint64]time.Time{
			0: time.Now(),
		}),
		metrics: NewMetrics(nil),
		tracer:  newTracer(),
	}

	ordered := &OrderedBlock{ParentID: genesisID, ID: blockID, Number: 1, Timestamp: 1}

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected Process to panic on a verification mismatch")
		assert.Contains(t, fmt.Sprint(r), "verified block hash disagrees")
	}()
	core.Process(context.Background(), ordered)
}

func TestPipelineCloseDrainsService(t *testing.T) {
	resetExtForTest()

	genesisID := common.HexToHash("0xaa")
	genesisHash := common.HexToHash("0xbb")
	st := newFakeStorage()
	st.blockIDs[0] = genesisID

	argsCh := make(chan ExecutionArgs, 1)
	argsCh <- ExecutionArgs{BlockNumberToBlockID: map[uint64]common.Hash{0: genesisID}}

	api := New(context.Background(), Config{
		ChainSpec:         fakeChainSpec{},
		Storage:           st,
		Executor:          fakeExecutor{},
		LatestBlockHeader: genesisHeader(0),
		LatestBlockHash:   genesisHash,
		ExecutionArgs:     argsCh,
	})
	serveMakeCanonical(t)

	api.Close()

	ok := api.PushOrderedBlock(&OrderedBlock{ParentID: genesisID, ID: common.HexToHash("0x01"), Number: 1})
	assert.False(t, ok, "push after Close should fail")

	_, ok = api.PullExecutedBlockHash(common.HexToHash("0x01"))
	assert.False(t, ok, "pull after Close should report closed")
}

// TestPipelineInFlightBlockUnwindsCleanlyOnClose drives a block that is still
// mid-execute when Close tears the pipeline down: the execute barrier closes
// out from under it, and Process must unwind quietly rather than mistake the
// closed barrier for a duplicate notify and crash the process.
func TestPipelineInFlightBlockUnwindsCleanlyOnClose(t *testing.T) {
	resetExtForTest()

	genesisID := common.HexToHash("0xaa")
	genesisHash := common.HexToHash("0xbb")
	st := newFakeStorage()
	st.blockIDs[0] = genesisID

	argsCh := make(chan ExecutionArgs, 1)
	argsCh <- ExecutionArgs{BlockNumberToBlockID: map[uint64]common.Hash{0: genesisID}}

	executor := &blockingExecutor{holdNumber: 2, started: make(chan struct{}), release: make(chan struct{})}

	api := New(context.Background(), Config{
		ChainSpec:         fakeChainSpec{},
		Storage:           st,
		Executor:          executor,
		LatestBlockHeader: genesisHeader(0),
		LatestBlockHash:   genesisHash,
		ExecutionArgs:     argsCh,
	})
	serveMakeCanonical(t)

	blockID1 := common.HexToHash("0x01")
	require.True(t, api.PushOrderedBlock(&OrderedBlock{ParentID: genesisID, ID: blockID1, Number: 1, Timestamp: 1}))

	hash1, ok := api.PullExecutedBlockHash(blockID1)
	require.True(t, ok)
	require.True(t, api.CommitExecutedBlockHash(ExecutedBlockMeta{BlockID: blockID1, BlockHash: hash1}))

	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		_, ok := st.canonical[1]
		return ok
	}, time.Second, time.Millisecond)

	blockID2 := common.HexToHash("0x02")
	require.True(t, api.PushOrderedBlock(&OrderedBlock{ParentID: blockID1, ID: blockID2, Number: 2, Timestamp: 2}))

	select {
	case <-executor.started:
	case <-time.After(time.Second):
		t.Fatal("block 2 never reached execution")
	}

	done := make(chan struct{})
	go func() {
		api.Close()
		close(done)
	}()

	// Give Close a head start so it races Service.Run's barrier-closing
	// against block 2's still-parked goroutine, the same race the
	// maintainer's shutdown scenario exercises.
	time.Sleep(10 * time.Millisecond)
	close(executor.release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return; block 2 likely deadlocked or crashed the process instead of unwinding")
	}

	_, ok = api.PullExecutedBlockHash(blockID2)
	assert.False(t, ok, "block 2 should unwind on the closed execute barrier, never reaching seal")
}
