package pel

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/Richard1048576/gravity-reth/execution"
)

// blockGasLimit is the fixed per-block gas limit the pipeline assigns to
// every block it builds; the Coordinator, not on-chain gas-limit voting,
// governs throughput.
const blockGasLimit = 1_000_000_000

// buildingBlock is the Ethereum block under construction: a mutable header
// plus body, threaded through stages 1-4 before being frozen into a sealed
// *gethtypes.Block.
type buildingBlock struct {
	header *gethtypes.Header
	body   gethtypes.Body
}

// buildHeaderSkeleton constructs the initial header for ordered against
// parent, gating the optional Shanghai/Cancun fields on the chain spec's
// timestamp-indexed hardfork predicates.
func buildHeaderSkeleton(spec execution.ChainSpec, parent *gethtypes.Header, ordered *OrderedBlock) (*buildingBlock, error) {
	env, err := spec.NextBlockEnv(parent, execution.NextBlockEnvAttributes{
		Timestamp:             ordered.Timestamp,
		SuggestedFeeRecipient: ordered.Coinbase,
		PrevRandao:            ordered.PrevRandao,
		GasLimit:              blockGasLimit,
	})
	if err != nil {
		return nil, err
	}

	header := &gethtypes.Header{
		UncleHash:     gethtypes.EmptyUncleHash,
		Coinbase:      ordered.Coinbase,
		Number:        new(big.Int).SetUint64(ordered.Number),
		GasLimit:      env.GasLimit,
		Time:          ordered.Timestamp,
		MixDigest:     ordered.PrevRandao,
		Nonce:         gethtypes.BlockNonce{}, // beacon nonce: all zero
		Difficulty:    big.NewInt(0),
		BaseFee:       env.BaseFee,
	}

	body := gethtypes.Body{}

	if spec.IsShanghaiActiveAtTimestamp(ordered.Timestamp) {
		if len(ordered.Withdrawals) == 0 {
			root := gethtypes.EmptyWithdrawalsHash
			header.WithdrawalsHash = &root
			body.Withdrawals = gethtypes.Withdrawals{}
		} else {
			root := gethtypes.DeriveSha(ordered.Withdrawals, trie.NewStackTrie(nil))
			header.WithdrawalsHash = &root
			body.Withdrawals = ordered.Withdrawals
		}
	}

	if spec.IsCancunActiveAtTimestamp(ordered.Timestamp) {
		// provisional: using the Coordinator's opaque parent block id as
		// parent_beacon_block_root is questionable but left unresolved here;
		// see the design notes for the reasoning.
		beaconRoot := ordered.ParentID
		header.ParentBeaconRoot = &beaconRoot

		excessBlobGas := uint64(0)
		blobGasUsed := uint64(0)
		header.ExcessBlobGas = &excessBlobGas
		header.BlobGasUsed = &blobGasUsed
	}

	return &buildingBlock{header: header, body: body}, nil
}

// transactionsRoot derives the body's transaction trie root.
func transactionsRoot(txs gethtypes.Transactions) common.Hash {
	return gethtypes.DeriveSha(txs, trie.NewStackTrie(nil))
}
