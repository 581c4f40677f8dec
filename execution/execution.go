// Package execution defines the external collaborators for running the EVM
// and for querying chain-spec hardfork activation, represented purely as
// interfaces the pipeline coordinator drives.
package execution

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/Richard1048576/gravity-reth/storage"
)

// Output is the aggregated result of executing one block's worth of
// transactions against the EVM: the post-state bundle (opaque to this
// module — it is handed straight to Storage.InsertBundleState), the
// receipts, the EIP-7685 requests, and cumulative gas used.
type Output struct {
	StateChanges interface{}
	Receipts     gethtypes.Receipts
	// Requests holds the raw, per-type EIP-7685 request payloads produced
	// while executing the block (deposits, withdrawals, consolidations);
	// RequestsHash derives the header's requests_hash from them.
	Requests [][]byte
	GasUsed  uint64
}

// Executor runs a fully assembled, recovered block against a state view and
// returns the execution output. Implementations are expected to be
// configured with a chain spec out-of-band (construction time), mirroring
// reth's EthExecutorProvider.
type Executor interface {
	Execute(ctx context.Context, block *gethtypes.Block, senders []common.Address, db storage.StateView) (*Output, error)
}

// NextBlockEnvAttributes is the subset of OrderedBlock fields the chain
// spec's EVM-environment factory needs to compute the next block's base
// fee and gas limit, mirroring reth's NextBlockEnvAttributes.
type NextBlockEnvAttributes struct {
	Timestamp            uint64
	SuggestedFeeRecipient common.Address
	PrevRandao           common.Hash
	GasLimit             uint64
}

// BlockEnv is the subset of the next block's EVM environment the pipeline
// coordinator needs when assembling the header skeleton.
type BlockEnv struct {
	BaseFee  *big.Int
	GasLimit uint64
}

// ChainSpec is the external collaborator exposing hardfork activation
// predicates and the next-block EVM environment factory. A conforming
// implementation wraps *params.ChainConfig.
//
// excessBlobGas and blobGasUsed are not derived from this interface: the
// pipeline coordinator hardcodes them to 0 (see buildHeaderSkeleton in
// pel/header.go), which is correct only for chains that forbid blob
// transactions at the execution layer.
type ChainSpec interface {
	IsShanghaiActiveAtTimestamp(timestamp uint64) bool
	IsCancunActiveAtTimestamp(timestamp uint64) bool
	IsPragueActiveAtTimestamp(timestamp uint64) bool

	// NextBlockEnv computes the EVM environment (base fee, gas limit) for
	// the block that follows parent, given the attributes of the ordered
	// block being built.
	NextBlockEnv(parent *gethtypes.Header, attrs NextBlockEnvAttributes) (BlockEnv, error)
}
