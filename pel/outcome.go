package pel

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/Richard1048576/gravity-reth/execution"
)

// Outcome wraps one block's worth of execution output together with the
// block number it belongs to, mirroring reth's ExecutionOutcome: enough
// context to derive the receipts root, logs bloom, and (post-Prague)
// requests hash.
type Outcome struct {
	Number   uint64
	Receipts gethtypes.Receipts
	Requests [][]byte
	state    interface{} // opaque post-state bundle, passed through to Storage
}

// NewOutcome builds an Outcome from a raw execution.Output for block
// number.
func NewOutcome(number uint64, out *execution.Output) *Outcome {
	return &Outcome{
		Number:   number,
		Receipts: out.Receipts,
		Requests: out.Requests,
		state:    out.StateChanges,
	}
}

// ReceiptsRoot derives the block's receipts trie root.
func (o *Outcome) ReceiptsRoot() common.Hash {
	return gethtypes.DeriveSha(o.Receipts, trie.NewStackTrie(nil))
}

// LogsBloom aggregates the bloom filter across every receipt in the block.
func (o *Outcome) LogsBloom() gethtypes.Bloom {
	return gethtypes.CreateBloom(o.Receipts)
}

// RequestsHash implements the EIP-7685 requests_hash: the keccak256 of the
// concatenation of the keccak256 of each individual request payload, in
// order.
func (o *Outcome) RequestsHash() common.Hash {
	hasher := crypto.NewKeccakState()
	for _, req := range o.Requests {
		itemHash := crypto.Keccak256(req)
		hasher.Write(itemHash)
	}
	var out common.Hash
	hasher.Read(out[:])
	return out
}
