package pel

import (
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/ethereum/go-ethereum/common"
)

// OrderedBlock is a block emitted by the Coordinator, immutable once
// received.
type OrderedBlock struct {
	// ParentID is the Coordinator-assigned id of the parent block.
	ParentID common.Hash
	// ID is the Coordinator-assigned id of this block.
	ID           common.Hash
	Number       uint64
	Timestamp    uint64
	Coinbase     common.Address
	PrevRandao   common.Hash
	Withdrawals  gethtypes.Withdrawals
	Transactions gethtypes.Transactions
	// Senders holds the recovered sender of each entry in Transactions, in
	// the same order: len(Senders) == len(Transactions).
	Senders []common.Address
}

// ExecutedBlockMeta is produced after sealing and consumed by the
// verification handshake with the Coordinator.
type ExecutedBlockMeta struct {
	BlockID   common.Hash
	BlockHash common.Hash
}

// ExecutionArgs is delivered exactly once at startup and seeds the
// storage's number-to-id index.
type ExecutionArgs struct {
	BlockNumberToBlockID map[uint64]common.Hash
}

// ExecutedBlock is the fully built, sealed block handed to the host node
// for canonicalization, along with the execution outcome and trie
// artifacts produced while merklizing it.
type ExecutedBlock struct {
	Block        *gethtypes.Block
	Senders      []common.Address
	Outcome      *Outcome
	HashedState  interface{}
	TrieUpdates  interface{}
}

// MakeCanonicalEvent asks the host node to integrate ExecutedBlock into its
// canonical chain; Reply must be closed (or sent on) once that is done.
type MakeCanonicalEvent struct {
	ExecutedBlock *ExecutedBlock
	Reply         chan<- struct{}
}

// BlockStage records how far a single block has progressed through the
// pipeline. States are one-way; there is no transition back.
type BlockStage int

const (
	StageQueued BlockStage = iota
	StageExecuted
	StageRooted
	StageMerklized
	StageSealed
	StageVerified
	StageCanonical
)

func (s BlockStage) String() string {
	switch s {
	case StageQueued:
		return "queued"
	case StageExecuted:
		return "executed"
	case StageRooted:
		return "rooted"
	case StageMerklized:
		return "merklized"
	case StageSealed:
		return "sealed"
	case StageVerified:
		return "verified"
	case StageCanonical:
		return "canonical"
	default:
		return "unknown"
	}
}
