// Package storage defines the interface the pipeline coordinator expects
// from the versioned trie/state database. The database itself — its
// on-disk layout, its trie implementation — lives outside this module;
// Storage is the external collaborator boundary around it.
package storage

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Account is the minimal on-chain account shape the pre-filter and the
// executor read through StateView.
type Account struct {
	Nonce   uint64
	Balance *uint256.Int
}

// TrieUpdates is an opaque handle to the set of trie node changes produced
// by StateRootWithUpdates; the pipeline coordinator threads it through to
// the host node unopened.
type TrieUpdates interface{}

// HashedState is an opaque handle to the hashed post-state produced
// alongside a state root; threaded through to the host node unopened.
type HashedState interface{}

// StateView is a read-only handle onto the post-state of a given block
// number, used for account lookups during pre-filtering and execution.
type StateView interface {
	// Account returns the account at addr, or ok=false if it does not exist.
	Account(addr common.Address) (Account, bool)
}

// Storage is the external, block-number-keyed state database collaborator.
// All methods may be called concurrently for distinct block numbers; the
// implementation is responsible for internal synchronisation keyed by
// number.
type Storage interface {
	// InsertBlockID records the Coordinator-assigned id for a block number.
	InsertBlockID(number uint64, id common.Hash)

	// InsertBundleState records the aggregated account/storage changes
	// produced by executing the block at number.
	InsertBundleState(number uint64, bundle interface{})

	// GetStateView returns the block id the storage believes is the parent
	// of number+1, and a read-only view onto its state.
	GetStateView(number uint64) (parentID common.Hash, view StateView, err error)

	// StateRootWithUpdates folds the bundle state inserted for number into
	// the cumulative trie and returns the resulting state root along with
	// the hashed post-state and trie node updates for downstream use.
	StateRootWithUpdates(number uint64) (root common.Hash, hashed HashedState, updates TrieUpdates, err error)

	// UpdateCanonical marks number/hash as canonical.
	UpdateCanonical(number uint64, hash common.Hash)
}
