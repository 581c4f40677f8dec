// Package prefilter implements the pre-execution transaction screen: it
// discards transactions whose nonce or balance makes them unexecutable
// against the parent state, without running the EVM. A transaction that
// survives the filter may still revert during execution; that is handled
// downstream and is not this package's concern.
package prefilter

import (
	"runtime"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/Richard1048576/gravity-reth/storage"
)

// Filter returns the subsequence of txs/senders that are executable against
// db at the given base fee, preserving relative order. len(txs) must equal
// len(senders). If nothing is dropped, the input slices are returned
// unchanged (no copy).
//
// Transactions from the same sender are screened sequentially, in their
// original order, because later transactions depend on the nonce/balance
// effects of earlier ones; different senders are independent and are
// screened concurrently, bounded to GOMAXPROCS workers — the Go analogue of
// a data-parallel, work-stealing fan-out over senders.
func Filter(
	db storage.StateView,
	txs gethtypes.Transactions,
	senders []common.Address,
	baseFeePerGas *uint256.Int,
) (gethtypes.Transactions, []common.Address) {
	if len(txs) != len(senders) {
		panic("prefilter: len(txs) != len(senders)")
	}
	if len(txs) == 0 {
		return txs, senders
	}

	byAddr := make(map[common.Address][]int, len(senders))
	for i, addr := range senders {
		byAddr[addr] = append(byAddr[addr], i)
	}

	type bucket struct {
		addr    common.Address
		indices []int
	}
	buckets := make([]bucket, 0, len(byAddr))
	for addr, idxs := range byAddr {
		buckets = append(buckets, bucket{addr: addr, indices: idxs})
	}

	invalidByBucket := make([][]int, len(buckets))

	limit := runtime.GOMAXPROCS(0)
	if limit > len(buckets) {
		limit = len(buckets)
	}
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for bi := range buckets {
		bi := bi
		g.Go(func() error {
			invalidByBucket[bi] = invalidIndicesForSender(db, txs, buckets[bi].addr, buckets[bi].indices, baseFeePerGas)
			return nil
		})
	}
	_ = g.Wait() // invalidIndicesForSender never returns an error; pre-filter rejection is routine, not fatal.

	var invalidCount int
	for _, idxs := range invalidByBucket {
		invalidCount += len(idxs)
	}
	if invalidCount == 0 {
		return txs, senders
	}

	invalid := make(map[int]struct{}, invalidCount)
	for _, idxs := range invalidByBucket {
		for _, i := range idxs {
			invalid[i] = struct{}{}
		}
	}

	filteredTxs := make(gethtypes.Transactions, 0, len(txs)-invalidCount)
	filteredSenders := make([]common.Address, 0, len(txs)-invalidCount)
	for i, tx := range txs {
		if _, dropped := invalid[i]; dropped {
			continue
		}
		filteredTxs = append(filteredTxs, tx)
		filteredSenders = append(filteredSenders, senders[i])
	}
	return filteredTxs, filteredSenders
}

// invalidIndicesForSender walks one sender's transactions in order,
// maintaining a running nonce/balance cursor, and returns the indices (into
// the original txs/senders slices) that are not executable.
func invalidIndicesForSender(
	db storage.StateView,
	txs gethtypes.Transactions,
	addr common.Address,
	indices []int,
	baseFeePerGas *uint256.Int,
) []int {
	account, ok := db.Account(addr)
	if !ok {
		log.Debug("prefilter: sender not found, dropping all of its transactions",
			"sender", addr, "count", len(indices))
		out := make([]int, len(indices))
		copy(out, indices)
		return out
	}

	nonce := account.Nonce
	balance := account.Balance.Clone()

	var invalid []int
	for _, idx := range indices {
		tx := txs[idx]
		if tx.Nonce() != nonce {
			log.Debug("prefilter: nonce mismatch",
				"tx", tx.Hash(), "sender", addr, "txNonce", tx.Nonce(), "accountNonce", nonce)
			invalid = append(invalid, idx)
			continue
		}

		// GasTipCap reports the max priority fee for dynamic-fee txs and the
		// flat gas price for legacy/access-list txs — the uniform
		// "priority fee or price" used for the conservative balance check.
		priorityFeeOrPrice, overflow := uint256.FromBig(tx.GasTipCap())
		if overflow {
			invalid = append(invalid, idx)
			continue
		}

		gasLimit := new(uint256.Int).SetUint64(tx.Gas())
		gasSpent := new(uint256.Int).Mul(gasLimit, new(uint256.Int).Add(priorityFeeOrPrice, baseFeePerGas))

		if balance.Lt(gasSpent) {
			log.Debug("prefilter: insufficient balance",
				"tx", tx.Hash(), "sender", addr, "balance", balance, "gasSpent", gasSpent)
			invalid = append(invalid, idx)
			continue
		}

		balance = new(uint256.Int).Sub(balance, gasSpent)
		nonce++
	}
	return invalid
}
