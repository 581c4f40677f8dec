package pel

import "github.com/ethereum/go-ethereum/log"

// Fatal reports an invariant violation the pipeline coordinator cannot
// recover from — out-of-order block numbers, a parent-id mismatch, a
// verified hash that disagrees with what was sealed. These mark a
// divergence between the Coordinator and the execution layer; continuing
// would silently corrupt the chain, so the pipeline stops instead.
//
// log.Crit calls os.Exit itself, which would take the whole process down
// mid-test; Fatal logs at Error level and panics instead, so a caller that
// runs the failing code directly (as the tests do) can recover the panic and
// observe the condition. An unrecovered panic, such as one raised inside a
// Process goroutine started by Service.Run, still ends the process.
func Fatal(msg string, ctx ...interface{}) {
	log.Error(msg, ctx...)
	panic(msg)
}
