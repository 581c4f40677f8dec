package pel

import (
	"os"
	"sync"
)

// Ext is the host-side handle through which the node drains
// MakeCanonicalEvents emitted by the pipeline. It is process-wide because
// the pipeline and the code that integrates blocks into the canonical
// chain live in different parts of the host node that don't otherwise
// share a reference to each other.
type Ext struct {
	Events <-chan MakeCanonicalEvent
}

var (
	extOnce sync.Once
	ext     *Ext
)

// RegisterExt installs the process-wide Ext exactly once; later calls are
// no-ops. This mirrors a once-initialized global more commonly reached for
// in a long-lived C-style host process than idiomatic Go, but the pipeline
// crosses exactly that kind of boundary and a plain package-level variable
// wired at startup is the pragmatic way to do it, not a pattern to reuse
// elsewhere in this module.
func RegisterExt(e *Ext) {
	extOnce.Do(func() {
		ext = e
	})
}

// GetExt returns the process-wide Ext, or nil if RegisterExt has not been
// called yet.
func GetExt() *Ext {
	return ext
}

// resetExtForTest clears the process-wide Ext and allows RegisterExt to
// install a new one. A real host process never needs this — it exists
// because this package's own tests construct several independent pipeline
// instances in one process and each needs its own Ext.
func resetExtForTest() {
	extOnce = sync.Once{}
	ext = nil
}

// validateBlockBeforeInsert caches whether PIPE_VALIDATE_BLOCK_BEFORE_INSERT
// is set in the environment; read once, since the environment does not
// change over the life of the process.
var validateBlockBeforeInsert = sync.OnceValue(func() bool {
	_, ok := os.LookupEnv("PIPE_VALIDATE_BLOCK_BEFORE_INSERT")
	return ok
})

// ValidateBlockBeforeInsert reports whether the host node should re-validate
// a block before inserting it into its in-memory tree state, instead of
// trusting the pipeline's own verification handshake.
func ValidateBlockBeforeInsert() bool {
	return validateBlockBeforeInsert()
}
