// Package ident issues process-unique short identifiers for tree nodes
// and registry records. Ids are never reused within a process.
package ident

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

var seq atomic.Uint64

// New returns a short id of the form "<prefix>_<seq>_<rand>".
// The monotonic sequence guarantees process uniqueness; the uuid
// fragment keeps ids from colliding across restarts when they end up
// in logs or exports side by side.
func New(prefix string) string {
	frag := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", prefix, seq.Add(1), frag)
}
