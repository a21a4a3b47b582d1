// Package ids generates sortable identifiers for lifecycle events.
//
// Identifiers are ULIDs: 26 characters, lexicographically ordered by
// creation time, so the commit order of events is recoverable from the
// identifier alone.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for event
// and storage keys. Safe for concurrent use.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
