package id

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a prefixed, lexicographically sortable id such as wlt_01J8....
// ULIDs embed a millisecond timestamp, so ids created later sort later.
func New(prefix string) string {
	u := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	return prefix + "_" + u.String()
}
