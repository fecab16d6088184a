package id

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewRef returns a prefixed, sortable request reference, e.g. "DP-01J...".
func NewRef(prefix string) string {
	u := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return fmt.Sprintf("%s-%s", prefix, u.String())
}
