package task

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// TempIDPrefix namespaces locally generated ids. The remote id space is
// purely numeric, so the prefix can never collide with it.
const TempIDPrefix = "local-"

// NewTempID allocates a temporary identifier for a task created
// locally before the remote has confirmed it. Uniqueness only needs to
// hold within one local store instance: a monotonic clock component
// plus a random suffix suffices.
func NewTempID() string {
	return fmt.Sprintf("%s%d-%04x", TempIDPrefix, time.Now().UnixNano(), rand.Intn(0x10000))
}

// IsTempID reports whether the id belongs to the local temporary
// namespace rather than the remote id space.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
