package xid

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var seq atomic.Uint32

// New returns an id of the form prefix-<millis base36><seq>-<random hex>.
// Ids from one process sort roughly by creation time.
func New(prefix string) string {
	var b strings.Builder
	b.Grow(len(prefix) + 28)
	b.WriteString(prefix)
	b.WriteByte('-')

	stamp := strconv.FormatInt(time.Now().UTC().UnixMilli(), 36)
	b.WriteString(stamp)
	n := strconv.FormatUint(uint64(seq.Add(1)%1296), 36)
	if len(n) < 2 {
		b.WriteByte('0')
	}
	b.WriteString(n)

	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		b.WriteString("-")
		b.WriteString(strconv.FormatInt(time.Now().UnixNano(), 36))
		return b.String()
	}
	b.WriteByte('-')
	b.WriteString(hex.EncodeToString(buf))
	return b.String()
}
