// Package xid generates prefixed identifiers for ledger records, e.g.
// "pur-1756700000000000000-9f2c4a1b03d7e856". The prefix names the record
// kind so ids stay readable in audit logs and snapshot files.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a fresh id for the given record prefix. The nanosecond
// timestamp keeps ids roughly sortable by creation time; the random suffix
// disambiguates records created in the same instant.
func New(prefix string) string {
	var buf [8]byte
	now := time.Now().UnixNano()
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("%s-%d", prefix, now)
	}
	return fmt.Sprintf("%s-%d-%s", prefix, now, hex.EncodeToString(buf[:]))
}
