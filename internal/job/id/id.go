// Package id generates identifiers for runs, files and HTTP requests.
package id

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var fallback atomic.Uint32

// Generate returns "<prefix>-<unix seconds>-<8 hex digits>", e.g.
// file-1701432000-a1b2c3d4. If the system random source fails a
// process-wide counter fills the suffix.
func Generate(prefix string) string {
	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		binary.BigEndian.PutUint32(suffix[:], fallback.Add(1))
	}

	var sb strings.Builder
	sb.Grow(len(prefix) + 21)
	sb.WriteString(prefix)
	sb.WriteByte('-')
	sb.WriteString(strconv.FormatInt(time.Now().Unix(), 10))
	sb.WriteByte('-')
	sb.WriteString(hex.EncodeToString(suffix[:]))
	return sb.String()
}
