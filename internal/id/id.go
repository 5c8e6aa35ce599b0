// Package id generates lex-sortable, time-prefixed unique identifiers for
// runs, steps, and log rows. The randomness is drawn from google/uuid's
// random-version generator, already used elsewhere for request ids
// (internal/requestid); the sortable encoding itself is hand-rolled, since
// uuid.v4 alone is random rather than time-ordered.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// crockford is Crockford's base32 alphabet: no padding, case-insensitive,
// avoids visually ambiguous characters.
var crockford = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// New returns prefix, an underscore, and a 26-character body (the body
// alone when prefix is empty): a 48-bit millisecond timestamp followed by
// the first 80 bits of a fresh uuid.v4, of which 74 are random and 6 are
// the uuid's fixed version and variant bits. The timestamp fills the first
// 10 base32 characters (the tenth also carries 2 tail bits). Two ids minted
// in the same millisecond still sort by the tail, but ids minted in
// different milliseconds always sort by time.
func New(prefix string) string {
	var buf [16]byte
	ms := uint64(time.Now().UnixMilli())
	// Big-endian 48-bit timestamp packed into the first 6 bytes.
	buf[0] = byte(ms >> 40)
	buf[1] = byte(ms >> 32)
	buf[2] = byte(ms >> 24)
	buf[3] = byte(ms >> 16)
	buf[4] = byte(ms >> 8)
	buf[5] = byte(ms)

	tail := uuid.New()
	copy(buf[6:], tail[:10])

	enc := strings.ToLower(crockford.EncodeToString(buf[:]))
	if prefix == "" {
		return enc
	}
	return fmt.Sprintf("%s_%s", prefix, enc)
}

// Run, Step, and Log mint ids with a component-specific prefix so that ids
// are self-describing in logs and URLs.
func Run() string  { return New("run") }
func Step() string { return New("step") }
func Log() string  { return New("log") }
