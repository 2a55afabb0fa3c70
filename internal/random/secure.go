// Package random provides cryptographically secure transaction IDs for
// forwarded DNS queries, so a blind off-path attacker cannot guess the ID
// and poison the cache with a spoofed reply.
package random

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// TransactionID generates a cryptographically random 16-bit transaction ID.
// NEVER use math/rand for DNS transaction IDs - it's predictable.
func TransactionID() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the system entropy source is broken;
		// proceeding with a predictable ID would be a silent security
		// regression, so this is one of the rare cases worth a panic.
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint16(buf[:])
}
