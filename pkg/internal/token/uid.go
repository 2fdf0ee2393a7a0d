package token

import (
	"github.com/cespare/xxhash/v2"
)

const subjectUidSpace = 1_000_000_000

// DeriveSubjectUID maps a durable account identifier onto the numeric
// identity presented to the relay. The mapping is deterministic so the same
// person keeps the same relay identity across sessions, and the durable
// identifier itself never leaves this process.
func DeriveSubjectUID(durableID string) uint32 {
	return uint32(xxhash.Sum64String(durableID) % subjectUidSpace)
}
