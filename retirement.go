package go_sstable

import (
	"fmt"

	"github.com/basho/go-sstable/common"
)

// KeyRetirement is the stateful predicate applied while streaming keys in
// engine order: within the window no snapshot can observe, only the newest
// version of each user key survives, and tombstones are dropped outright.
type KeyRetirement struct {
	cmp              common.IComparer
	smallestSnapshot common.SeqNum

	hasPrev     bool
	prevUserKey []byte

	dropped uint64
}

func NewKeyRetirement(cmp common.IComparer, smallestSnapshot common.SeqNum) *KeyRetirement {
	return &KeyRetirement{
		cmp:              cmp,
		smallestSnapshot: smallestSnapshot,
	}
}

// Retire reports whether the key should be dropped from the output table.
// Keys must arrive in engine order: ascending user keys, descending sequence
// numbers within a user key.
func (kr *KeyRetirement) Retire(key *common.InternalKey) (bool, error) {
	if !key.Valid() {
		return false, fmt.Errorf("%w: malformed internal key", common.ErrCorruption)
	}

	isNewUserKey := !kr.hasPrev || kr.cmp.Compare(kr.prevUserKey, key.UserKey) != 0
	kr.prevUserKey = append(kr.prevUserKey[:0], key.UserKey...)
	kr.hasPrev = true

	retire := key.SeqNum() <= kr.smallestSnapshot &&
		(!isNewUserKey || key.KeyKind() == common.KeyKindDelete)
	if retire {
		kr.dropped++
	}
	return retire, nil
}

// Dropped is the number of keys retired so far.
func (kr *KeyRetirement) Dropped() uint64 {
	return kr.dropped
}
