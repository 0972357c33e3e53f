package row_block

import (
	"encoding/binary"
	"fmt"

	"github.com/basho/go-sstable/common"
)

// blockIter iterates over one decoded row-oriented block. The InternalKV it
// returns stays valid until the following positioning call.
type blockIter struct {
	cmp common.IComparer

	data          []byte
	restartsStart int
	numRestarts   int

	// offset of the entry to decode next
	offset int
	key    []byte
	val    []byte
	kv     common.InternalKV
	err    error
	closed bool
}

func newBlockIter(cmp common.IComparer, data []byte) (*blockIter, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: block too short for restart count", common.ErrCorruption)
	}
	numRestarts := int(binary.LittleEndian.Uint32(data[len(data)-4:]))
	restartsStart := len(data) - 4 - 4*numRestarts
	if numRestarts < 1 || restartsStart < 0 {
		return nil, fmt.Errorf("%w: block restart array out of range", common.ErrCorruption)
	}
	return &blockIter{
		cmp:           cmp,
		data:          data,
		restartsStart: restartsStart,
		numRestarts:   numRestarts,
	}, nil
}

func (it *blockIter) restart(i int) int {
	return int(binary.LittleEndian.Uint32(it.data[it.restartsStart+4*i:]))
}

// decodeNext decodes the entry at it.offset into it.key/it.val and advances
// the offset. Returns false at the end of the entry area or on corruption.
func (it *blockIter) decodeNext() bool {
	if it.err != nil || it.offset >= it.restartsStart {
		return false
	}
	buf := it.data[it.offset:it.restartsStart]
	shared, n0 := binary.Uvarint(buf)
	if n0 <= 0 {
		it.err = fmt.Errorf("%w: bad shared-length varint", common.ErrCorruption)
		return false
	}
	unshared, n1 := binary.Uvarint(buf[n0:])
	if n1 <= 0 {
		it.err = fmt.Errorf("%w: bad unshared-length varint", common.ErrCorruption)
		return false
	}
	valueLen, n2 := binary.Uvarint(buf[n0+n1:])
	if n2 <= 0 {
		it.err = fmt.Errorf("%w: bad value-length varint", common.ErrCorruption)
		return false
	}
	header := n0 + n1 + n2
	if uint64(len(buf)-header) < unshared+valueLen || uint64(len(it.key)) < shared {
		it.err = fmt.Errorf("%w: block entry overruns block", common.ErrCorruption)
		return false
	}

	it.key = append(it.key[:shared], buf[header:header+int(unshared)]...)
	it.val = buf[header+int(unshared) : header+int(unshared)+int(valueLen)]
	it.offset += header + int(unshared) + int(valueLen)

	if len(it.key) < common.InternalKeyTrailerLen {
		it.err = fmt.Errorf("%w: block entry key shorter than trailer", common.ErrCorruption)
		return false
	}
	it.kv = common.InternalKV{K: *common.DeserializeKey(it.key), V: it.val}
	return true
}

func (it *blockIter) First() *common.InternalKV {
	it.offset = 0
	it.key = it.key[:0]
	if !it.decodeNext() {
		return nil
	}
	return &it.kv
}

func (it *blockIter) Next() *common.InternalKV {
	if !it.decodeNext() {
		return nil
	}
	return &it.kv
}

// SeekGTE positions at the first entry whose user key >= the given key.
func (it *blockIter) SeekGTE(userKey []byte) *common.InternalKV {
	// Find the last restart point whose key is < userKey, then scan forward.
	lo, hi := 0, it.numRestarts-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		k, ok := it.keyAtRestart(mid)
		if !ok {
			return nil
		}
		if it.cmp.Compare(k.UserKey, userKey) < 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	it.offset = it.restart(lo)
	it.key = it.key[:0]
	for it.decodeNext() {
		if it.cmp.Compare(it.kv.K.UserKey, userKey) >= 0 {
			return &it.kv
		}
	}
	return nil
}

// keyAtRestart decodes the full key stored at restart i (restart entries have
// no shared prefix).
func (it *blockIter) keyAtRestart(i int) (*common.InternalKey, bool) {
	savedOffset, savedKey := it.offset, append([]byte(nil), it.key...)
	it.offset = it.restart(i)
	it.key = it.key[:0]
	ok := it.decodeNext()
	k := it.kv.K
	it.offset, it.key = savedOffset, savedKey
	if !ok {
		return nil, false
	}
	return &k, true
}

func (it *blockIter) Error() error {
	return it.err
}

func (it *blockIter) Close() error {
	it.closed = true
	return it.err
}

var _ common.InternalIterator = (*blockIter)(nil)
