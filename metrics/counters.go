package metrics

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/basho/go-sstable/common"
)

// SstCounter enumerates the per-table statistics collected while building and
// persisted in the stats metablock.
type SstCounter int

const (
	CountKeys            SstCounter = iota // how many keys in this sst
	CountBlocks                            // how many data blocks in this sst
	CountCompressAborted                   // how many blocks attempted compression and aborted use
	CountKeySize                           // byte count of all keys
	CountValueSize                         // byte count of all values
	CountBlockSize                         // byte count of all blocks (pre-compression)
	CountBlockWriteSize                    // post-compression size, or block size if no compression
	CountIndexKeys                         // how many keys in the index block

	countEnumSize // size of the array described by the enum values
)

var counterNames = [countEnumSize]string{
	"keys",
	"blocks",
	"compress_aborted",
	"key_bytes",
	"value_bytes",
	"block_bytes",
	"block_write_bytes",
	"index_keys",
}

func (c SstCounter) String() string {
	if c < 0 || c >= countEnumSize {
		return "unknown"
	}
	return counterNames[c]
}

const counterSetVersion = 1

// ICounterSet is the injected statistics sink; all methods are safe for
// concurrent use.
type ICounterSet interface {
	Inc(c SstCounter)
	Add(c SstCounter, delta uint64)
	Value(c SstCounter) uint64
}

// CounterSet is the atomic-integer implementation of ICounterSet.
type CounterSet struct {
	counters [countEnumSize]atomic.Uint64
}

func NewCounterSet() *CounterSet {
	return &CounterSet{}
}

func (s *CounterSet) Inc(c SstCounter) {
	s.counters[c].Add(1)
}

func (s *CounterSet) Add(c SstCounter, delta uint64) {
	s.counters[c].Add(delta)
}

func (s *CounterSet) Value(c SstCounter) uint64 {
	return s.counters[c].Load()
}

// Serialize encodes the set as
// [version (uvarint) | count (uvarint) | value... (uvarint)].
func (s *CounterSet) Serialize() []byte {
	buf := make([]byte, 0, (countEnumSize+2)*binary.MaxVarintLen64)
	buf = binary.AppendUvarint(buf, counterSetVersion)
	buf = binary.AppendUvarint(buf, uint64(countEnumSize))
	for i := range s.counters {
		buf = binary.AppendUvarint(buf, s.counters[i].Load())
	}
	return buf
}

// Deserialize decodes a stats metablock payload. Unlike its ancestor it never
// reports success on a short or garbled buffer: every decode failure is an
// explicit corruption error.
func Deserialize(buf []byte) (*CounterSet, error) {
	version, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, fmt.Errorf("%w: stats block: bad version varint", common.ErrCorruption)
	}
	if version != counterSetVersion {
		return nil, fmt.Errorf("%w: stats block: unrecognized version %d", common.ErrCorruption, version)
	}
	buf = buf[n:]

	count, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, fmt.Errorf("%w: stats block: bad counter count", common.ErrCorruption)
	}
	buf = buf[n:]

	s := NewCounterSet()
	for i := uint64(0); i < count; i++ {
		v, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, fmt.Errorf("%w: stats block: truncated at counter %d", common.ErrCorruption, i)
		}
		buf = buf[n:]
		// Counters beyond the ones this build knows about are tolerated and
		// dropped, so newer writers stay readable.
		if i < uint64(countEnumSize) {
			s.counters[i].Store(v)
		}
	}
	return s, nil
}

var _ ICounterSet = (*CounterSet)(nil)
