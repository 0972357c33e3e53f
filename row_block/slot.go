package row_block

import (
	"github.com/basho/go-sstable/common"
	"github.com/basho/go-sstable/compression"
)

// slotState is the lifecycle of one ring buffer cell. The only legal
// transitions are
//
//	Empty → Loading → Full → Compressing → (Ready | KeyWait) → Writing → Copying → Empty
//
// with KeyWait → Ready taken once the successor block's first key (or the end
// of the stream) supplies the separator input.
type slotState uint8

const (
	slotEmpty       slotState = iota // unused
	slotLoading                      // ingest goroutine is filling the block
	slotFull                         // has data, needs compression
	slotCompressing                  // compression in progress
	slotKeyWait                      // compression done, last key not yet shortened
	slotReady                        // ready for write, but not first in file order
	slotWriting                      // write in progress now
	slotCopying                      // write position reserved, payload copy in flight
)

var slotStateStrings = map[slotState]string{
	slotEmpty:       "empty",
	slotLoading:     "loading",
	slotFull:        "full",
	slotCompressing: "compressing",
	slotKeyWait:     "keywait",
	slotReady:       "ready",
	slotWriting:     "writing",
	slotCopying:     "copying",
}

func (s slotState) String() string {
	return slotStateStrings[s]
}

// blockSlot is one cell of the block ring. Ownership follows the state: the
// ingest goroutine owns a Loading slot, the worker that claimed the state
// transition owns it from Full through Copying, and nobody touches an Empty
// slot without first claiming it under the pipeline mutex.
type blockSlot struct {
	state slotState

	blk *rowBlockBuf

	// lastKey is the newest key added to the block; once keyShortened flips it
	// holds the index separator instead.
	lastKey      common.InternalKey
	keyShortened bool

	// filter input captured at ingest for the deferred filter-block insertion:
	// concatenated user keys plus their lengths
	filtKeys    []byte
	filtLengths []int

	compression compression.CompressionType
	crc         uint32
	physical    common.PhysicalBlock
	compressBuf []byte
}

func (s *blockSlot) empty() bool {
	return s.state == slotEmpty
}

func (s *blockSlot) reset() {
	s.state = slotEmpty
	s.blk.Reset()
	s.lastKey = common.InternalKey{UserKey: s.lastKey.UserKey[:0]}
	s.keyShortened = false
	s.filtKeys = s.filtKeys[:0]
	s.filtLengths = s.filtLengths[:0]
	s.compression = compression.NoCompression
	s.crc = 0
	s.physical.Reset()
}
