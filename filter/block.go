package filter

import (
	"encoding/binary"
	"fmt"

	"github.com/basho/go-sstable/common"
	"github.com/basho/go-sstable/options"
)

// Filter block layout:
//
//	+----------------+----------------+-----+----------------------+
//	| filter datum 0 | filter datum 1 | ... | offset of datum 0 (4) |
//	+----------------+----------------------+-----------------------+
//	| ... | offset of datum n (4) | offset of offset array (4) | lg |
//	+-----+-----------------------+----------------------------+----+
//
// Datum i covers the keys of every data block whose file offset falls in
// [i<<baseLg, (i+1)<<baseLg).
const (
	baseLg     = 11
	filterBase = 1 << baseLg
)

// BlockWriter accumulates keys per data block and materialises filter data as
// block boundaries are announced through StartBlock.
type BlockWriter struct {
	policy options.FilterPolicy

	// keys added since the last datum was generated, concatenated, plus the
	// start offset of each
	keys   []byte
	starts []int

	result        []byte
	filterOffsets []uint32
	tmpKeys       [][]byte
}

func NewBlockWriter(policy options.FilterPolicy) *BlockWriter {
	return &BlockWriter{policy: policy}
}

// AddKey registers one key for the filter datum under construction.
func (w *BlockWriter) AddKey(key []byte) {
	w.starts = append(w.starts, len(w.keys))
	w.keys = append(w.keys, key...)
}

// AddKeys registers a batch of concatenated keys, as captured by a block slot
// during ingest.
func (w *BlockWriter) AddKeys(keys []byte, lengths []int) {
	off := 0
	for _, n := range lengths {
		w.AddKey(keys[off : off+n])
		off += n
	}
}

// StartBlock announces that the next data block begins at blockOffset,
// generating filter data for every filter range the file has moved past.
func (w *BlockWriter) StartBlock(blockOffset uint64) {
	filterIndex := int(blockOffset / filterBase)
	for filterIndex > len(w.filterOffsets) {
		w.generateFilter()
	}
}

func (w *BlockWriter) generateFilter() {
	numKeys := len(w.starts)
	if numKeys == 0 {
		// Fast path if there are no keys for this filter
		w.filterOffsets = append(w.filterOffsets, uint32(len(w.result)))
		return
	}

	w.starts = append(w.starts, len(w.keys)) // simplify length computation
	w.tmpKeys = w.tmpKeys[:0]
	for i := 0; i < numKeys; i++ {
		w.tmpKeys = append(w.tmpKeys, w.keys[w.starts[i]:w.starts[i+1]])
	}

	w.filterOffsets = append(w.filterOffsets, uint32(len(w.result)))
	w.result = w.policy.CreateFilter(w.tmpKeys, w.result)

	w.keys = w.keys[:0]
	w.starts = w.starts[:0]
}

// Finish seals the filter block and returns its payload.
func (w *BlockWriter) Finish() []byte {
	if len(w.starts) > 0 {
		w.generateFilter()
	}

	arrayOffset := uint32(len(w.result))
	var tmp [4]byte
	for _, off := range w.filterOffsets {
		binary.LittleEndian.PutUint32(tmp[:], off)
		w.result = append(w.result, tmp[:]...)
	}
	binary.LittleEndian.PutUint32(tmp[:], arrayOffset)
	w.result = append(w.result, tmp[:]...)
	w.result = append(w.result, baseLg)
	return w.result
}

// BlockReader answers MayContain queries against a sealed filter block.
type BlockReader struct {
	policy options.FilterPolicy

	data        []byte
	arrayOffset uint32
	numFilters  int
	lg          byte
}

func NewBlockReader(policy options.FilterPolicy, data []byte) (*BlockReader, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("%w: filter block too short", common.ErrCorruption)
	}
	lg := data[len(data)-1]
	arrayOffset := binary.LittleEndian.Uint32(data[len(data)-5:])
	if arrayOffset > uint32(len(data)-5) {
		return nil, fmt.Errorf("%w: filter block offset array out of range", common.ErrCorruption)
	}
	numFilters := (uint32(len(data)-5) - arrayOffset) / 4
	return &BlockReader{
		policy:      policy,
		data:        data,
		arrayOffset: arrayOffset,
		numFilters:  int(numFilters),
		lg:          lg,
	}, nil
}

// MayContain reports whether the data block starting at blockOffset may hold
// the given key.
func (r *BlockReader) MayContain(blockOffset uint64, key []byte) bool {
	index := int(blockOffset >> r.lg)
	if index >= r.numFilters {
		// Errors are treated as potential matches
		return true
	}
	pos := r.arrayOffset + uint32(index)*4
	start := binary.LittleEndian.Uint32(r.data[pos:])
	end := r.arrayOffset
	if index+1 < r.numFilters {
		end = binary.LittleEndian.Uint32(r.data[pos+4:])
	}
	if start > end || end > r.arrayOffset {
		return true
	}
	if start == end {
		// Empty filters do not match any keys
		return false
	}
	return r.policy.MayContain(r.data[start:end], key)
}
