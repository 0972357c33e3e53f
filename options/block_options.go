package options

import (
	"github.com/basho/go-sstable/common"
	"github.com/basho/go-sstable/compression"
)

// FilterPolicy is the subset of a filter implementation the writer needs. The
// concrete policies live in the filter package; the indirection keeps options
// free of that dependency.
type FilterPolicy interface {
	Name() string
	CreateFilter(keys [][]byte, dst []byte) []byte
	MayContain(filter, key []byte) bool
}

// BlockWriteOpt carries every knob the table builder recognises.
type BlockWriteOpt struct {
	// BlockRestartInterval is the number of entries between restart points in a
	// row-oriented block.
	BlockRestartInterval int

	// BlockSize is the soft upper bound on an uncompressed block; reaching it
	// seals the block under construction.
	BlockSize int

	// BlockSizeThreshold, in (0, 1], tunes how eagerly a block below BlockSize
	// is sealed once an incoming entry would overflow it.
	BlockSizeThreshold float32

	// Compression selects the codec per block kind; ineffective compression
	// falls back to storing the raw payload.
	Compression map[common.BlockKind]compression.CompressionType

	// FilterPolicy, when present, produces a filter block.
	FilterPolicy FilterPolicy

	// Comparer supplies the user-key total order plus the separator/successor
	// shortening operations.
	Comparer common.IComparer

	// WriteBufferSize is the initial preallocation of the destination file.
	WriteBufferSize int64

	// PriorityLevel is carried into table metadata for the orchestration layer;
	// the builder itself applies no throttling.
	PriorityLevel int
}
