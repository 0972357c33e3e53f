package go_sstable

import (
	"github.com/basho/go-sstable/common"
	"github.com/basho/go-sstable/compression"
	"github.com/basho/go-sstable/filter"
	"github.com/basho/go-sstable/options"
)

type WriteOptFn func(o *options.BlockWriteOpt)

func defaultWriteOpt() options.BlockWriteOpt {
	return options.BlockWriteOpt{
		BlockRestartInterval: 16,
		BlockSize:            4 * 1024,
		BlockSizeThreshold:   0.9,
		Compression: map[common.BlockKind]compression.CompressionType{
			common.BlockKindData:      compression.SnappyCompression,
			common.BlockKindIndex:     compression.SnappyCompression,
			common.BlockKindMetaIndex: compression.NoCompression,
			common.BlockKindFilter:    compression.NoCompression,
			common.BlockKindStats:     compression.NoCompression,
		},
		FilterPolicy:    filter.NewBloomPolicy(),
		Comparer:        common.NewComparer(),
		WriteBufferSize: 4 << 20,
	}
}

func WithBlockRestartInterval(interval int) WriteOptFn {
	return func(o *options.BlockWriteOpt) {
		o.BlockRestartInterval = interval
	}
}

func WithBlockSize(blockSize int) WriteOptFn {
	return func(o *options.BlockWriteOpt) {
		o.BlockSize = blockSize
	}
}

func WithBlockSizeThreshold(blockSizeThreshold float32) WriteOptFn {
	return func(o *options.BlockWriteOpt) {
		o.BlockSizeThreshold = blockSizeThreshold
	}
}

// WithCompression sets the codec for one block kind.
func WithCompression(kind common.BlockKind, ct compression.CompressionType) WriteOptFn {
	return func(o *options.BlockWriteOpt) {
		o.Compression[kind] = ct
	}
}

// WithFilterPolicy sets the filter policy; nil disables the filter block.
func WithFilterPolicy(policy options.FilterPolicy) WriteOptFn {
	return func(o *options.BlockWriteOpt) {
		o.FilterPolicy = policy
	}
}

func WithComparer(cmp common.IComparer) WriteOptFn {
	return func(o *options.BlockWriteOpt) {
		o.Comparer = cmp
	}
}

func WithWriteBufferSize(n int64) WriteOptFn {
	return func(o *options.BlockWriteOpt) {
		o.WriteBufferSize = n
	}
}
