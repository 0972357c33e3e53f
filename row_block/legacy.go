package row_block

import (
	"fmt"

	"github.com/basho/go-sstable/common"
	"github.com/basho/go-sstable/compression"
	"github.com/basho/go-sstable/filter"
	"github.com/basho/go-sstable/metrics"
	"github.com/basho/go-sstable/options"
	"github.com/basho/go-sstable/vfs"
)

// LegacyWriter is the single-threaded builder used when the destination
// cannot reserve write regions. It produces byte-identical output to the
// pipeline for the same input.
type LegacyWriter struct {
	opts     options.BlockWriteOpt
	writable vfs.Writable

	comparer common.IComparer
	checksum common.IChecksum
	decider  common.IFlushDecider
	counters *metrics.CounterSet

	indexWriter  *indexWriter
	filterWriter *filter.BlockWriter

	blk         *rowBlockBuf
	compressBuf []byte

	// a sealed block's index entry stays pending until the next block's first
	// key (or the end of the stream) supplies the separator input
	pendingIndex  bool
	pendingHandle common.BlockHandle
	lastKey       common.InternalKey

	offset     uint64
	fileSize   uint64
	numEntries uint64
	lastAdded  common.InternalKey

	err       error
	closed    bool
	abandoned bool
}

func NewLegacyWriter(writable vfs.Writable, opts options.BlockWriteOpt) *LegacyWriter {
	w := &LegacyWriter{
		opts:     opts,
		writable: writable,
		comparer: opts.Comparer,
		checksum: common.NewChecksumer(common.CRC32CChecksum),
		decider:  common.NewFlushDecider(opts.BlockSize, opts.BlockSizeThreshold),
		counters: metrics.NewCounterSet(),
		blk:      newRowBlockBuf(opts.BlockRestartInterval),
	}
	w.indexWriter = newIndexWriter(opts.Comparer)
	if opts.FilterPolicy != nil {
		w.filterWriter = filter.NewBlockWriter(opts.FilterPolicy)
	}
	return w
}

func (w *LegacyWriter) Add(key common.InternalKey, value []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return fmt.Errorf("%w: add after close", common.ErrInvalidRequest)
	}
	if err := w.validateKey(key); err != nil {
		w.err = err
		return err
	}

	if w.blk.ShouldFlush(key.Size(), len(value), w.decider) {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	if w.pendingIndex {
		sep := w.indexWriter.createKey(&w.lastKey, &key)
		if err := w.indexWriter.add(sep, w.pendingHandle); err != nil {
			w.err = err
			return err
		}
		w.counters.Inc(metrics.CountIndexKeys)
		w.pendingIndex = false
	}

	if w.filterWriter != nil {
		w.filterWriter.AddKey(key.UserKey)
	}
	w.lastKey.UserKey = append(w.lastKey.UserKey[:0], key.UserKey...)
	w.lastKey.Trailer = key.Trailer

	if err := w.blk.WriteEntry(key, value); err != nil {
		w.err = err
		return err
	}

	w.numEntries++
	w.lastAdded.UserKey = append(w.lastAdded.UserKey[:0], key.UserKey...)
	w.lastAdded.Trailer = key.Trailer

	w.counters.Inc(metrics.CountKeys)
	w.counters.Add(metrics.CountKeySize, uint64(key.Size()))
	w.counters.Add(metrics.CountValueSize, uint64(len(value)))
	return nil
}

func (w *LegacyWriter) validateKey(key common.InternalKey) error {
	if w.numEntries == 0 {
		return nil
	}
	cmp := w.comparer.Compare(key.UserKey, w.lastAdded.UserKey)
	if cmp < 0 || (cmp == 0 && w.lastAdded.Trailer <= key.Trailer) {
		return fmt.Errorf("%w: keys must be added in strictly increasing order", common.ErrInvalidRequest)
	}
	return nil
}

func (w *LegacyWriter) Flush() error {
	if w.err != nil || w.blk.EntryCount() == 0 {
		return w.err
	}

	raw := w.blk.Finish()
	w.counters.Inc(metrics.CountBlocks)
	w.counters.Add(metrics.CountBlockSize, uint64(len(raw)))

	bh, err := w.writeBlock(raw, w.opts.Compression[common.BlockKindData])
	w.blk.Reset()
	if err != nil {
		return err
	}
	w.counters.Add(metrics.CountBlockWriteSize, bh.Length)

	w.pendingIndex = true
	w.pendingHandle = bh
	if w.filterWriter != nil {
		w.filterWriter.StartBlock(w.offset)
	}
	return nil
}

func (w *LegacyWriter) Finish() error {
	if w.closed {
		return fmt.Errorf("%w: finish after close", common.ErrInvalidRequest)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}

	if w.pendingIndex {
		sep := w.indexWriter.createKey(&w.lastKey, nil)
		if err := w.indexWriter.add(sep, w.pendingHandle); err != nil {
			w.err = err
			return err
		}
		w.counters.Inc(metrics.CountIndexKeys)
		w.pendingIndex = false
	}

	metaIndex := newRowBlockBuf(1)
	if w.filterWriter != nil {
		fh, err := w.writeBlock(w.filterWriter.Finish(), w.opts.Compression[common.BlockKindFilter])
		if err != nil {
			return err
		}
		name := common.FilterMetaPrefix + w.opts.FilterPolicy.Name()
		fk := common.MakeKey([]byte(name), 0, common.KeyKindSet)
		if err := metaIndex.WriteEntry(fk, fh.Encode()); err != nil {
			w.err = err
			return err
		}
	}
	metaIndexBH, err := w.writeBlock(metaIndex.Finish(), w.opts.Compression[common.BlockKindMetaIndex])
	if err != nil {
		return err
	}

	indexBH, err := w.writeBlock(w.indexWriter.finish(), w.opts.Compression[common.BlockKindIndex])
	if err != nil {
		return err
	}

	if _, err := w.writeBlock(w.counters.Serialize(), w.opts.Compression[common.BlockKindStats]); err != nil {
		return err
	}

	f := footer{metaIndexBH: metaIndexBH, indexBH: indexBH}
	if err := w.writeRaw(f.Serialise()); err != nil {
		return err
	}

	w.fileSize = w.offset
	return nil
}

func (w *LegacyWriter) Abandon() {
	if w.abandoned {
		return
	}
	w.abandoned = true
	w.closed = true
	w.writable.Abort()
}

func (w *LegacyWriter) Error() error {
	return w.err
}

func (w *LegacyWriter) FileSize() uint64 {
	return w.fileSize
}

func (w *LegacyWriter) NumEntries() uint64 {
	return w.numEntries
}

func (w *LegacyWriter) Counters() *metrics.CounterSet {
	return w.counters
}

// writeBlock writes payload plus its trailer sequentially at the current
// offset.
func (w *LegacyWriter) writeBlock(payload []byte, ct compression.CompressionType) (common.BlockHandle, error) {
	data, blockType := compressPayload(payload, ct, &w.compressBuf, w.counters)
	crc := w.checksum.Checksum(data, byte(blockType))

	var pb common.PhysicalBlock
	pb.SetData(data)
	pb.SetTrailer(byte(blockType), common.MaskChecksum(crc))

	handle := common.BlockHandle{Offset: w.offset, Length: uint64(len(data))}
	if err := w.writeRaw(data); err != nil {
		return handle, err
	}
	trailer := pb.Trailer()
	if err := w.writeRaw(trailer[:]); err != nil {
		return handle, err
	}
	return handle, nil
}

func (w *LegacyWriter) writeRaw(buf []byte) error {
	n, err := w.writable.Write(buf)
	if err != nil {
		w.err = fmt.Errorf("%w: write %d bytes at offset %d: %v", common.ErrIO, len(buf), w.offset, err)
		return w.err
	}
	w.offset += uint64(n)
	return nil
}

var _ ITableWriter = (*LegacyWriter)(nil)
