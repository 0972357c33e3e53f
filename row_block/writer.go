package row_block

import (
	"fmt"
	"time"

	"github.com/basho/go-sstable/common"
	"github.com/basho/go-sstable/compression"
	"github.com/basho/go-sstable/filter"
	"github.com/basho/go-sstable/metrics"
	"github.com/basho/go-sstable/options"
	"github.com/basho/go-sstable/vfs"
	"go.uber.org/zap"
)

// ITableWriter is the surface the build driver and the public facade program
// against; both the parallel and the legacy serial writer satisfy it.
type ITableWriter interface {
	common.InternalWriter

	// FileSize is the size of the finished table, valid after Finish.
	FileSize() uint64
	// NumEntries is the number of keys added so far.
	NumEntries() uint64
	// Counters exposes the per-table build statistics.
	Counters() *metrics.CounterSet
}

// RowBlockWriter builds a table with row-oriented blocks, overlapping block
// ingest, compression and file writes through the slot pipeline. A single
// goroutine calls Add/Flush/Finish; everything else happens on the pipeline's
// workers.
type RowBlockWriter struct {
	opts     options.BlockWriteOpt
	writable vfs.RegionWritable

	comparer common.IComparer
	checksum common.IChecksum
	decider  common.IFlushDecider
	counters *metrics.CounterSet

	indexWriter  *indexWriter
	filterWriter *filter.BlockWriter

	pipe *pipeline

	// err is the sticky first error; guarded by pipe.mu.
	err error

	// offset is the write position of the file; only the worker holding the
	// Writing slot (and Finish, after the workers are joined) touches it.
	offset   uint64
	fileSize uint64

	// ingest-goroutine state
	loading    bool
	numEntries uint64
	lastAdded  common.InternalKey
	waitNanos  int64

	closed    bool
	abandoned bool
}

func NewRowBlockWriter(writable vfs.RegionWritable, opts options.BlockWriteOpt) *RowBlockWriter {
	w := &RowBlockWriter{
		opts:     opts,
		writable: writable,
		comparer: opts.Comparer,
		checksum: common.NewChecksumer(common.CRC32CChecksum),
		decider:  common.NewFlushDecider(opts.BlockSize, opts.BlockSizeThreshold),
		counters: metrics.NewCounterSet(),
	}
	w.indexWriter = newIndexWriter(opts.Comparer)
	if opts.FilterPolicy != nil {
		w.filterWriter = filter.NewBlockWriter(opts.FilterPolicy)
	}
	w.pipe = newPipeline(w)
	w.pipe.start()
	return w
}

// Add appends one key/value pair. Keys must be strictly increasing by the
// user comparer; equal user keys must arrive with strictly decreasing
// sequence numbers. Only one goroutine may call Add.
func (w *RowBlockWriter) Add(key common.InternalKey, value []byte) error {
	if err := w.Error(); err != nil {
		return err
	}
	if w.closed {
		return fmt.Errorf("%w: add after close", common.ErrInvalidRequest)
	}
	if err := w.validateKey(key); err != nil {
		w.setError(err)
		return err
	}

	// seal the current block first when this entry would overflow it
	if w.loading && w.pipe.slots[w.pipe.nextAdd].blk.ShouldFlush(key.Size(), len(value), w.decider) {
		_ = w.Flush()
	}

	slot := w.pipe.ingestSlot(&key)
	w.loading = true

	if w.filterWriter != nil {
		slot.filtLengths = append(slot.filtLengths, len(key.UserKey))
		slot.filtKeys = append(slot.filtKeys, key.UserKey...)
	}
	slot.lastKey.UserKey = append(slot.lastKey.UserKey[:0], key.UserKey...)
	slot.lastKey.Trailer = key.Trailer

	if err := slot.blk.WriteEntry(key, value); err != nil {
		w.setError(err)
		return err
	}

	w.numEntries++
	w.lastAdded.UserKey = append(w.lastAdded.UserKey[:0], key.UserKey...)
	w.lastAdded.Trailer = key.Trailer

	w.counters.Inc(metrics.CountKeys)
	w.counters.Add(metrics.CountKeySize, uint64(key.Size()))
	w.counters.Add(metrics.CountValueSize, uint64(len(value)))

	return w.Error()
}

// validateKey ensures keys arrive in ascending engine order.
func (w *RowBlockWriter) validateKey(key common.InternalKey) error {
	if w.numEntries == 0 {
		return nil
	}
	cmp := w.comparer.Compare(key.UserKey, w.lastAdded.UserKey)
	if cmp < 0 || (cmp == 0 && w.lastAdded.Trailer <= key.Trailer) {
		return fmt.Errorf("%w: keys must be added in strictly increasing order", common.ErrInvalidRequest)
	}
	return nil
}

// Flush seals the block under construction even if it is below the size
// threshold. The transition always happens, sticky error or not, so the
// pipeline can still drain.
func (w *RowBlockWriter) Flush() error {
	w.pipe.seal()
	w.loading = false
	return w.Error()
}

// Finish seals the table: it drains the pipeline, then emits the filter
// block, the meta-index block, the index block, the stats metablock and the
// footer, in that order.
func (w *RowBlockWriter) Finish() error {
	if w.closed {
		return fmt.Errorf("%w: finish after close", common.ErrInvalidRequest)
	}
	_ = w.Flush()
	w.pipe.setFinish(false)
	w.pipe.workers.Wait()
	w.closed = true
	defer w.pipe.releaseBuffers()

	zap.L().Debug("table pipeline drained",
		zap.Duration("ingestBlocked", time.Duration(w.waitNanos)),
		zap.Uint64("entries", w.numEntries))

	if err := w.Error(); err != nil {
		return err
	}

	metaIndex := newRowBlockBuf(1)
	if w.filterWriter != nil {
		fh, err := w.writeRawBlock(w.filterWriter.Finish(), w.opts.Compression[common.BlockKindFilter])
		if err != nil {
			return err
		}
		name := common.FilterMetaPrefix + w.opts.FilterPolicy.Name()
		fk := common.MakeKey([]byte(name), 0, common.KeyKindSet)
		if err := metaIndex.WriteEntry(fk, fh.Encode()); err != nil {
			return err
		}
	}
	metaIndexBH, err := w.writeRawBlock(metaIndex.Finish(), w.opts.Compression[common.BlockKindMetaIndex])
	if err != nil {
		return err
	}

	indexBH, err := w.writeRawBlock(w.indexWriter.finish(), w.opts.Compression[common.BlockKindIndex])
	if err != nil {
		return err
	}

	// The stats metablock sits between the index block and the footer; readers
	// locate it from those two positions, so it needs no handle of its own.
	if _, err := w.writeRawBlock(w.counters.Serialize(), w.opts.Compression[common.BlockKindStats]); err != nil {
		return err
	}

	f := footer{metaIndexBH: metaIndexBH, indexBH: indexBH}
	if err := w.writeRaw(f.Serialise()); err != nil {
		return err
	}

	w.fileSize = w.offset
	return w.Error()
}

// Abandon discards the table under construction: workers are joined and the
// destination aborted. Safe to call more than once.
func (w *RowBlockWriter) Abandon() {
	if w.abandoned {
		return
	}
	w.abandoned = true
	w.pipe.setFinish(true)
	w.pipe.workers.Wait()
	w.closed = true
	w.pipe.releaseBuffers()
	w.writable.Abort()
}

func (w *RowBlockWriter) Error() error {
	w.pipe.mu.Lock()
	defer w.pipe.mu.Unlock()
	return w.err
}

func (w *RowBlockWriter) setError(err error) {
	w.pipe.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.pipe.mu.Unlock()
}

func (w *RowBlockWriter) FileSize() uint64 {
	return w.fileSize
}

func (w *RowBlockWriter) NumEntries() uint64 {
	return w.numEntries
}

func (w *RowBlockWriter) Counters() *metrics.CounterSet {
	return w.counters
}

// writeRawBlock writes payload as one physical block at the current offset.
// Only called once the pipeline is drained, so plain sequential use of the
// region API.
func (w *RowBlockWriter) writeRawBlock(payload []byte, ct compression.CompressionType) (common.BlockHandle, error) {
	var scratch []byte
	data, blockType := compressPayload(payload, ct, &scratch, w.counters)
	crc := w.checksum.Checksum(data, byte(blockType))

	var pb common.PhysicalBlock
	pb.SetData(data)
	pb.SetTrailer(byte(blockType), common.MaskChecksum(crc))

	handle := common.BlockHandle{Offset: w.offset, Length: uint64(len(data))}
	if err := w.writePhysical(&pb); err != nil {
		return handle, err
	}
	return handle, nil
}

func (w *RowBlockWriter) writeRaw(buf []byte) error {
	region, err := w.writable.Allocate(len(buf))
	if err == nil {
		err = region.Assign(buf)
	}
	if err != nil {
		err = fmt.Errorf("%w: write %d bytes at offset %d: %v", common.ErrIO, len(buf), w.offset, err)
		w.setError(err)
		return err
	}
	w.offset += uint64(len(buf))
	return nil
}

func (w *RowBlockWriter) writePhysical(pb *common.PhysicalBlock) error {
	region, err := w.writable.Allocate(pb.LengthWithTrailer())
	if err == nil {
		if err = region.Assign(pb.Data()); err == nil {
			trailer := pb.Trailer()
			err = region.Append(trailer[:])
		}
	}
	if err != nil {
		err = fmt.Errorf("%w: write block at offset %d: %v", common.ErrIO, w.offset, err)
		w.setError(err)
		return err
	}
	w.offset += uint64(pb.LengthWithTrailer())
	return nil
}

// compressPayload applies the codec and falls back to the raw payload when
// the codec is unavailable or saves less than 1/8th of the block.
func compressPayload(
	raw []byte,
	ct compression.CompressionType,
	scratch *[]byte,
	counters metrics.ICounterSet,
) ([]byte, compression.CompressionType) {
	if ct == compression.NoCompression {
		return raw, compression.NoCompression
	}
	compressor := compression.NewCompressor(ct)
	if compressor == nil {
		// unknown codec: store the raw form rather than fail the build
		counters.Inc(metrics.CountCompressAborted)
		return raw, compression.NoCompression
	}

	*scratch = compressor.Compress(*scratch, raw)
	if compressed := *scratch; len(compressed) < len(raw)-len(raw)/8 {
		return compressed, ct
	}

	// compressed less than 12.5%, so just store the uncompressed form
	counters.Inc(metrics.CountCompressAborted)
	return raw, compression.NoCompression
}

var _ ITableWriter = (*RowBlockWriter)(nil)
