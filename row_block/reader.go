package row_block

import (
	"encoding/binary"
	"fmt"

	"github.com/basho/go-sstable/common"
	"github.com/basho/go-sstable/compression"
	"github.com/basho/go-sstable/filter"
	"github.com/basho/go-sstable/metrics"
	"github.com/basho/go-sstable/options"
	"github.com/basho/go-sstable/vfs"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Reader reads blocks from a single table file, handling footer and
// meta-block discovery, checksum validation and decompression.
type Reader struct {
	readable vfs.Readable
	cmp      common.IComparer
	checksum common.IChecksum

	fileSize    uint64
	metaIndexBH common.BlockHandle
	indexBH     common.BlockHandle

	indexData    []byte
	filterReader *filter.BlockReader
	stats        *metrics.CounterSet
}

func NewReader(readable vfs.Readable, opts options.BlockWriteOpt) (*Reader, error) {
	r := &Reader{
		readable: readable,
		cmp:      opts.Comparer,
		checksum: common.NewChecksumer(common.CRC32CChecksum),
		fileSize: readable.Size(),
	}

	foot, err := readFooter(readable)
	if err != nil {
		return nil, err
	}
	r.metaIndexBH = foot.metaIndexBH
	r.indexBH = foot.indexBH

	if r.indexData, err = r.readBlock(r.indexBH); err != nil {
		zap.L().Error("failed to read index block", zap.Error(err))
		return nil, err
	}
	if err = r.readMetaIndex(opts); err != nil {
		zap.L().Error("failed to read metaIndex block", zap.Error(err))
		return nil, err
	}
	if err = r.readStats(); err != nil {
		zap.L().Error("failed to read stats block", zap.Error(err))
		return nil, err
	}
	return r, nil
}

func (r *Reader) readMetaIndex(opts options.BlockWriteOpt) error {
	data, err := r.readBlock(r.metaIndexBH)
	if err != nil {
		return err
	}
	it, err := newBlockIter(r.cmp, data)
	if err != nil {
		return err
	}
	for kv := it.First(); kv != nil; kv = it.Next() {
		if opts.FilterPolicy == nil {
			continue
		}
		if string(kv.K.UserKey) != common.FilterMetaPrefix+opts.FilterPolicy.Name() {
			continue
		}
		var fh common.BlockHandle
		if _, err := fh.DecodeFrom(kv.V); err != nil {
			return err
		}
		fdata, err := r.readBlock(fh)
		if err != nil {
			return err
		}
		if r.filterReader, err = filter.NewBlockReader(opts.FilterPolicy, fdata); err != nil {
			return err
		}
	}
	return it.Error()
}

// readStats locates the stats metablock positionally: it occupies the span
// between the end of the index block and the footer.
func (r *Reader) readStats() error {
	statsOff := r.indexBH.Offset + r.indexBH.Length + common.TrailerLen
	footerOff := r.fileSize - common.TableFooterLen
	if footerOff < statsOff+common.TrailerLen {
		return fmt.Errorf("%w: no room for a stats block before the footer", common.ErrCorruption)
	}
	bh := common.BlockHandle{Offset: statsOff, Length: footerOff - statsOff - common.TrailerLen}
	data, err := r.readBlock(bh)
	if err != nil {
		return err
	}
	r.stats, err = metrics.Deserialize(data)
	return err
}

// readBlock fetches one physical block, verifies its masked checksum and
// undoes its compression.
func (r *Reader) readBlock(bh common.BlockHandle) ([]byte, error) {
	buf := make([]byte, bh.Length+common.TrailerLen)
	if _, err := r.readable.ReadAt(buf, int64(bh.Offset)); err != nil {
		return nil, fmt.Errorf("%w: read block at offset %d: %v", common.ErrIO, bh.Offset, err)
	}
	payload := buf[:bh.Length]
	blockType := buf[bh.Length]
	stored := binary.LittleEndian.Uint32(buf[bh.Length+1:])
	if expected := common.MaskChecksum(r.checksum.Checksum(payload, blockType)); stored != expected {
		return nil, fmt.Errorf("%w: checksum mismatch for block at offset %d", common.ErrCorruption, bh.Offset)
	}

	switch ct := compression.CompressionType(blockType); ct {
	case compression.NoCompression:
		return payload, nil
	case compression.SnappyCompression, compression.ZstdCompression:
		compressor := compression.NewCompressor(ct)
		n, err := compressor.DecompressedLen(payload)
		if err != nil {
			return nil, err
		}
		decompressed := make([]byte, n)
		if err := compressor.Decompress(decompressed, payload); err != nil {
			return nil, err
		}
		return decompressed, nil
	default:
		return nil, fmt.Errorf("%w: unknown block type %d at offset %d", common.ErrCorruption, blockType, bh.Offset)
	}
}

// Get returns the newest value stored for the given user key, or ErrNotFound
// when the table has no live entry for it.
func (r *Reader) Get(userKey []byte) ([]byte, error) {
	idxIter, err := newBlockIter(r.cmp, r.indexData)
	if err != nil {
		return nil, err
	}
	sep := idxIter.SeekGTE(userKey)
	if sep == nil {
		if err := idxIter.Error(); err != nil {
			return nil, err
		}
		return nil, common.ErrNotFound
	}
	var bh common.BlockHandle
	if _, err := bh.DecodeFrom(sep.V); err != nil {
		return nil, err
	}

	if r.filterReader != nil && !r.filterReader.MayContain(bh.Offset, userKey) {
		return nil, common.ErrNotFound
	}

	data, err := r.readBlock(bh)
	if err != nil {
		return nil, err
	}
	it, err := newBlockIter(r.cmp, data)
	if err != nil {
		return nil, err
	}
	kv := it.SeekGTE(userKey)
	if kv == nil {
		if err := it.Error(); err != nil {
			return nil, err
		}
		return nil, common.ErrNotFound
	}
	if r.cmp.Compare(kv.K.UserKey, userKey) != 0 || kv.K.KeyKind() == common.KeyKindDelete {
		return nil, common.ErrNotFound
	}
	return append([]byte(nil), kv.V...), nil
}

// Stats returns the build counters persisted in the stats metablock.
func (r *Reader) Stats() *metrics.CounterSet {
	return r.stats
}

func (r *Reader) FileSize() uint64 {
	return r.fileSize
}

// IndexEntryCount is the number of data blocks the index references.
func (r *Reader) IndexEntryCount() (int, error) {
	it, err := newBlockIter(r.cmp, r.indexData)
	if err != nil {
		return 0, err
	}
	n := 0
	for kv := it.First(); kv != nil; kv = it.Next() {
		n++
	}
	return n, it.Error()
}

func (r *Reader) Close() error {
	return r.readable.Close()
}

// NewIterator iterates over every entry of the table in key order.
func (r *Reader) NewIterator() common.InternalIterator {
	return &tableIter{r: r}
}

// tableIter is the two-level iterator: the first level walks index entries,
// the second the referenced data blocks.
type tableIter struct {
	r   *Reader
	idx *blockIter
	cur *blockIter
	err error
}

func (it *tableIter) First() *common.InternalKV {
	it.idx, it.err = newBlockIter(it.r.cmp, it.r.indexData)
	if it.err != nil {
		return nil
	}
	return it.nextBlock(it.idx.First())
}

func (it *tableIter) Next() *common.InternalKV {
	if it.err != nil || it.cur == nil {
		return nil
	}
	if kv := it.cur.Next(); kv != nil {
		return kv
	}
	if it.err = it.cur.Error(); it.err != nil {
		return nil
	}
	return it.nextBlock(it.idx.Next())
}

func (it *tableIter) SeekGTE(userKey []byte) *common.InternalKV {
	it.idx, it.err = newBlockIter(it.r.cmp, it.r.indexData)
	if it.err != nil {
		return nil
	}
	sep := it.idx.SeekGTE(userKey)
	if sep == nil {
		it.err = it.idx.Error()
		return nil
	}
	if !it.loadBlock(sep) {
		return nil
	}
	if kv := it.cur.SeekGTE(userKey); kv != nil {
		return kv
	}
	if it.err = it.cur.Error(); it.err != nil {
		return nil
	}
	// the separator can sit past the block's last key; fall to the next block
	return it.nextBlock(it.idx.Next())
}

// nextBlock loads blocks starting at the given index entry until one yields a
// first entry.
func (it *tableIter) nextBlock(sep *common.InternalKV) *common.InternalKV {
	for ; sep != nil; sep = it.idx.Next() {
		if !it.loadBlock(sep) {
			return nil
		}
		if kv := it.cur.First(); kv != nil {
			return kv
		}
		if it.err = it.cur.Error(); it.err != nil {
			return nil
		}
	}
	it.err = it.idx.Error()
	it.cur = nil
	return nil
}

func (it *tableIter) loadBlock(sep *common.InternalKV) bool {
	var bh common.BlockHandle
	if _, it.err = bh.DecodeFrom(sep.V); it.err != nil {
		return false
	}
	var data []byte
	if data, it.err = it.r.readBlock(bh); it.err != nil {
		return false
	}
	it.cur, it.err = newBlockIter(it.r.cmp, data)
	return it.err == nil
}

func (it *tableIter) Error() error {
	return it.err
}

func (it *tableIter) Close() error {
	var err error
	if it.idx != nil {
		err = multierr.Append(err, it.idx.Close())
	}
	if it.cur != nil {
		err = multierr.Append(err, it.cur.Close())
	}
	return multierr.Append(err, it.err)
}

var _ common.InternalIterator = (*tableIter)(nil)
