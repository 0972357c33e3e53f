package go_sstable

import (
	"github.com/basho/go-sstable/common"
	"github.com/basho/go-sstable/options"
	"github.com/basho/go-sstable/row_block"
	"github.com/basho/go-sstable/vfs"
)

// Writer is the public facade over the table builders. It assigns sequence
// numbers itself, so it suits standalone table creation; compactions that
// already carry internal keys use BuildTable instead.
type Writer struct {
	opts     options.BlockWriteOpt
	writable vfs.Writable
	rw       row_block.ITableWriter
	seq      common.SeqNum
}

// NewWriter builds a table into writable. Destinations that support write
// regions get the parallel block pipeline; everything else falls back to the
// single-threaded builder.
func NewWriter(writable vfs.Writable, optFns ...WriteOptFn) *Writer {
	opts := defaultWriteOpt()
	for _, fn := range optFns {
		fn(&opts)
	}

	w := &Writer{
		opts:     opts,
		writable: writable,
	}
	if regionWritable, ok := writable.(vfs.RegionWritable); ok {
		w.rw = row_block.NewRowBlockWriter(regionWritable, opts)
	} else {
		w.rw = row_block.NewLegacyWriter(writable, opts)
	}
	return w
}

func (w *Writer) Set(key, value []byte) error {
	w.seq++
	return w.rw.Add(common.MakeKey(key, w.seq, common.KeyKindSet), value)
}

func (w *Writer) Delete(key []byte) error {
	w.seq++
	return w.rw.Add(common.MakeKey(key, w.seq, common.KeyKindDelete), nil)
}

func (w *Writer) Close() error {
	if err := w.rw.Finish(); err != nil {
		w.rw.Abandon()
		return err
	}
	return w.writable.Finish()
}

func (w *Writer) Abandon() {
	w.rw.Abandon()
}

var _ IWriter = (*Writer)(nil)
