package row_block

import "github.com/basho/go-sstable/common"

// indexWriter accumulates index entries: separator key → encoded block handle.
// In the parallel pipeline entries arrive already shortened and in file order,
// so add is a plain append; the serial path derives separators through
// createKey.
type indexWriter struct {
	// The index block also uses the row-oriented layout, with a restart
	// interval of 1, aka every entry is a restart point.
	indexBlock *rowBlockBuf
	comparer   common.IComparer
}

func newIndexWriter(comparer common.IComparer) *indexWriter {
	return &indexWriter{
		indexBlock: newRowBlockBuf(1),
		comparer:   comparer,
	}
}

// createKey builds the separator for a sealed block: key is the first key of
// the following block, or nil at the end of the stream.
func (w *indexWriter) createKey(prevKey, key *common.InternalKey) *common.InternalKey {
	if key == nil {
		return prevKey.Successor(w.comparer)
	}
	return prevKey.Separator(w.comparer, key)
}

func (w *indexWriter) add(key *common.InternalKey, bh common.BlockHandle) error {
	return w.indexBlock.WriteEntry(*key, bh.Encode())
}

func (w *indexWriter) entryCount() int {
	return w.indexBlock.EntryCount()
}

func (w *indexWriter) finish() []byte {
	return w.indexBlock.Finish()
}
