package go_sstable

import (
	"fmt"
	"time"

	"github.com/basho/go-sstable/common"
	"github.com/basho/go-sstable/row_block"
	"github.com/basho/go-sstable/tablecache"
	"github.com/basho/go-sstable/vfs"
	"go.uber.org/zap"
)

// TableMeta describes the table a BuildTable call produced.
type TableMeta struct {
	FileNum int64
	// Level the output file is being created for; carried as metadata only.
	Level int

	FileSize   uint64
	NumEntries uint64
	Smallest   common.InternalKey
	Largest    common.InternalKey
}

// BuildTable streams the iterator through the retirement filter into a table
// builder, verifies the finished file through the reader cache and cleans up
// on failure. An empty iterator is a success with FileSize == 0 and no file
// on disk.
func BuildTable(
	storage vfs.Storage,
	cache *tablecache.Cache,
	iter common.InternalIterator,
	meta *TableMeta,
	smallestSnapshot common.SeqNum,
	optFns ...WriteOptFn,
) error {
	opts := defaultWriteOpt()
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.PriorityLevel = meta.Level

	meta.FileSize = 0
	meta.NumEntries = 0

	kv := iter.First()
	if kv == nil {
		if err := iter.Error(); err != nil {
			return fmt.Errorf("%w: %v", common.ErrIteration, err)
		}
		return nil
	}

	writable, _, err := storage.Create(vfs.TypeTable, meta.FileNum, opts.WriteBufferSize)
	if err != nil {
		return fmt.Errorf("%w: create table file %d: %v", common.ErrIO, meta.FileNum, err)
	}

	// not all destinations support pre-allocated write regions
	var builder row_block.ITableWriter
	if regionWritable, ok := writable.(vfs.RegionWritable); ok {
		builder = row_block.NewRowBlockWriter(regionWritable, opts)
	} else {
		builder = row_block.NewLegacyWriter(writable, opts)
	}

	retirement := NewKeyRetirement(opts.Comparer, smallestSnapshot)
	meta.Smallest = kv.K.Clone()

	var s error
	for ; kv != nil; kv = iter.Next() {
		retire, rerr := retirement.Retire(&kv.K)
		if rerr != nil {
			s = rerr
			break
		}
		if retire {
			continue
		}
		meta.Largest = kv.K.Clone()
		if aerr := builder.Add(kv.K, kv.V); aerr != nil {
			s = aerr
			break
		}
		meta.NumEntries++
	}
	if ierr := iter.Error(); s == nil && ierr != nil {
		s = fmt.Errorf("%w: %v", common.ErrIteration, ierr)
	}

	// finish and check for builder errors
	if s == nil && builder.Error() == nil {
		s = builder.Finish()
		if s == nil {
			meta.FileSize = builder.FileSize()
		}
	} else {
		builder.Abandon()
	}

	// finish and check for file errors
	if s == nil {
		start := time.Now()
		if err := writable.Sync(); err != nil {
			s = fmt.Errorf("%w: sync table file %d: %v", common.ErrIO, meta.FileNum, err)
		}
		zap.L().Info("table file synced",
			zap.Int64("fileNum", meta.FileNum),
			zap.Duration("took", time.Since(start)))
	}
	if s == nil {
		start := time.Now()
		if err := writable.Finish(); err != nil {
			s = fmt.Errorf("%w: close table file %d: %v", common.ErrIO, meta.FileNum, err)
		}
		zap.L().Info("table file closed",
			zap.Int64("fileNum", meta.FileNum),
			zap.Duration("took", time.Since(start)))
	} else {
		writable.Abort()
	}

	// verify that the table is usable
	if s == nil && cache != nil {
		s = verifyTable(cache, meta.FileNum)
	}

	if s != nil || meta.FileSize == 0 {
		if cache != nil {
			_ = cache.Evict(meta.FileNum)
		}
		_ = storage.Remove(vfs.TypeTable, meta.FileNum)
		meta.FileSize = 0
	}
	return s
}

func verifyTable(cache *tablecache.Cache, fileNum int64) error {
	reader, err := cache.Open(fileNum)
	if err != nil {
		zap.L().Error("finished table failed verification",
			zap.Int64("fileNum", fileNum), zap.Error(err))
		return err
	}
	it := reader.NewIterator()
	_ = it.First()
	if err = it.Close(); err != nil {
		zap.L().Error("finished table failed verification",
			zap.Int64("fileNum", fileNum), zap.Error(err))
	}
	return err
}
