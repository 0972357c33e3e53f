package go_sstable

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/basho/go-sstable/common"
	"github.com/basho/go-sstable/tablecache"
	"github.com/basho/go-sstable/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// sliceIter feeds a fixed record slice to the driver, optionally failing
// after a number of records like a broken upstream iterator would.
type sliceIter struct {
	kvs []common.InternalKV
	pos int

	failAfter int // 0 = never
	failWith  error
	err       error
}

func (it *sliceIter) First() *common.InternalKV {
	it.pos = 0
	return it.current()
}

func (it *sliceIter) Next() *common.InternalKV {
	it.pos++
	return it.current()
}

func (it *sliceIter) SeekGTE(userKey []byte) *common.InternalKV {
	cmp := common.NewComparer()
	for it.pos = 0; it.pos < len(it.kvs); it.pos++ {
		if cmp.Compare(it.kvs[it.pos].K.UserKey, userKey) >= 0 {
			break
		}
	}
	return it.current()
}

func (it *sliceIter) current() *common.InternalKV {
	if it.failAfter > 0 && it.pos >= it.failAfter {
		it.err = it.failWith
		return nil
	}
	if it.pos >= len(it.kvs) {
		return nil
	}
	return &it.kvs[it.pos]
}

func (it *sliceIter) Error() error { return it.err }
func (it *sliceIter) Close() error { return it.err }

func driverKVs(n int) []common.InternalKV {
	kvs := make([]common.InternalKV, 0, n)
	for i := 0; i < n; i++ {
		kvs = append(kvs, common.InternalKV{
			K: common.MakeKey([]byte(fmt.Sprintf("key%05d", i)), common.SeqNum(i+1), common.KeyKindSet),
			V: []byte(fmt.Sprintf("val%05d", i)),
		})
	}
	return kvs
}

func newDriverEnv() (vfs.Storage, *tablecache.Cache) {
	storage := vfs.NewInmemStorage()
	cache := tablecache.New(storage, defaultWriteOpt(), 4)
	return storage, cache
}

func TestBuildTable_EmptyIterator(t *testing.T) {
	storage, cache := newDriverEnv()
	defer cache.Close()

	meta := &TableMeta{FileNum: 1}
	err := BuildTable(storage, cache, &sliceIter{}, meta, 0)
	require.NoError(t, err)
	assert.Zero(t, meta.FileSize)
	assert.Zero(t, meta.NumEntries)

	_, lerr := storage.LookUp(vfs.TypeTable, 1)
	assert.Error(t, lerr, "no file may exist for an empty input")
}

func TestBuildTable_Success(t *testing.T) {
	storage, cache := newDriverEnv()
	defer cache.Close()

	kvs := driverKVs(10_000)
	meta := &TableMeta{FileNum: 1, Level: 3}
	err := BuildTable(storage, cache, &sliceIter{kvs: kvs}, meta, 0)
	require.NoError(t, err)

	assert.Equal(t, uint64(len(kvs)), meta.NumEntries)
	assert.Positive(t, meta.FileSize)
	assert.Equal(t, "key00000", string(meta.Smallest.UserKey))
	assert.Equal(t, "key09999", string(meta.Largest.UserKey))

	reader, err := cache.Open(1)
	require.NoError(t, err)
	got, err := reader.Get([]byte("key04242"))
	require.NoError(t, err)
	assert.Equal(t, []byte("val04242"), got)
	assert.Equal(t, meta.FileSize, reader.FileSize())
}

func TestBuildTable_SnapshotRetirement(t *testing.T) {
	storage, cache := newDriverEnv()
	defer cache.Close()

	kvs := []common.InternalKV{
		{K: common.MakeKey([]byte("k"), 10, common.KeyKindSet), V: []byte("new")},
		{K: common.MakeKey([]byte("k"), 5, common.KeyKindSet), V: []byte("old")},
		{K: common.MakeKey([]byte("k"), 3, common.KeyKindDelete), V: nil},
	}
	meta := &TableMeta{FileNum: 1}
	err := BuildTable(storage, cache, &sliceIter{kvs: kvs}, meta, 7)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), meta.NumEntries)

	reader, err := cache.Open(1)
	require.NoError(t, err)

	got, err := reader.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)

	it := reader.NewIterator()
	count := 0
	for kv := it.First(); kv != nil; kv = it.Next() {
		assert.Equal(t, common.SeqNum(10), kv.K.SeqNum())
		count++
	}
	require.NoError(t, it.Close())
	assert.Equal(t, 1, count, "only the newest visible version may be written")
}

func TestBuildTable_IteratorError(t *testing.T) {
	storage, cache := newDriverEnv()
	defer cache.Close()

	iterErr := errors.New("upstream iteration failed")
	iter := &sliceIter{kvs: driverKVs(1000), failAfter: 500, failWith: iterErr}

	meta := &TableMeta{FileNum: 1}
	err := BuildTable(storage, cache, iter, meta, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrIteration)

	assert.Zero(t, meta.FileSize)
	_, lerr := storage.LookUp(vfs.TypeTable, 1)
	assert.Error(t, lerr, "the partial file must be deleted")
}

func TestBuildTable_CorruptKeyAborts(t *testing.T) {
	storage, cache := newDriverEnv()
	defer cache.Close()

	kvs := driverKVs(10)
	kvs[5].K = *common.DeserializeKey([]byte("bad")) // kind byte unknown

	meta := &TableMeta{FileNum: 1}
	err := BuildTable(storage, cache, &sliceIter{kvs: kvs}, meta, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrCorruption)

	_, lerr := storage.LookUp(vfs.TypeTable, 1)
	assert.Error(t, lerr)
}

// failingStorage hands out writables whose region reservations start failing
// after a few blocks, imitating a full disk mid-build.
type failingStorage struct {
	vfs.Storage
	allowedAllocates int
}

func (f *failingStorage) Create(objType vfs.ObjectType, num int64, preallocateBytes int64) (vfs.Writable, vfs.FileDesc, error) {
	w, fd, err := f.Storage.Create(objType, num, preallocateBytes)
	if err != nil {
		return nil, fd, err
	}
	return &budgetWritable{RegionWritable: w.(vfs.RegionWritable), remaining: f.allowedAllocates}, fd, nil
}

type budgetWritable struct {
	vfs.RegionWritable

	mu        sync.Mutex
	remaining int
}

func (b *budgetWritable) Allocate(size int) (vfs.Region, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return nil, errors.New("simulated disk full")
	}
	b.remaining--
	return b.RegionWritable.Allocate(size)
}

func TestBuildTable_WriteErrorDeletesFile(t *testing.T) {
	inner := vfs.NewInmemStorage()
	storage := &failingStorage{Storage: inner, allowedAllocates: 2}
	cache := tablecache.New(storage, defaultWriteOpt(), 4)
	defer cache.Close()

	meta := &TableMeta{FileNum: 1}
	err := BuildTable(storage, cache, &sliceIter{kvs: driverKVs(20_000)}, meta, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrIO)

	assert.Zero(t, meta.FileSize)
	_, lerr := inner.LookUp(vfs.TypeTable, 1)
	assert.Error(t, lerr, "the partial file must be deleted")
}

func TestBuildTable_ConcurrentBuilds(t *testing.T) {
	storage := vfs.NewInmemStorage()
	cache := tablecache.New(storage, defaultWriteOpt(), 4)
	defer cache.Close()

	eg := errgroup.Group{}
	for num := int64(1); num <= 4; num++ {
		num := num
		eg.Go(func() error {
			kvs := make([]common.InternalKV, 0, 2000)
			for i := 0; i < 2000; i++ {
				kvs = append(kvs, common.InternalKV{
					K: common.MakeKey([]byte(fmt.Sprintf("t%02d-key%05d", num, i)), common.SeqNum(i+1), common.KeyKindSet),
					V: []byte("v"),
				})
			}
			meta := &TableMeta{FileNum: num}
			return BuildTable(storage, cache, &sliceIter{kvs: kvs}, meta, 0)
		})
	}
	require.NoError(t, eg.Wait())

	for num := int64(1); num <= 4; num++ {
		reader, err := cache.Open(num)
		require.NoError(t, err)
		got, err := reader.Get([]byte(fmt.Sprintf("t%02d-key00042", num)))
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	}
}

func TestBuildTable_WithOptions(t *testing.T) {
	storage, cache := newDriverEnv()
	defer cache.Close()

	meta := &TableMeta{FileNum: 1}
	err := BuildTable(storage, cache, &sliceIter{kvs: driverKVs(3000)}, meta, 0,
		WithBlockSize(512),
		WithBlockRestartInterval(4),
	)
	require.NoError(t, err)

	reader, err := cache.Open(1)
	require.NoError(t, err)
	n, err := reader.IndexEntryCount()
	require.NoError(t, err)
	assert.Greater(t, n, 20, "512-byte blocks must produce many index entries")
}
