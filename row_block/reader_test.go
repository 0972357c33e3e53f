package row_block

import (
	"testing"

	"github.com/basho/go-sstable/common"
	"github.com/basho/go-sstable/metrics"
	"github.com/basho/go-sstable/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ChecksumRejectsEveryByteFlip(t *testing.T) {
	opts := testOpts()
	kvs := sequentialKVs(64)
	storage, _ := buildTestTable(t, opts, kvs)
	original := readAllBytes(t, storage)

	// locate the first data block through a pristine reader
	pristine := openTestReader(t, storage, opts)
	idxIter, err := newBlockIter(opts.Comparer, pristine.indexData)
	require.NoError(t, err)
	sep := idxIter.First()
	require.NotNil(t, sep)
	var bh common.BlockHandle
	_, err = bh.DecodeFrom(sep.V)
	require.NoError(t, err)
	require.NoError(t, pristine.Close())

	// flipping any byte of the block payload or its trailer must surface as
	// a corruption error on the read path
	for off := bh.Offset; off < bh.Offset+bh.Length+common.TrailerLen; off++ {
		data := append([]byte{}, original...)
		data[off] ^= 0x01

		corrupt := vfs.NewInmemStorage()
		w, _, err := corrupt.Create(vfs.TypeTable, 1, 0)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Finish())

		readable, _, err := corrupt.Open(vfs.TypeTable, 1)
		require.NoError(t, err)
		r, err := NewReader(readable, opts)
		require.NoError(t, err, "meta blocks are untouched by a data block flip")

		_, err = r.Get(kvs[0].K.UserKey)
		assert.ErrorIs(t, err, common.ErrCorruption, "flip at offset %d went undetected", off)
		require.NoError(t, r.Close())
	}
}

func TestReader_BadMagic(t *testing.T) {
	opts := testOpts()
	storage, _ := buildTestTable(t, opts, sequentialKVs(16))
	data := readAllBytes(t, storage)
	data[len(data)-1] ^= 0xff

	corrupt := vfs.NewInmemStorage()
	w, _, err := corrupt.Create(vfs.TypeTable, 1, 0)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	readable, _, err := corrupt.Open(vfs.TypeTable, 1)
	require.NoError(t, err)
	defer readable.Close()
	_, err = NewReader(readable, opts)
	assert.ErrorIs(t, err, common.ErrCorruption)
}

func TestReader_GetTombstone(t *testing.T) {
	opts := testOpts()
	kvs := []common.InternalKV{
		{K: common.MakeKey([]byte("alive"), 3, common.KeyKindSet), V: []byte("v")},
		{K: common.MakeKey([]byte("dead"), 2, common.KeyKindDelete), V: nil},
	}
	storage, _ := buildTestTable(t, opts, kvs)

	r := openTestReader(t, storage, opts)
	defer r.Close()

	got, err := r.Get([]byte("alive"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = r.Get([]byte("dead"))
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = r.Get([]byte("absent"))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestReader_SeekGTE(t *testing.T) {
	opts := testOpts()
	opts.BlockSize = 256
	kvs := sequentialKVs(1000)
	storage, _ := buildTestTable(t, opts, kvs)

	r := openTestReader(t, storage, opts)
	defer r.Close()

	it := r.NewIterator()
	defer it.Close()

	kv := it.SeekGTE([]byte("key00500"))
	require.NotNil(t, kv)
	assert.Equal(t, "key00500", string(kv.K.UserKey))

	// keys between entries land on the next greater one, across block
	// boundaries included
	kv = it.SeekGTE([]byte("key00500x"))
	require.NotNil(t, kv)
	assert.Equal(t, "key00501", string(kv.K.UserKey))

	assert.Nil(t, it.SeekGTE([]byte("zzz")))
	require.NoError(t, it.Error())
}

func TestReader_StatsSurvivePersistence(t *testing.T) {
	opts := testOpts()
	kvs := sequentialKVs(300)
	storage, w := buildTestTable(t, opts, kvs)

	r := openTestReader(t, storage, opts)
	defer r.Close()

	require.NotNil(t, r.Stats())
	assert.Equal(t, uint64(300), r.Stats().Value(metrics.CountKeys))
	assert.Equal(t, w.Counters().Value(metrics.CountBlocks), r.Stats().Value(metrics.CountBlocks))
	assert.Equal(t, w.Counters().Value(metrics.CountValueSize), r.Stats().Value(metrics.CountValueSize))
}
