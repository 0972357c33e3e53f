package tablecache_test

import (
	"fmt"
	"testing"

	go_sstable "github.com/basho/go-sstable"
	"github.com/basho/go-sstable/common"
	"github.com/basho/go-sstable/compression"
	"github.com/basho/go-sstable/filter"
	"github.com/basho/go-sstable/options"
	"github.com/basho/go-sstable/tablecache"
	"github.com/basho/go-sstable/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheOpts() options.BlockWriteOpt {
	return options.BlockWriteOpt{
		BlockRestartInterval: 16,
		BlockSize:            4 * 1024,
		BlockSizeThreshold:   0.9,
		FilterPolicy:         filter.NewBloomPolicy(),
		Comparer:             common.NewComparer(),
	}
}

func writeTable(t *testing.T, storage vfs.Storage, num int64, entries int) {
	t.Helper()
	writable, _, err := storage.Create(vfs.TypeTable, num, 0)
	require.NoError(t, err)
	w := go_sstable.NewWriter(writable,
		go_sstable.WithCompression(common.BlockKindData, compression.NoCompression),
		go_sstable.WithCompression(common.BlockKindIndex, compression.NoCompression))
	for i := 0; i < entries; i++ {
		require.NoError(t, w.Set([]byte(fmt.Sprintf("t%02d-key%04d", num, i)), []byte("v")))
	}
	require.NoError(t, w.Close())
}

func TestCache_OpenReusesReader(t *testing.T) {
	storage := vfs.NewInmemStorage()
	writeTable(t, storage, 1, 100)

	cache := tablecache.New(storage, cacheOpts(), 4)
	defer cache.Close()

	first, err := cache.Open(1)
	require.NoError(t, err)
	second, err := cache.Open(1)
	require.NoError(t, err)
	assert.Same(t, first, second, "a cached table must not be reopened")

	got, err := first.Get([]byte("t01-key0042"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestCache_EvictClosesAndReopens(t *testing.T) {
	storage := vfs.NewInmemStorage()
	writeTable(t, storage, 1, 10)

	cache := tablecache.New(storage, cacheOpts(), 4)
	defer cache.Close()

	first, err := cache.Open(1)
	require.NoError(t, err)
	require.NoError(t, cache.Evict(1))
	// evicting an absent table is a no-op
	require.NoError(t, cache.Evict(99))

	second, err := cache.Open(1)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestCache_OpenMissingTable(t *testing.T) {
	cache := tablecache.New(vfs.NewInmemStorage(), cacheOpts(), 4)
	defer cache.Close()

	_, err := cache.Open(404)
	assert.Error(t, err)
}

func TestCache_ManyTables(t *testing.T) {
	storage := vfs.NewInmemStorage()
	for num := int64(1); num <= 8; num++ {
		writeTable(t, storage, num, 20)
	}

	cache := tablecache.New(storage, cacheOpts(), 2)
	defer cache.Close()

	for num := int64(1); num <= 8; num++ {
		r, err := cache.Open(num)
		require.NoError(t, err)
		got, err := r.Get([]byte(fmt.Sprintf("t%02d-key0000", num)))
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	}
}
