package tablecache

import (
	"container/list"
	"encoding/binary"
	"sync"

	"github.com/basho/go-sstable/options"
	"github.com/basho/go-sstable/row_block"
	"github.com/basho/go-sstable/vfs"
	"github.com/twmb/murmur3"
	"go.uber.org/multierr"
)

const numShards = 8

// Cache keeps recently opened table readers alive, keyed by file number. The
// build driver opens a freshly finished table through it to verify the file
// is usable; subsequent readers of the same table reuse the open handle.
type Cache struct {
	storage vfs.Storage
	opts    options.BlockWriteOpt
	shards  [numShards]shard
}

type shard struct {
	mu       sync.Mutex
	capacity int
	entries  map[int64]*list.Element
	// lru front = most recently used
	lru *list.List
}

type cacheEntry struct {
	num    int64
	reader *row_block.Reader
}

// New creates a cache holding up to capacityPerShard open tables per shard.
func New(storage vfs.Storage, opts options.BlockWriteOpt, capacityPerShard int) *Cache {
	c := &Cache{storage: storage, opts: opts}
	for i := range c.shards {
		c.shards[i] = shard{
			capacity: capacityPerShard,
			entries:  make(map[int64]*list.Element),
			lru:      list.New(),
		}
	}
	return c
}

func (c *Cache) shardFor(num int64) *shard {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(num))
	return &c.shards[murmur3.Sum64(b[:])%numShards]
}

// Open returns an open reader for the table, opening and caching it on a
// miss. The reader stays owned by the cache; callers must not close it.
func (c *Cache) Open(num int64) (*row_block.Reader, error) {
	s := c.shardFor(num)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[num]; ok {
		s.lru.MoveToFront(el)
		return el.Value.(*cacheEntry).reader, nil
	}

	readable, _, err := c.storage.Open(vfs.TypeTable, num)
	if err != nil {
		return nil, err
	}
	reader, err := row_block.NewReader(readable, c.opts)
	if err != nil {
		_ = readable.Close()
		return nil, err
	}

	s.entries[num] = s.lru.PushFront(&cacheEntry{num: num, reader: reader})
	for s.lru.Len() > s.capacity {
		oldest := s.lru.Back()
		entry := oldest.Value.(*cacheEntry)
		s.lru.Remove(oldest)
		delete(s.entries, entry.num)
		_ = entry.reader.Close()
	}
	return reader, nil
}

// Evict drops and closes the cached reader for the table, if any.
func (c *Cache) Evict(num int64) error {
	s := c.shardFor(num)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[num]
	if !ok {
		return nil
	}
	entry := el.Value.(*cacheEntry)
	s.lru.Remove(el)
	delete(s.entries, num)
	return entry.reader.Close()
}

func (c *Cache) Close() error {
	var err error
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for el := s.lru.Front(); el != nil; el = el.Next() {
			err = multierr.Append(err, el.Value.(*cacheEntry).reader.Close())
		}
		s.entries = make(map[int64]*list.Element)
		s.lru.Init()
		s.mu.Unlock()
	}
	return err
}
