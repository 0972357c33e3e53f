package vfs

import (
	"bytes"
	"fmt"
	"sync"
)

type fileId int64

type inmemStorage struct {
	files map[fileId]*memFile
	mu    sync.Mutex
}

type memFile struct {
	data []byte
	// opened either for reading or writing
	open    bool
	storage *inmemStorage
}

type memReader struct {
	*bytes.Reader
	file *memFile
}

func (mr memReader) Size() uint64 {
	return uint64(mr.Reader.Size())
}

func (mr memReader) Close() error {
	mr.file.storage.mu.Lock()
	defer mr.file.storage.mu.Unlock()
	mr.file.open = false
	return nil
}

type memWriter struct {
	*memFile
}

func (m memWriter) Write(p []byte) (int, error) {
	m.storage.mu.Lock()
	defer m.storage.mu.Unlock()
	if !m.open {
		return 0, errFileIsClosed
	}
	m.data = append(m.data, p...)
	return len(p), nil
}

func (m memWriter) Close() error {
	m.storage.mu.Lock()
	defer m.storage.mu.Unlock()
	if !m.open {
		return errFileIsClosed
	}
	m.open = false
	return nil
}

func (m memWriter) Sync() error {
	// no op
	return nil
}

func (m memWriter) Finish() error {
	m.storage.mu.Lock()
	defer m.storage.mu.Unlock()
	if !m.open {
		return errFileIsClosed
	}
	m.open = false
	return nil
}

func (m memWriter) Abort() {
	m.storage.mu.Lock()
	defer m.storage.mu.Unlock()
	m.open = false
}

// Allocate reserves the next size bytes of the backing slice.
func (m memWriter) Allocate(size int) (Region, error) {
	m.storage.mu.Lock()
	defer m.storage.mu.Unlock()
	if !m.open {
		return nil, errFileIsClosed
	}
	off := len(m.data)
	m.data = append(m.data, make([]byte, size)...)
	return &memRegion{file: m.memFile, off: off, limit: off + size, cur: off}, nil
}

// memRegion writes into a fixed window of its file. The file's backing slice
// only ever grows, so the window is re-resolved under the storage mutex on
// every call.
type memRegion struct {
	file  *memFile
	off   int
	limit int
	cur   int
}

func (r *memRegion) Assign(p []byte) error {
	return r.writeAt(p, r.off)
}

func (r *memRegion) Append(p []byte) error {
	return r.writeAt(p, r.cur)
}

func (r *memRegion) writeAt(p []byte, at int) error {
	r.file.storage.mu.Lock()
	defer r.file.storage.mu.Unlock()
	if at+len(p) > r.limit {
		return fmt.Errorf("write of %d bytes overflows region [%d, %d)", len(p), r.off, r.limit)
	}
	copy(r.file.data[at:], p)
	r.cur = at + len(p)
	return nil
}

func NewInmemStorage() Storage {
	return &inmemStorage{
		files: make(map[fileId]*memFile),
	}
}

func (i *inmemStorage) Open(objType ObjectType, num int64) (Readable, FileDesc, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if file, ok := i.files[i.toFileId(objType, num)]; ok {
		// we only allow opening a file only once
		if file.open {
			return nil, FileDesc{}, errFileIsOpened
		}

		file.open = true
		return memReader{Reader: bytes.NewReader(file.data), file: file}, i.toFileDesc(objType, num), nil
	}

	return nil, FileDesc{}, errFileNotFound
}

func (i *inmemStorage) Create(objType ObjectType, num int64, preallocateBytes int64) (Writable, FileDesc, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	fid := i.toFileId(objType, num)
	if _, ok := i.files[fid]; ok {
		return nil, FileDesc{}, errFileExists
	}

	prealloc := max(int(preallocateBytes), 0)
	i.files[fid] = &memFile{
		data:    make([]byte, 0, prealloc),
		open:    true,
		storage: i,
	}

	return memWriter{memFile: i.files[fid]}, i.toFileDesc(objType, num), nil
}

func (i *inmemStorage) LookUp(objType ObjectType, num int64) (FileDesc, error) {
	if _, ok := i.files[i.toFileId(objType, num)]; !ok {
		return FileDesc{}, errFileNotFound
	}
	return i.toFileDesc(objType, num), nil
}

func (i *inmemStorage) Remove(objType ObjectType, num int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	fid := i.toFileId(objType, num)
	if _, ok := i.files[fid]; !ok {
		return errFileNotFound
	}

	delete(i.files, fid)

	return nil
}

func (i *inmemStorage) Close() error {
	return nil
}

func (i *inmemStorage) toFileId(objType ObjectType, num int64) fileId {
	return fileId(num<<4 | int64(objType))
}

func (i *inmemStorage) toFileDesc(objType ObjectType, num int64) FileDesc {
	return FileDesc{Num: num, Type: objType, Loc: InMemory}
}

var (
	_ Storage        = (*inmemStorage)(nil)
	_ RegionWritable = memWriter{}
)
