package row_block

import (
	"testing"

	"github.com/basho/go-sstable/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memReadable struct {
	data []byte
}

func (m *memReadable) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, assert.AnError
	}
	return copy(p, m.data[off:]), nil
}

func (m *memReadable) Size() uint64 {
	return uint64(len(m.data))
}

func (m *memReadable) Close() error {
	return nil
}

func TestFooter_Serialisation(t *testing.T) {
	f := &footer{
		metaIndexBH: common.BlockHandle{Offset: 1234, Length: 5678},
		indexBH:     common.BlockHandle{Offset: 9999, Length: 1},
	}

	buf := f.Serialise()
	require.Len(t, buf, common.TableFooterLen)
	assert.Equal(t, common.MagicNumber, string(buf[len(buf)-common.MagicNumberLen:]))

	got, err := decodeFooter(buf)
	require.NoError(t, err)
	assert.Equal(t, f.metaIndexBH, got.metaIndexBH)
	assert.Equal(t, f.indexBH, got.indexBH)
}

func TestReadFooter(t *testing.T) {
	valid := (&footer{
		metaIndexBH: common.BlockHandle{Offset: 10, Length: 20},
		indexBH:     common.BlockHandle{Offset: 35, Length: 40},
	}).Serialise()

	type param struct {
		name    string
		data    []byte
		wantErr bool
	}

	corrupted := append([]byte{}, valid...)
	copy(corrupted[len(corrupted)-common.MagicNumberLen:], "BADMAGIC")

	tests := []param{
		{
			name: "valid footer at the end of a larger file",
			data: append(make([]byte, 100), valid...),
		},
		{
			name:    "bad magic",
			data:    corrupted,
			wantErr: true,
		},
		{
			name:    "file too small",
			data:    valid[:20],
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := readFooter(&memReadable{data: tc.data})
			if tc.wantErr {
				assert.Error(t, err)
				assert.ErrorIs(t, err, common.ErrCorruption)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, common.BlockHandle{Offset: 10, Length: 20}, f.metaIndexBH)
			assert.Equal(t, common.BlockHandle{Offset: 35, Length: 40}, f.indexBH)
		})
	}
}
