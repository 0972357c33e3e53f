package row_block

import (
	"bytes"
	"fmt"

	"github.com/basho/go-sstable/common"
	"github.com/basho/go-sstable/vfs"
)

// footer is the fixed-size tail of the table:
//
//	+------------------+--------------+---------+-----------+
//	| metaindex handle | index handle | padding | magic (8) |
//	+------------------+--------------+---------+-----------+
//
// The magic value identifies the table version.
type footer struct {
	metaIndexBH common.BlockHandle
	indexBH     common.BlockHandle
}

func (f *footer) Serialise() []byte {
	buf := make([]byte, common.TableFooterLen)
	n := f.metaIndexBH.EncodeInto(buf)
	f.indexBH.EncodeInto(buf[n:])
	copy(buf[common.TableFooterLen-common.MagicNumberLen:], common.MagicNumber)
	return buf
}

func decodeFooter(buf []byte) (*footer, error) {
	if len(buf) != common.TableFooterLen {
		return nil, fmt.Errorf("%w: footer is %d bytes, want %d", common.ErrCorruption, len(buf), common.TableFooterLen)
	}
	if !bytes.Equal(buf[common.TableFooterLen-common.MagicNumberLen:], []byte(common.MagicNumber)) {
		return nil, fmt.Errorf("%w: bad table magic number", common.ErrCorruption)
	}

	var f footer
	n, err := f.metaIndexBH.DecodeFrom(buf)
	if err != nil {
		return nil, err
	}
	if _, err := f.indexBH.DecodeFrom(buf[n:]); err != nil {
		return nil, err
	}
	return &f, nil
}

func readFooter(readable vfs.Readable) (*footer, error) {
	size := readable.Size()
	if size < common.TableFooterLen {
		return nil, fmt.Errorf("%w: table of %d bytes is too small to hold a footer", common.ErrCorruption, size)
	}
	buf := make([]byte, common.TableFooterLen)
	if _, err := readable.ReadAt(buf, int64(size)-common.TableFooterLen); err != nil {
		return nil, fmt.Errorf("%w: read footer: %v", common.ErrIO, err)
	}
	return decodeFooter(buf)
}
