package compression

import (
	"fmt"

	"github.com/basho/go-sstable/common"
	"github.com/golang/snappy"
)

type snappyCompressor struct{}

func (s *snappyCompressor) GetType() CompressionType {
	return SnappyCompression
}

func (s *snappyCompressor) Compress(dst, src []byte) []byte {
	dst = dst[:cap(dst):cap(dst)]
	return snappy.Encode(dst, src)
}

func (s *snappyCompressor) Decompress(buf, compressed []byte) error {
	res, err := snappy.Decode(buf, compressed)
	if err != nil {
		return fmt.Errorf("%w: snappy: %v", common.ErrCorruption, err)
	}
	if len(res) != len(buf) || (len(res) > 0 && &res[0] != &buf[0]) {
		return fmt.Errorf("%w: snappy: compressed data mismatch", common.ErrCorruption)
	}
	return nil
}

func (s *snappyCompressor) DecompressedLen(b []byte) (decompressedLen int, err error) {
	n, err := snappy.DecodedLen(b)
	if err != nil {
		return 0, fmt.Errorf("%w: snappy: %v", common.ErrCorruption, err)
	}
	return n, nil
}

var _ ICompression = (*snappyCompressor)(nil)
