package common

import (
	"encoding/binary"
	"fmt"
)

const TrailerLen = 5

// PhysicalBlock represents a block as it is stored physically on disk,
// including its trailer.
type PhysicalBlock struct {
	data []byte
	// trailer is the trailer at the end of a block, encoding the block type
	// (compression) and a masked checksum.
	trailer [TrailerLen]byte
}

func (p *PhysicalBlock) SetData(data []byte) {
	p.data = data
}

func (p *PhysicalBlock) Data() []byte {
	return p.data
}

// SetTrailer records the compression type byte and the masked checksum.
func (p *PhysicalBlock) SetTrailer(auxiliary byte, maskedChecksum uint32) {
	p.trailer[0] = auxiliary
	binary.LittleEndian.PutUint32(p.trailer[1:], maskedChecksum)
}

func (p *PhysicalBlock) Trailer() [TrailerLen]byte {
	return p.trailer
}

// LengthWithTrailer is the on-disk footprint of the block.
func (p *PhysicalBlock) LengthWithTrailer() int {
	return len(p.data) + TrailerLen
}

func (p *PhysicalBlock) Reset() {
	p.data = nil
	p.trailer = [TrailerLen]byte{}
}

// BlockHandle is the file offset and length of a block.
type BlockHandle struct {
	// Offset identifies the offset of the block within the file.
	Offset uint64
	// Length is the length of the block data (excludes the trailer).
	Length uint64
}

const MaxBlockHandleLen = 2 * binary.MaxVarintLen64

// EncodeInto writes the handle as two uvarints and returns the number of bytes
// written. Caller must ensure buf holds at least MaxBlockHandleLen bytes.
func (h *BlockHandle) EncodeInto(buf []byte) int {
	n := binary.PutUvarint(buf, h.Offset)
	n += binary.PutUvarint(buf[n:], h.Length)
	return n
}

func (h *BlockHandle) Encode() []byte {
	buf := make([]byte, MaxBlockHandleLen)
	n := h.EncodeInto(buf)
	return buf[:n]
}

// DecodeFrom parses two uvarints and returns the number of bytes consumed.
func (h *BlockHandle) DecodeFrom(buf []byte) (int, error) {
	offset, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad block handle offset", ErrCorruption)
	}
	length, m := binary.Uvarint(buf[n:])
	if m <= 0 {
		return 0, fmt.Errorf("%w: bad block handle length", ErrCorruption)
	}
	h.Offset = offset
	h.Length = length
	return n + m, nil
}
