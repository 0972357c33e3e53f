package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockHandle_EncodeDecode(t *testing.T) {
	tests := []BlockHandle{
		{Offset: 0, Length: 0},
		{Offset: 1234, Length: 5678},
		{Offset: 1 << 40, Length: 1 << 30},
	}

	for _, h := range tests {
		buf := make([]byte, MaxBlockHandleLen)
		n := h.EncodeInto(buf)
		require.Positive(t, n)

		var got BlockHandle
		m, err := got.DecodeFrom(buf[:n])
		require.NoError(t, err)
		assert.Equal(t, n, m)
		assert.Equal(t, h, got)
	}
}

func TestBlockHandle_DecodeCorrupt(t *testing.T) {
	var h BlockHandle
	_, err := h.DecodeFrom(nil)
	assert.ErrorIs(t, err, ErrCorruption)

	// a lone continuation byte is not a valid varint
	_, err = h.DecodeFrom([]byte{0x80})
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestPhysicalBlock_Trailer(t *testing.T) {
	var pb PhysicalBlock
	pb.SetData([]byte("payload"))
	pb.SetTrailer(1, 0xdeadbeef)

	assert.Equal(t, len("payload")+TrailerLen, pb.LengthWithTrailer())
	trailer := pb.Trailer()
	assert.Equal(t, byte(1), trailer[0])

	pb.Reset()
	assert.Equal(t, TrailerLen, pb.LengthWithTrailer())
}
