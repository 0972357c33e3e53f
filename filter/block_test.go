package filter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterBlock_SingleRange(t *testing.T) {
	policy := NewBloomPolicy()
	w := NewBlockWriter(policy)

	w.AddKey([]byte("alpha"))
	w.AddKey([]byte("beta"))
	w.StartBlock(100)
	data := w.Finish()

	r, err := NewBlockReader(policy, data)
	require.NoError(t, err)

	assert.True(t, r.MayContain(0, []byte("alpha")))
	assert.True(t, r.MayContain(0, []byte("beta")))
	assert.False(t, r.MayContain(0, []byte("gamma")))
}

func TestFilterBlock_ManyRanges(t *testing.T) {
	policy := NewBloomPolicy()
	w := NewBlockWriter(policy)

	// lay out 20 synthetic blocks of 1000 bytes each; filter ranges are 2048
	// bytes wide, so keys from two adjacent blocks share a datum
	type blockKeys struct {
		offset uint64
		keys   [][]byte
	}
	var blocks []blockKeys
	offset := uint64(0)
	for b := 0; b < 20; b++ {
		var keys [][]byte
		for i := 0; i < 10; i++ {
			keys = append(keys, []byte(fmt.Sprintf("block%02dkey%02d", b, i)))
		}
		blocks = append(blocks, blockKeys{offset: offset, keys: keys})

		var concat []byte
		var lengths []int
		for _, k := range keys {
			concat = append(concat, k...)
			lengths = append(lengths, len(k))
		}
		w.AddKeys(concat, lengths)
		offset += 1000
		w.StartBlock(offset)
	}

	r, err := NewBlockReader(policy, w.Finish())
	require.NoError(t, err)

	falsePositives := 0
	for _, b := range blocks {
		for _, k := range b.keys {
			assert.True(t, r.MayContain(b.offset, k), "key %s missing for block at %d", k, b.offset)
		}
		if r.MayContain(b.offset, []byte(fmt.Sprintf("absent-%d", b.offset))) {
			falsePositives++
		}
	}
	// false positives are allowed but must stay rare
	assert.Less(t, falsePositives, 5)
}

func TestFilterBlock_EmptyWriter(t *testing.T) {
	policy := NewBloomPolicy()
	w := NewBlockWriter(policy)
	data := w.Finish()

	r, err := NewBlockReader(policy, data)
	require.NoError(t, err)
	// no filters recorded: everything is a potential match
	assert.True(t, r.MayContain(0, []byte("anything")))
}

func TestBlockReader_Corrupt(t *testing.T) {
	policy := NewBloomPolicy()

	_, err := NewBlockReader(policy, []byte{0x01, 0x02})
	assert.Error(t, err)

	// offset array pointing past the end of the block
	_, err = NewBlockReader(policy, []byte{0xff, 0xff, 0xff, 0x7f, 11})
	assert.Error(t, err)
}
