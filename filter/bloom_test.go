package filter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBloomPolicy_NoFalseNegatives(t *testing.T) {
	policy := NewBloomPolicy()

	var keys [][]byte
	for i := 0; i < 2000; i++ {
		keys = append(keys, []byte(fmt.Sprintf("key%05d", i)))
	}

	data := policy.CreateFilter(keys, nil)
	require.NotEmpty(t, data)

	for _, key := range keys {
		assert.True(t, policy.MayContain(data, key), "key %s missing from filter", key)
	}
}

func TestBloomPolicy_FalsePositiveRate(t *testing.T) {
	policy := NewBloomPolicy()

	var keys [][]byte
	for i := 0; i < 10_000; i++ {
		keys = append(keys, []byte(fmt.Sprintf("member%06d", i)))
	}
	data := policy.CreateFilter(keys, nil)

	falsePositives := 0
	probes := 10_000
	for i := 0; i < probes; i++ {
		if policy.MayContain(data, []byte(fmt.Sprintf("absent%06d", i))) {
			falsePositives++
		}
	}
	// ~1% expected at 10 bits per key; leave generous slack
	assert.Less(t, falsePositives, probes/20, "false positive rate too high")
}

func TestBloomPolicy_SmallSets(t *testing.T) {
	policy := NewBloomPolicy()

	data := policy.CreateFilter([][]byte{[]byte("a")}, nil)
	assert.True(t, policy.MayContain(data, []byte("a")))
	assert.False(t, policy.MayContain(nil, []byte("a")))
	assert.False(t, policy.MayContain([]byte{0x00}, []byte("a")))
}
