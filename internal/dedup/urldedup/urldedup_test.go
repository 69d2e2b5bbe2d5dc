package urldedup_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deepharvest/crawler/internal/dedup/urldedup"
)

func TestBloomFilter_MightContainFalseBeforeAdd(t *testing.T) {
	b := urldedup.NewBloomFilter(1<<16, 7)
	assert.False(t, b.MightContain("https://example.com/a"))
}

func TestBloomFilter_MightContainTrueAfterAdd(t *testing.T) {
	b := urldedup.NewBloomFilter(1<<16, 7)
	b.Add("https://example.com/a")
	assert.True(t, b.MightContain("https://example.com/a"))
}

// TestBloomFilter_LowFalsePositiveRateAtDefaultSize covers the filter's
// accuracy at its default size (1<<20 slots, what NewBloomFilter uses
// when size is 0) with k=7 and 10,000 keys: the false-positive rate
// over never-added keys stays low.
func TestBloomFilter_LowFalsePositiveRateAtDefaultSize(t *testing.T) {
	b := urldedup.NewBloomFilter(1<<20, 7)
	for i := 0; i < 10_000; i++ {
		b.Add(fmt.Sprintf("https://example.com/page/%d", i))
	}

	falsePositives := 0
	const probes = 5000
	for i := 0; i < probes; i++ {
		if b.MightContain(fmt.Sprintf("https://example.com/never-added/%d", i)) {
			falsePositives++
		}
	}

	rate := float64(falsePositives) / float64(probes)
	assert.Less(t, rate, 0.05, "false-positive rate should stay well under 5%% at this load factor")
}

func TestExactSet_AddReturnsTrueOnlyOnce(t *testing.T) {
	e := urldedup.NewExactSet()
	assert.True(t, e.Add("https://example.com/a"))
	assert.False(t, e.Add("https://example.com/a"))
	assert.Equal(t, 1, e.Len())
}

func TestExactSet_Contains(t *testing.T) {
	e := urldedup.NewExactSet()
	assert.False(t, e.Contains("https://example.com/a"))
	e.Add("https://example.com/a")
	assert.True(t, e.Contains("https://example.com/a"))
}

func TestChecker_CheckAndAddNewKeyIsNew(t *testing.T) {
	c := urldedup.NewChecker(urldedup.NewBloomFilter(1<<16, 7), urldedup.NewExactSet())
	assert.True(t, c.CheckAndAdd("https://example.com/a"))
}

func TestChecker_CheckAndAddDuplicateKeyIsNotNew(t *testing.T) {
	c := urldedup.NewChecker(urldedup.NewBloomFilter(1<<16, 7), urldedup.NewExactSet())
	assert.True(t, c.CheckAndAdd("https://example.com/a"))
	assert.False(t, c.CheckAndAdd("https://example.com/a"))
}

func TestChecker_DistinctKeysAreBothNew(t *testing.T) {
	c := urldedup.NewChecker(urldedup.NewBloomFilter(1<<16, 7), urldedup.NewExactSet())
	assert.True(t, c.CheckAndAdd("https://example.com/a"))
	assert.True(t, c.CheckAndAdd("https://example.com/b"))
}
