package crawler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrontierFIFOAndDedup(t *testing.T) {
	t.Parallel()

	f := NewFrontier(0)
	require.True(t, f.Enqueue("https://Example.com/a#top", 0))
	require.True(t, f.Enqueue("https://example.com/b", 1))
	assert.False(t, f.Enqueue("https://example.com/a", 2), "canonical duplicate")
	assert.False(t, f.Enqueue("https://example.com:443/a/", 2), "canonical duplicate")
	assert.False(t, f.Enqueue("javascript:void(0)", 0))
	assert.Equal(t, 2, f.Len())

	got, ok := f.Dequeue()
	require.True(t, ok)
	assert.Equal(t, CrawlTarget{URL: "https://example.com/a", Depth: 0}, got)
	assert.False(t, f.Enqueue("https://example.com/a", 1), "still tracked after dequeue")

	f.MarkVisited(got.URL)
	assert.True(t, f.Visited(got.URL))
	assert.False(t, f.Enqueue("https://example.com/a", 1))

	got, ok = f.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/b", got.URL)
	_, ok = f.Dequeue()
	assert.False(t, ok)
}

func TestFrontierQueueBound(t *testing.T) {
	t.Parallel()

	f := NewFrontier(3)
	for i := 0; i < 5; i++ {
		f.Enqueue(fmt.Sprintf("https://example.com/%d", i), 0)
	}
	assert.Equal(t, 3, f.Len())
	assert.False(t, f.Seen("https://example.com/4"), "overflow is dropped, not remembered")

	_, _ = f.Dequeue()
	assert.True(t, f.Enqueue("https://example.com/4", 0))
}

func TestFrontierCompactsConsumedPrefix(t *testing.T) {
	t.Parallel()

	f := NewFrontier(0)
	for i := 0; i < 500; i++ {
		require.True(t, f.Enqueue(fmt.Sprintf("https://example.com/p%d", i), 0))
	}
	for i := 0; i < 500; i++ {
		got, ok := f.Dequeue()
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("https://example.com/p%d", i), got.URL)
		if i%3 == 0 {
			f.Enqueue(fmt.Sprintf("https://example.com/q%d", i), 1)
		}
	}
	assert.Equal(t, 167, f.Len())
	got, ok := f.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/q0", got.URL)
}

func TestFrontierDomainQuota(t *testing.T) {
	t.Parallel()

	f := NewFrontier(0)
	assert.Zero(t, f.DomainCount("example.com"))
	f.RecordSuccess("example.com")
	f.RecordSuccess("example.com")
	assert.Equal(t, 2, f.DomainCount("example.com"))
	assert.Zero(t, f.DomainCount("other.org"))
}
