package cache

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/intent-router/internal/domain"
)

func TestMemoryPutGet(t *testing.T) {
	m := NewMemory(64, 0)
	res := domain.ClassificationResult{Label: "greeting", Confidence: 0.9, Backend: "rules"}
	m.Put("k1", res)

	got, ok := m.Get("k1")
	require.True(t, ok)
	assert.Equal(t, res, got)

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestMemoryReplaceOnUpdate(t *testing.T) {
	m := NewMemory(64, 0)
	m.Put("k", domain.ClassificationResult{Label: "old", Confidence: 0.5})
	m.Put("k", domain.ClassificationResult{Label: "new", Confidence: 0.8})

	got, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got.Label)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory(64, 20*time.Millisecond)
	m.Put("k", domain.ClassificationResult{Label: "greeting"})

	_, ok := m.Get("k")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = m.Get("k")
	assert.False(t, ok, "expired entry must not be served")
}

func TestMemoryBoundedSize(t *testing.T) {
	m := NewMemory(32, 0)
	for i := 0; i < 500; i++ {
		m.Put(KeyFor("query number "+strconv.Itoa(i)), domain.ClassificationResult{Label: "x"})
	}
	assert.LessOrEqual(t, m.Len(), 32)
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory(64, 0)
	m.Put("k", domain.ClassificationResult{Label: "greeting"})
	m.Delete("k")
	_, ok := m.Get("k")
	assert.False(t, ok)
	m.Delete("k") // no-op on absent key
}

func TestKeyForNormalizes(t *testing.T) {
	assert.Equal(t, KeyFor("Hello   World"), KeyFor("hello world"))
	assert.NotEqual(t, KeyFor("hello world"), KeyFor("goodbye world"))
}
