package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestMemoryStartsEmpty(t *testing.T) {
	value, err := NewMemory().Get(context.Background())
	assert.Equal(t, err, nil)
	assert.Equal(t, value, "")
}

func TestMemorySetReplaces(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for _, value := range []string{"foo", "x=1\ny=2", "x=1\ny=2", ""} {
		assert.Equal(t, m.Set(ctx, value), nil)
		got, err := m.Get(ctx)
		assert.Equal(t, err, nil)
		assert.Equal(t, got, value)
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Set(ctx, fmt.Sprintf("v%d", i))
			_, _ = m.Get(ctx)
		}(i)
	}
	wg.Wait()

	got, _ := m.Get(ctx)
	if len(got) < 2 || got[0] != 'v' {
		t.Fatalf("expected one of the written values, got %q", got)
	}
}
