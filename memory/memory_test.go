package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_LastWriteWins(t *testing.T) {
	s := New()
	s.Set("favorite_color", "red")
	s.Set("favorite_color", "blue")

	v, ok := s.Get("favorite_color")
	assert.True(t, ok)
	assert.Equal(t, "blue", v)
	assert.Equal(t, map[string]string{"favorite_color": "blue"}, s.All())
}

func TestStore_AllIsSnapshot(t *testing.T) {
	s := New()
	s.Set("a", "1")

	snap := s.All()
	snap["a"] = "changed"
	snap["b"] = "2"

	v, _ := s.Get("a")
	assert.Equal(t, "1", v)
	assert.Equal(t, 1, s.Len())
}

func TestStore_Reset(t *testing.T) {
	s := New()
	s.Set("a", "1")
	s.Reset()

	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.All())
	_, ok := s.Get("a")
	assert.False(t, ok)
}

func TestStore_Concurrent(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Set("k", "v")
			_ = s.All()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, s.Len())
}
