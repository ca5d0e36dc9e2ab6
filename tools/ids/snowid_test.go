package ids

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeneratorUniqueUnderConcurrency(t *testing.T) {
	g := NewGenerator(7)
	const workers, per = 8, 2000

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*per)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, per)
			for j := 0; j < per; j++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*per)
}

func TestGeneratorEmbedsNode(t *testing.T) {
	id := NewGenerator(513).Next()
	assert.Equal(t, int64(513), (id>>12)&0x3FF)

	id = NewGenerator(5000).Next()
	assert.Equal(t, int64(1), (id>>12)&0x3FF)
}

func TestGenerateStringMonotonic(t *testing.T) {
	SetNodeID(3)
	a, b := Generate(), Generate()
	assert.Less(t, a, b)
	assert.NotEmpty(t, GenerateString())
}
