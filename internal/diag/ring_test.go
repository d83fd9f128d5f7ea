package diag

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing(t *testing.T) {
	t.Run("partial fill", func(t *testing.T) {
		r := NewRing[int](5)
		assert.Nil(t, r.ReadAll())
		r.WriteOne(1)
		r.WriteOne(2)
		r.WriteOne(3)
		assert.Equal(t, []int{1, 2, 3}, r.ReadAll())
		assert.Equal(t, []int{2, 3}, r.ReadLast(2))
		assert.Equal(t, []int{1, 2, 3}, r.ReadLast(10))
		assert.Nil(t, r.ReadLast(0))
	})

	t.Run("wraps and evicts oldest", func(t *testing.T) {
		r := NewRing[int](3)
		for i := 1; i <= 7; i++ {
			r.WriteOne(i)
		}
		assert.Equal(t, 3, r.Len())
		assert.Equal(t, int64(7), r.Total())
		assert.Equal(t, []int{5, 6, 7}, r.ReadAll())
		assert.Equal(t, []int{6, 7}, r.ReadLast(2))
	})

	t.Run("trace sizing keeps the most recent window", func(t *testing.T) {
		r := NewRing[int](500)
		for i := 0; i < 750; i++ {
			r.WriteOne(i)
		}
		recent := r.ReadLast(200)
		assert.Len(t, recent, 200)
		assert.Equal(t, 550, recent[0])
		assert.Equal(t, 749, recent[199])
	})

	t.Run("concurrent writers", func(t *testing.T) {
		r := NewRing[int](64)
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					r.WriteOne(i)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(800), r.Total())
		assert.Equal(t, 64, r.Len())
	})
}
