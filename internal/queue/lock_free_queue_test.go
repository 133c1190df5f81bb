package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockFreeQueue(t *testing.T) {
	t.Run("Empty Queue", func(t *testing.T) {
		q := NewLockFreeQueue[*telegramItem]()

		assert.True(t, q.IsEmpty())
		assert.Equal(t, 0, q.Length())

		_, ok := q.Dequeue()
		assert.False(t, ok)
		_, ok = q.Peek()
		assert.False(t, ok)
	})

	t.Run("Enqueue and Dequeue", func(t *testing.T) {
		q := NewLockFreeQueue[*telegramItem]()

		item1 := &telegramItem{0x08}
		item2 := &telegramItem{0x15}
		assert.True(t, q.Enqueue(item1))
		assert.True(t, q.Enqueue(item2))
		assert.Equal(t, 2, q.Length())

		head, ok := q.Peek()
		require.True(t, ok)
		assert.Same(t, item1, head)

		got, ok := q.Dequeue()
		require.True(t, ok)
		assert.Same(t, item1, got)

		got, ok = q.Dequeue()
		require.True(t, ok)
		assert.Same(t, item2, got)

		assert.True(t, q.IsEmpty())
	})

	t.Run("Reset", func(t *testing.T) {
		q := NewLockFreeQueue[int]()
		q.Enqueue(1)
		q.Enqueue(2)
		q.Reset()

		assert.True(t, q.IsEmpty())
		_, ok := q.Dequeue()
		assert.False(t, ok)
	})
}

func TestLockFreeQueue_Concurrent(t *testing.T) {
	const (
		producers   = 8
		perProducer = 1000
	)

	q := NewLockFreeQueue[int]()

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				q.Enqueue(p*perProducer + i)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, producers*perProducer, q.Length())

	seen := make(map[int]bool, producers*perProducer)
	var mu sync.Mutex
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := q.Dequeue()
				if !ok {
					return
				}
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, producers*perProducer)
	assert.True(t, q.IsEmpty())
}
