package queue

// ringQueue is a bounded queue backed by a fixed ring buffer.
//
// It is not goroutine-safe. Enqueue and Dequeue never allocate, which makes it
// suitable for the per-byte path of the protocol driver.
type ringQueue[T any] struct {
	items []T
	head  int
	size  int
}

var _ Queue[int] = (*ringQueue[int])(nil)

// NewRingQueue creates a bounded queue holding at most capacity items.
func NewRingQueue[T any](capacity int) Queue[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &ringQueue[T]{items: make([]T, capacity)}
}

// Enqueue adds an item to the tail of the queue.
func (q *ringQueue[T]) Enqueue(item T) bool {
	if q.size == len(q.items) {
		return false
	}
	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++

	return true
}

// Dequeue removes and returns the item at the head of the queue.
func (q *ringQueue[T]) Dequeue() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}

	item := q.items[q.head]
	q.items[q.head] = zero // release the reference
	q.head = (q.head + 1) % len(q.items)
	q.size--

	return item, true
}

// Peek returns the item at the head of the queue without removing it.
func (q *ringQueue[T]) Peek() (T, bool) {
	if q.size == 0 {
		var zero T
		return zero, false
	}

	return q.items[q.head], true
}

// Reset empties the queue and keeps its storage.
func (q *ringQueue[T]) Reset() {
	clear(q.items)
	q.head = 0
	q.size = 0
}

// IsEmpty returns true if the queue is empty, false otherwise.
func (q *ringQueue[T]) IsEmpty() bool {
	return q.size == 0
}

// Length returns the number of items in the queue.
func (q *ringQueue[T]) Length() int {
	return q.size
}
