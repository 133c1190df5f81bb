// Package queue provides FIFO queues used to hand telegrams between the bus
// runtime and the protocol driver.
package queue

// Queue defines the interface of a FIFO queue.
type Queue[T any] interface {
	// Enqueue adds an item to the tail of the queue.
	// It returns false if the queue is bounded and full.
	Enqueue(item T) bool
	// Dequeue removes and returns the item at the head of the queue.
	// It returns false if the queue is empty.
	Dequeue() (T, bool)
	// Peek returns the item at the head of the queue without removing it.
	// It returns false if the queue is empty.
	Peek() (T, bool)
	// Reset to an empty queue.
	Reset()
	// IsEmpty returns true if the queue is empty, false otherwise.
	IsEmpty() bool
	// Length returns the number of items in the queue.
	Length() int
}
