package utils

import "container/heap"

// Orders two items. A negative result pops a before b.
type PriorityFunc[T any] func(a, b T) int

// Reports whether two items stand for the same entry.
type EqualityFunc[T any] func(a, b T) bool

// A priority queue. Not safe for concurrent use.
type PriorityQueue[T any] struct {
	heap   priorityHeap[T]
	equals EqualityFunc[T]
}

func NewPriorityQueue[T any](compare PriorityFunc[T], equals EqualityFunc[T]) *PriorityQueue[T] {
	return &PriorityQueue[T]{
		heap:   priorityHeap[T]{compare: compare},
		equals: equals,
	}
}

func (pq *PriorityQueue[T]) Push(item T) {
	heap.Push(&pq.heap, item)
}

// Pop the first item. ok is false if the queue is empty.
func (pq *PriorityQueue[T]) Pop() (item T, ok bool) {
	if pq.heap.Len() == 0 {
		return item, false
	}
	return heap.Pop(&pq.heap).(T), true
}

func (pq *PriorityQueue[T]) Len() int {
	return pq.heap.Len()
}

// Remove the item equal to item. Returns false if there is none.
func (pq *PriorityQueue[T]) Remove(item T) bool {
	i := pq.index(item)
	if i < 0 {
		return false
	}
	heap.Remove(&pq.heap, i)
	return true
}

func (pq *PriorityQueue[T]) Contains(item T) bool {
	return pq.index(item) >= 0
}

// Items in heap order, not pop order.
func (pq *PriorityQueue[T]) Items() []T {
	return append([]T(nil), pq.heap.items...)
}

// Remove all items and return them in heap order.
func (pq *PriorityQueue[T]) Clear() []T {
	items := pq.heap.items
	pq.heap.items = nil
	return items
}

func (pq *PriorityQueue[T]) index(item T) int {
	for i, x := range pq.heap.items {
		if pq.equals(x, item) {
			return i
		}
	}
	return -1
}

type priorityHeap[T any] struct {
	items   []T
	compare PriorityFunc[T]
}

func (h priorityHeap[T]) Len() int {
	return len(h.items)
}

func (h priorityHeap[T]) Less(i, j int) bool {
	return h.compare(h.items[i], h.items[j]) < 0
}

func (h priorityHeap[T]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *priorityHeap[T]) Push(x any) {
	h.items = append(h.items, x.(T))
}

func (h *priorityHeap[T]) Pop() any {
	n := len(h.items)
	x := h.items[n-1]
	var zero T
	h.items[n-1] = zero
	h.items = h.items[:n-1]
	return x
}
