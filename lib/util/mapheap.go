package util

import (
	"container/heap"
	"fmt"
)

// heapItem is an entry of the MapHeap: a key and the priority it is ordered by
type heapItem[K comparable] struct {
	Key      K
	Priority int64
	index    int // maintained by the heap package
}

func (i *heapItem[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", i.Key, i.Priority)
}

// MapHeap is a min-heap ordered by priority that also supports access by key.
//
//   - O(log n) for Push, Pop, AddItem and RemoveByKey
//   - O(1) for Peek, Contains and GetByKey
//
// The lock manager uses it with lease deadlines (unix nanos) as priorities, so the
// lease that expires first is always at the top.
//
// MapHeap is not thread-safe, callers have to synchronize access.
type MapHeap[K comparable] struct {
	items    []*heapItem[K]
	itemsMap map[K]*heapItem[K]
}

// NewMapHeap creates a new empty MapHeap.
// The heap is valid without a call to heap.Init.
func NewMapHeap[K comparable]() *MapHeap[K] {
	return &MapHeap[K]{
		items:    make([]*heapItem[K], 0),
		itemsMap: make(map[K]*heapItem[K]),
	}
}

// Len is part of heap.Interface
func (mh *MapHeap[K]) Len() int { return len(mh.items) }

// Less is part of heap.Interface
func (mh *MapHeap[K]) Less(i, j int) bool {
	return mh.items[i].Priority < mh.items[j].Priority
}

// Swap is part of heap.Interface
func (mh *MapHeap[K]) Swap(i, j int) {
	mh.items[i], mh.items[j] = mh.items[j], mh.items[i]
	mh.items[i].index = i
	mh.items[j].index = j
}

// Push is part of heap.Interface, use AddItem instead
func (mh *MapHeap[K]) Push(x any) {
	it := x.(*heapItem[K])
	it.index = len(mh.items)
	mh.items = append(mh.items, it)
	mh.itemsMap[it.Key] = it
}

// Pop is part of heap.Interface, use PopMin instead
func (mh *MapHeap[K]) Pop() any {
	old := mh.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	mh.items = old[:n-1]
	delete(mh.itemsMap, it.Key)
	return it
}

// AddItem inserts a key or updates the priority of an existing one
func (mh *MapHeap[K]) AddItem(key K, priority int64) {
	if it, exists := mh.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(mh, it.index)
		return
	}
	heap.Push(mh, &heapItem[K]{Key: key, Priority: priority})
}

// RemoveByKey removes a key and returns its priority
func (mh *MapHeap[K]) RemoveByKey(key K) (int64, bool) {
	it, exists := mh.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(mh, it.index)
	return it.Priority, true
}

// Peek returns the key with the lowest priority without removing it
func (mh *MapHeap[K]) Peek() (key K, priority int64, ok bool) {
	if len(mh.items) == 0 {
		return key, 0, false
	}
	return mh.items[0].Key, mh.items[0].Priority, true
}

// PopMin removes and returns the key with the lowest priority
func (mh *MapHeap[K]) PopMin() (key K, priority int64, ok bool) {
	if len(mh.items) == 0 {
		return key, 0, false
	}
	it := heap.Pop(mh).(*heapItem[K])
	return it.Key, it.Priority, true
}

// Contains checks if a key is in the heap
func (mh *MapHeap[K]) Contains(key K) bool {
	_, exists := mh.itemsMap[key]
	return exists
}

// GetByKey returns the priority of a key without removing it
func (mh *MapHeap[K]) GetByKey(key K) (int64, bool) {
	it, exists := mh.itemsMap[key]
	if !exists {
		return 0, false
	}
	return it.Priority, true
}
