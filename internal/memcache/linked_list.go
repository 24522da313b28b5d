package memcache

// listNode represents a node in the doubly linked list.
type listNode[V any] struct {
	next  *listNode[V]
	prev  *listNode[V]
	Value V
}

// linkedList is a minimal doubly linked list; the front holds the most recently used entry.
type linkedList[V any] struct {
	head *listNode[V]
	tail *listNode[V]
	size int
}

// Len returns the number of elements in the list.
func (l *linkedList[V]) Len() int {
	return l.size
}

// Front returns the first node of the list or nil if the list is empty.
func (l *linkedList[V]) Front() *listNode[V] {
	return l.head
}

// Back returns the last node of the list or nil if the list is empty.
func (l *linkedList[V]) Back() *listNode[V] {
	return l.tail
}

// Remove unlinks a node from the list.
func (l *linkedList[V]) Remove(n *listNode[V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else { // Node is the head.
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else { // Node is the tail.
		l.tail = n.prev
	}
	n.next = nil
	n.prev = nil
	l.size--
}

// PushFront adds a new value to the front of the list.
func (l *linkedList[V]) PushFront(v V) *listNode[V] {
	n := &listNode[V]{Value: v}
	l.pushNodeFront(n)
	return n
}

// MoveToFront marks an existing node as the most recently used one.
func (l *linkedList[V]) MoveToFront(n *listNode[V]) {
	if l.head == n {
		return
	}
	l.Remove(n)
	l.pushNodeFront(n)
}

// Clear drops every node.
func (l *linkedList[V]) Clear() {
	l.head = nil
	l.tail = nil
	l.size = 0
}

func (l *linkedList[V]) pushNodeFront(n *listNode[V]) {
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	} else { // List was empty.
		l.tail = n
	}
	l.head = n
	l.size++
}
