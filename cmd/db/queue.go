package db

import (
	"iter"
	"strings"
	"unsafe"
)

type qNode struct {
	value string
	next  *qNode
}

// Queue is a singly linked chain of strings with O(1) insertion at both
// ends and O(1) removal at the head. The zero value is not usable, create
// one with NewQueue or NewQueueWith.
//
// A nil *Queue is a valid receiver for every method: mutations fail or do
// nothing and Size reports 0.
//
// Queue does no locking of its own.
type Queue struct {
	length int
	head   *qNode
	tail   *qNode // not owned, always the node whose next is nil

	alloc Allocator
}

var (
	queueSize = int(unsafe.Sizeof(Queue{}))
	nodeSize  = int(unsafe.Sizeof(qNode{}))
)

// valueSize is the cost of holding s, terminator included.
func valueSize(s string) int {
	return len(s) + 1
}

func NewQueue() *Queue {
	return NewQueueWith(defaultHeap)
}

// NewQueueWith returns an empty queue whose nodes are charged to a, or nil
// if a refuses the queue itself.
func NewQueueWith(a Allocator) *Queue {
	if !a.Reserve(queueSize) {
		return nil
	}
	return &Queue{alloc: a}
}

// Free releases every node and then the queue. The chain is walked
// iteratively so arbitrarily long queues are fine. After Free the queue
// is empty and must not be used again.
func (q *Queue) Free() {
	if q == nil || q.alloc == nil {
		return
	}

	for q.head != nil {
		node := q.head
		q.head = node.next
		q.release(node)
	}
	q.tail = nil
	q.length = 0

	q.alloc.Release(queueSize)
	q.alloc = nil
}

func (q *Queue) newNode(s string) *qNode {
	if !q.alloc.Reserve(nodeSize) {
		return nil
	}
	if !q.alloc.Reserve(valueSize(s)) {
		q.alloc.Release(nodeSize)
		return nil
	}
	return &qNode{value: strings.Clone(s)}
}

func (q *Queue) release(node *qNode) {
	q.alloc.Release(valueSize(node.value))
	q.alloc.Release(nodeSize)
	node.next = nil
}

// InsertHead stores a copy of s in front of the queue.
func (q *Queue) InsertHead(s string) bool {
	if q == nil || q.alloc == nil {
		return false
	}

	node := q.newNode(s)
	if node == nil {
		return false
	}

	node.next = q.head
	q.head = node
	if q.length == 0 {
		q.tail = node
	}
	q.length++
	return true
}

// InsertTail stores a copy of s at the end of the queue.
func (q *Queue) InsertTail(s string) bool {
	if q == nil || q.alloc == nil {
		return false
	}

	node := q.newNode(s)
	if node == nil {
		return false
	}

	if q.length == 0 {
		q.head = node
	} else {
		q.tail.next = node
	}
	q.tail = node
	q.length++
	return true
}

// RemoveHead detaches the first element. If sp is not empty, up to
// len(sp)-1 bytes of the value are copied into it followed by a 0 byte;
// longer values are truncated. n is the number of value bytes copied.
func (q *Queue) RemoveHead(sp []byte) (n int, ok bool) {
	if q == nil || q.head == nil || q.length == 0 {
		return 0, false
	}

	node := q.head
	if len(sp) > 0 {
		n = copy(sp[:len(sp)-1], node.value)
		sp[n] = 0
	}

	q.head = node.next
	if node == q.tail {
		q.tail = nil
	}
	q.length--
	q.release(node)
	return n, true
}

// Peek returns the first element without removing it.
func (q *Queue) Peek() (string, bool) {
	if q == nil || q.head == nil {
		return "", false
	}
	return q.head.value, true
}

func (q *Queue) Size() int {
	if q == nil || q.head == nil {
		return 0
	}
	return q.length
}

// All walks the queue front to back. The queue must not be modified while
// iterating.
func (q *Queue) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		if q == nil {
			return
		}
		for node := q.head; node != nil; node = node.next {
			if !yield(node.value) {
				return
			}
		}
	}
}

func (q *Queue) Snapshot() []string {
	out := make([]string, 0, q.Size())
	for v := range q.All() {
		out = append(out, v)
	}
	return out
}

// Reverse relinks the nodes in the opposite order. Nothing is allocated.
func (q *Queue) Reverse() {
	if q == nil || q.length < 2 {
		return
	}

	var prev, next *qNode
	curr := q.head
	for curr != nil {
		next = curr.next
		curr.next = prev
		prev = curr
		curr = next
	}
	q.tail = q.head
	q.head = prev
}

// Sort orders the queue ascending by byte-wise comparison. Equal values
// may change their relative order.
func (q *Queue) Sort() {
	if q == nil || q.length < 2 {
		return
	}

	q.head = mergeSort(q.head)
	for q.tail.next != nil {
		q.tail = q.tail.next
	}
}

func mergeSort(head *qNode) *qNode {
	if head == nil || head.next == nil {
		return head
	}

	// slow stops on the last node of the first half
	slow, fast := head, head.next
	for fast != nil && fast.next != nil {
		slow = slow.next
		fast = fast.next.next
	}
	right := slow.next
	slow.next = nil

	return merge(mergeSort(head), mergeSort(right))
}

func merge(left, right *qNode) *qNode {
	var head *qNode
	link := &head
	for left != nil && right != nil {
		if left.value < right.value {
			*link = left
			left = left.next
		} else {
			*link = right
			right = right.next
		}
		link = &(*link).next
	}

	if left != nil {
		*link = left
	} else {
		*link = right
	}
	return head
}
