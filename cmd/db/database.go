package db

import (
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
)

var (
	ErrWrongType   = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	ErrOutOfMemory = errors.New("OOM command not allowed when used memory > 'maxmemory'")
)

type Database struct {
	stores map[string]*DataStore
	alloc  Allocator
}

// NewDatabase returns an empty keyspace whose queues are charged to a. A
// nil allocator means the unbounded heap.
func NewDatabase(a Allocator) *Database {
	if a == nil {
		a = defaultHeap
	}
	return &Database{stores: make(map[string]*DataStore), alloc: a}
}

func (d *Database) FlushAll() {
	for _, store := range d.stores {
		store.free()
	}
	d.stores = make(map[string]*DataStore)
}

// compileKeyPattern compiles a KEYS pattern. Keys have no separators so
// * matches any run of bytes. Braces are literal and [^...] negates.
func compileKeyPattern(pattern string) (glob.Glob, error) {
	var sb strings.Builder
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '\\':
			sb.WriteByte(c)
			if i+1 < len(pattern) {
				i++
				sb.WriteByte(pattern[i])
			}
		case '{', '}':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case '[':
			sb.WriteByte(c)
			if i+1 < len(pattern) && pattern[i+1] == '^' {
				i++
				sb.WriteByte('!')
			}
		default:
			sb.WriteByte(c)
		}
	}

	g, err := glob.Compile(sb.String())
	if err != nil {
		return nil, errors.Wrapf(err, "invalid pattern %q", pattern)
	}
	return g, nil
}

// Keys returns the keys matching a glob pattern, sorted.
func (d *Database) Keys(pattern string) ([]string, error) {
	g, err := compileKeyPattern(pattern)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(d.stores))
	for k := range d.stores {
		if g.Match(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *Database) DbSize() int {
	return len(d.stores)
}

// MemoryUsed reports the bytes held by queues, or 0 when the allocator
// does not track usage.
func (d *Database) MemoryUsed() int64 {
	if u, ok := d.alloc.(interface{ Used() int64 }); ok {
		return u.Used()
	}
	return 0
}

func (d *Database) Type(key string) string {
	return d.stores[key].TypeName()
}

func (d *Database) Exists(keys ...string) int {
	n := 0
	for _, k := range keys {
		if _, found := d.stores[k]; found {
			n++
		}
	}
	return n
}

func (d *Database) Get(key string) (string, bool, error) {
	store, found := d.stores[key]
	if !found {
		return "", false, nil
	}

	value, ok := store.asValue()
	if !ok {
		return "", found, ErrWrongType
	}
	return value, found, nil
}

func (d *Database) Set(key string, value string) {
	if store, found := d.stores[key]; found {
		store.free()
	}
	d.stores[key] = d.createValue(value)
}

// Del removes the given keys and returns how many existed.
func (d *Database) Del(keys ...string) int {
	n := 0
	for _, k := range keys {
		store, found := d.stores[k]
		if !found {
			continue
		}
		store.free()
		delete(d.stores, k)
		n++
	}
	return n
}

// queue looks up the queue stored at key. With create set a missing key
// gets a fresh queue.
func (d *Database) queue(key string, create bool) (*Queue, error) {
	store, found := d.stores[key]
	if !found {
		if !create {
			return nil, nil
		}

		store = d.createQueue()
		if store == nil {
			return nil, ErrOutOfMemory
		}
		d.stores[key] = store
	}

	q, ok := store.asQueue()
	if !ok {
		return nil, ErrWrongType
	}
	return q, nil
}

func (d *Database) push(key string, values []string, insert func(*Queue, string) bool) (int, error) {
	q, err := d.queue(key, true)
	if err != nil {
		return 0, err
	}

	for _, v := range values {
		if !insert(q, v) {
			err = ErrOutOfMemory
			break
		}
	}

	if q.Size() == 0 {
		d.Del(key)
	}
	return q.Size(), err
}

// PushHead inserts values one by one at the head of the queue at key,
// creating it if needed. It stops at the first insert the allocator
// refuses; values inserted before that stay in the queue.
func (d *Database) PushHead(key string, values ...string) (int, error) {
	return d.push(key, values, (*Queue).InsertHead)
}

func (d *Database) PushTail(key string, values ...string) (int, error) {
	return d.push(key, values, (*Queue).InsertTail)
}

// PopHead removes the head of the queue at key, copying it through buf
// and so truncating it to len(buf)-1 bytes. The key is deleted once the
// queue is empty.
func (d *Database) PopHead(key string, buf []byte) (string, bool, error) {
	q, err := d.queue(key, false)
	if err != nil || q == nil {
		return "", false, err
	}

	n, ok := q.RemoveHead(buf)
	if q.Size() == 0 {
		d.Del(key)
	}
	if !ok {
		return "", false, nil
	}
	return string(buf[:n]), true, nil
}

func (d *Database) Len(key string) (int, error) {
	q, err := d.queue(key, false)
	if err != nil {
		return 0, err
	}
	return q.Size(), nil
}

func (d *Database) Reverse(key string) error {
	q, err := d.queue(key, false)
	if err != nil {
		return err
	}
	q.Reverse()
	return nil
}

func (d *Database) Sort(key string) error {
	q, err := d.queue(key, false)
	if err != nil {
		return err
	}
	q.Sort()
	return nil
}

// Range returns the elements between start and stop inclusive. Negative
// indexes count from the tail, -1 being the last element.
func (d *Database) Range(key string, start, stop int) ([]string, error) {
	q, err := d.queue(key, false)
	if err != nil {
		return nil, err
	}

	size := q.Size()
	if start < 0 {
		start = max(size+start, 0)
	}
	if stop < 0 {
		stop = size + stop
	}
	stop = min(stop, size-1)

	out := []string{}
	if start > stop {
		return out, nil
	}

	i := 0
	for v := range q.All() {
		if i > stop {
			break
		}
		if i >= start {
			out = append(out, v)
		}
		i++
	}
	return out, nil
}

func (d *Database) createValue(value string) *DataStore {
	return &DataStore{Kind: ObjValue, Value: value}
}

func (d *Database) createQueue() *DataStore {
	q := NewQueueWith(d.alloc)
	if q == nil {
		return nil
	}
	return &DataStore{Kind: ObjQueue, Queue: q}
}
