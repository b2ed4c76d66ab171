package db

import (
	"math/rand"
	"sync"

	"github.com/c2h5oh/datasize"
	"go.uber.org/atomic"
)

// Allocator accounts for the memory held by queues. Reserve reports false
// when n bytes cannot be handed out; callers must not touch the queue in
// that case. Every successful Reserve is paired with a Release of the same
// size.
type Allocator interface {
	Reserve(n int) bool
	Release(n int)
}

// Heap never refuses a reservation. It only keeps track of usage.
type Heap struct {
	used atomic.Int64
}

var defaultHeap = &Heap{}

func (h *Heap) Reserve(n int) bool {
	h.used.Add(int64(n))
	return true
}

func (h *Heap) Release(n int) {
	h.used.Sub(int64(n))
}

func (h *Heap) Used() int64 {
	return h.used.Load()
}

// Budget refuses reservations past a fixed limit. A zero limit means
// unbounded.
type Budget struct {
	limit    uint64
	used     atomic.Uint64
	failures atomic.Uint64
}

func NewBudget(limit datasize.ByteSize) *Budget {
	return &Budget{limit: limit.Bytes()}
}

func (b *Budget) Reserve(n int) bool {
	for {
		used := b.used.Load()
		next := used + uint64(n)
		if b.limit != 0 && next > b.limit {
			b.failures.Inc()
			return false
		}
		if b.used.CompareAndSwap(used, next) {
			return true
		}
	}
}

func (b *Budget) Release(n int) {
	b.used.Sub(uint64(n))
}

func (b *Budget) Used() int64 {
	return int64(b.used.Load())
}

func (b *Budget) Limit() datasize.ByteSize {
	return datasize.ByteSize(b.limit)
}

func (b *Budget) Failures() uint64 {
	return b.failures.Load()
}

// FaultInjector refuses a percentage of reservations before they reach
// the wrapped allocator.
type FaultInjector struct {
	Allocator

	percent int
	mtx     sync.Mutex
	rnd     *rand.Rand
}

func NewFaultInjector(a Allocator, percent int, seed int64) *FaultInjector {
	return &FaultInjector{
		Allocator: a,
		percent:   percent,
		rnd:       rand.New(rand.NewSource(seed)),
	}
}

func (f *FaultInjector) Reserve(n int) bool {
	if f.percent > 0 {
		f.mtx.Lock()
		fail := f.rnd.Intn(100) < f.percent
		f.mtx.Unlock()
		if fail {
			return false
		}
	}
	return f.Allocator.Reserve(n)
}

// Used reports the bytes held by the wrapped allocator, or 0 if it does
// not keep track.
func (f *FaultInjector) Used() int64 {
	if u, ok := f.Allocator.(interface{ Used() int64 }); ok {
		return u.Used()
	}
	return 0
}
