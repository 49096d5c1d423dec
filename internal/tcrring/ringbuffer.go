package tcrring

import (
	"errors"
	"sync"
)

// RingBuffer is a fixed-capacity collection of recent items. Storage grows
// lazily up to the capacity, so a buffer that only ever sees a few items
// stays small. That matters here because buffers are created per caller and
// callers are unbounded.
type RingBuffer[T any] struct {
	mtx sync.Mutex
	max int // capacity, fixed at construction
	buf []T // grows up to max, then wraps
	cur int // index for next write, walk backwards to read
}

// NewRingBuffer returns an empty ring buffer of items with the given
// capacity.
func NewRingBuffer[T any](max int) *RingBuffer[T] {
	if max <= 0 {
		max = 1
	}
	return &RingBuffer[T]{
		max: max,
	}
}

// Add the value to the ring buffer. If the ring buffer was full and an item
// was overwritten by this add, return that item and true, otherwise return a
// zero value item and false.
func (rb *RingBuffer[T]) Add(val T) (dropped T, ok bool) {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	// Grow until we hit capacity, then overwrite at the cursor.
	if len(rb.buf) < rb.max {
		rb.buf = append(rb.buf, val)
		rb.cur = len(rb.buf) % rb.max
		var zero T
		return zero, false
	}

	dropped, ok = rb.buf[rb.cur], true
	rb.buf[rb.cur] = val

	rb.cur += 1
	if rb.cur >= rb.max {
		rb.cur -= rb.max
	}

	return dropped, ok
}

// Walk calls the given function for each value in the ring buffer, starting
// with the most recent value, and ending with the oldest value. Walk takes
// an exclusive lock on the ring buffer, which blocks other calls like Add.
func (rb *RingBuffer[T]) Walk(fn func(T) error) error {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	for i := 0; i < len(rb.buf); i++ {
		// Reads go backwards from one before the write cursor.
		cur := rb.cur - 1 - i

		// Wrap around when necessary.
		if cur < 0 {
			cur += len(rb.buf)
		}

		if err := fn(rb.buf[cur]); err != nil {
			return err
		}
	}

	return nil
}

// Recent returns up to n values, most recent first.
func (rb *RingBuffer[T]) Recent(n int) []T {
	if n <= 0 {
		return nil
	}

	res := make([]T, 0, n)
	rb.Walk(func(val T) error {
		if len(res) >= n {
			return errWalkDone
		}
		res = append(res, val)
		return nil
	})

	return res
}

// Stats returns the newest and oldest values in the ring buffer, as well as
// the total number of values stored in the ring buffer.
func (rb *RingBuffer[T]) Stats() (newest, oldest T, count int) {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	// The cursor math assumes a non-empty buffer.
	if len(rb.buf) == 0 {
		var zero T
		return zero, zero, 0
	}

	// The read head is the value just before the write cursor.
	headidx := rb.cur - 1
	if headidx < 0 {
		headidx += len(rb.buf)
	}

	// The read tail is len-1 values back from the read head. If the buffer
	// is full, this is the write cursor.
	tailidx := headidx - len(rb.buf) + 1
	if tailidx < 0 {
		tailidx += len(rb.buf)
	}

	return rb.buf[headidx], rb.buf[tailidx], len(rb.buf)
}

var errWalkDone = errors.New("walk done")

//
//
//

// RingBuffers collects individual ring buffers by string key.
type RingBuffers[T any] struct {
	mtx  sync.Mutex
	max  int
	bufs map[string]*RingBuffer[T]
}

// NewRingBuffers returns an empty set of ring buffers, each of which will
// have a maximum capacity of the given max.
func NewRingBuffers[T any](max int) *RingBuffers[T] {
	return &RingBuffers[T]{
		max:  max,
		bufs: map[string]*RingBuffer[T]{},
	}
}

// GetOrCreate returns the ring buffer corresponding to the given key. Once a
// ring buffer is created in this way, it will always exist.
func (rbs *RingBuffers[T]) GetOrCreate(key string) *RingBuffer[T] {
	rbs.mtx.Lock()
	defer rbs.mtx.Unlock()

	rb, ok := rbs.bufs[key]
	if !ok {
		rb = NewRingBuffer[T](rbs.max)
		rbs.bufs[key] = rb
	}

	return rb
}

// Get returns the ring buffer for the key, if it exists.
func (rbs *RingBuffers[T]) Get(key string) (*RingBuffer[T], bool) {
	rbs.mtx.Lock()
	defer rbs.mtx.Unlock()

	rb, ok := rbs.bufs[key]
	return rb, ok
}

// Keys returns the keys of every ring buffer in the set, unordered.
func (rbs *RingBuffers[T]) Keys() []string {
	rbs.mtx.Lock()
	defer rbs.mtx.Unlock()

	keys := make([]string, 0, len(rbs.bufs))
	for key := range rbs.bufs {
		keys = append(keys, key)
	}

	return keys
}

// GetAll returns all of the ring buffers in the set, grouped by key.
func (rbs *RingBuffers[T]) GetAll() map[string]*RingBuffer[T] {
	rbs.mtx.Lock()
	defer rbs.mtx.Unlock()

	all := make(map[string]*RingBuffer[T], len(rbs.bufs))
	for key, rb := range rbs.bufs {
		all[key] = rb
	}

	return all
}
