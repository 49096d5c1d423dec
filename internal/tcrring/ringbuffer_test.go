package tcrring

import (
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func assertEqual[T any](t *testing.T, have, want T) {
	t.Helper()
	if !cmp.Equal(have, want) {
		t.Fatal(cmp.Diff(have, want))
	}
}

func TestRingBuffer(t *testing.T) {
	t.Parallel()

	rb := NewRingBuffer[int](3)

	top := func(k int) []int {
		res := []int{}
		rb.Walk(func(i int) error {
			if k >= 0 && len(res) >= k {
				return errors.New("done")
			}
			res = append(res, i)
			return nil
		})
		return res
	}

	assertEqual(t, top(-1), []int{})
	assertEqual(t, top(0), []int{})
	assertEqual(t, top(99), []int{})

	rb.Add(1)

	assertEqual(t, top(-1), []int{1})
	assertEqual(t, top(1), []int{1})
	assertEqual(t, top(2), []int{1})

	rb.Add(2)

	assertEqual(t, top(-1), []int{2, 1})
	assertEqual(t, top(1), []int{2})
	assertEqual(t, top(3), []int{2, 1})

	rb.Add(3)

	assertEqual(t, top(-1), []int{3, 2, 1})
	assertEqual(t, top(2), []int{3, 2})
	assertEqual(t, top(4), []int{3, 2, 1})

	removed, did := rb.Add(4)

	assertEqual(t, did, true)
	assertEqual(t, removed, 1)
	assertEqual(t, top(-1), []int{4, 3, 2})
	assertEqual(t, top(1), []int{4})

	rb.Add(5)
	rb.Add(6)

	assertEqual(t, top(-1), []int{6, 5, 4})
	assertEqual(t, rb.Recent(2), []int{6, 5})
	assertEqual(t, rb.Recent(9), []int{6, 5, 4})

	newest, oldest, count := rb.Stats()
	assertEqual(t, newest, 6)
	assertEqual(t, oldest, 4)
	assertEqual(t, count, 3)
}

func TestRingBufferLazyAlloc(t *testing.T) {
	t.Parallel()

	rb := NewRingBuffer[string](1024)

	newest, oldest, count := rb.Stats()
	assertEqual(t, newest, "")
	assertEqual(t, oldest, "")
	assertEqual(t, count, 0)

	rb.Add("a")
	rb.Add("b")

	newest, oldest, count = rb.Stats()
	assertEqual(t, newest, "b")
	assertEqual(t, oldest, "a")
	assertEqual(t, count, 2)
	assertEqual(t, rb.Recent(1024), []string{"b", "a"})
}

func TestRingBuffers(t *testing.T) {
	t.Parallel()

	rbs := NewRingBuffers[string](2)

	for i := 0; i < 5; i++ {
		key := strconv.Itoa(i % 2)
		rbs.GetOrCreate(key).Add(fmt.Sprintf("%s-%d", key, i))
	}

	assertEqual(t, len(rbs.Keys()), 2)

	rb, ok := rbs.Get("0")
	assertEqual(t, ok, true)
	assertEqual(t, rb.Recent(2), []string{"0-4", "0-2"})

	_, ok = rbs.Get("9")
	assertEqual(t, ok, false)

	all := rbs.GetAll()
	assertEqual(t, len(all), 2)
	assertEqual(t, all["1"].Recent(2), []string{"1-3", "1-1"})
}

func BenchmarkRingBuffer(b *testing.B) {
	for _, max := range []int{100, 1000, 10000, 100000} {
		b.Run(strconv.Itoa(max), func(b *testing.B) {
			rb := NewRingBuffer[int](max)
			for i := 0; i < max; i++ {
				rb.Add(i)
			}

			var captured int
			_ = captured

			walkOnlyFn := func(int) error {
				return nil
			}

			walkReadFn := func(i int) error {
				captured = i
				return nil
			}

			b.ReportAllocs()

			b.Run("Add", func(b *testing.B) {
				for i := 0; i < b.N; i++ {
					rb.Add(i)
				}
			})

			b.Run("Walk", func(b *testing.B) {
				for i := 0; i < b.N; i++ {
					rb.Walk(walkOnlyFn)
				}
			})

			b.Run("Walk+Read", func(b *testing.B) {
				for i := 0; i < b.N; i++ {
					rb.Walk(walkReadFn)
				}
			})

			b.Run("Recent", func(b *testing.B) {
				for i := 0; i < b.N; i++ {
					rb.Recent(10)
				}
			})
		})
	}
}
