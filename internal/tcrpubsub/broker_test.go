package tcrpubsub_test

import (
	"context"
	"runtime"
	"testing"

	"github.com/peterbourgon/tcr/internal/tcrpubsub"
)

func TestBrokerFanout(t *testing.T) {
	t.Parallel()

	broker := tcrpubsub.NewBroker[int]()

	// No subscribers: publish is a no-op.
	broker.Publish(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subscribe := func(allow func(int) bool, buf int) (chan int, chan tcrpubsub.Stats) {
		valc := make(chan int, buf)
		statc := make(chan tcrpubsub.Stats, 1)
		go func() {
			stats, _ := broker.Subscribe(ctx, allow, valc)
			statc <- stats
		}()
		for { // wait for the subscription to register
			if _, err := broker.Stats(valc); err == nil {
				break
			}
			runtime.Gosched()
		}
		return valc, statc
	}

	evens, evenStats := subscribe(func(i int) bool { return i%2 == 0 }, 10)
	all, allStats := subscribe(nil, 1)

	for i := 1; i <= 4; i++ {
		broker.Publish(i)
	}

	cancel()

	es := <-evenStats
	if want, have := uint64(2), es.Sends; want != have {
		t.Errorf("even sends: want %d, have %d", want, have)
	}
	if want, have := uint64(2), es.Skips; want != have {
		t.Errorf("even skips: want %d, have %d", want, have)
	}

	// The all subscriber has a buffer of one and nothing draining it, so
	// everything after the first send drops.
	as := <-allStats
	if want, have := uint64(1), as.Sends; want != have {
		t.Errorf("all sends: want %d, have %d", want, have)
	}
	if want, have := uint64(3), as.Drops; want != have {
		t.Errorf("all drops: want %d, have %d", want, have)
	}

	if want, have := 2, len(evens); want != have {
		t.Errorf("even buffered: want %d, have %d", want, have)
	}
	if want, have := 1, len(all); want != have {
		t.Errorf("all buffered: want %d, have %d", want, have)
	}
}

func TestBrokerDoubleSubscribe(t *testing.T) {
	t.Parallel()

	var (
		broker = tcrpubsub.NewBroker[string]()
		ch     = make(chan string)
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := broker.Subscribe(ctx, nil, ch)
		errc <- err
	}()

	for { // wait for the first subscription to register
		if _, err := broker.Stats(ch); err == nil {
			break
		}
		runtime.Gosched()
	}

	if _, err := broker.Subscribe(ctx, nil, ch); err == nil {
		t.Fatal("second subscribe: want error, have none")
	}

	cancel()

	if err := <-errc; err != context.Canceled {
		t.Fatalf("first subscribe: want context.Canceled, have %v", err)
	}
}

func BenchmarkBrokerPublish(b *testing.B) {
	ctx := context.Background()

	var (
		allowAll  = func(int) bool { return true }
		allowNone = func(int) bool { return false }
	)

	fn := func(name string, allows ...func(int) bool) {
		b.Run(name, func(b *testing.B) {
			var (
				ctx, cancel = context.WithCancel(ctx)
				broker      = tcrpubsub.NewBroker[int]()
			)
			for _, allow := range allows {
				valc := make(chan int, 100)
				defer func() { <-valc }()
				go func(allow func(int) bool) {
					broker.Subscribe(ctx, allow, valc)
					close(valc)
				}(allow)
				for { // wait for the subscription to register
					if _, err := broker.Stats(valc); err == nil {
						break
					}
					runtime.Gosched()
				}
			}

			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				broker.Publish(i)
			}

			cancel()
		})
	}

	fn("no subscribers")
	fn("1 skip subscriber", allowNone)
	fn("10 skip subscribers", allowNone, allowNone, allowNone, allowNone, allowNone, allowNone, allowNone, allowNone, allowNone, allowNone)
	fn("1 send subscriber", allowAll)
	fn("9 skip, 1 send", allowNone, allowNone, allowNone, allowNone, allowNone, allowNone, allowNone, allowNone, allowNone, allowAll)
}
