package tcrtest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peterbourgon/tcr"
	"github.com/peterbourgon/tcr/tcrtest"
)

func TestProducerEventBudget(t *testing.T) {
	t.Parallel()

	var (
		ctx    = context.Background()
		p      = tcrtest.NewProducer()
		caller = tcrtest.NewCallerID()
		fd     = tcr.Descriptor{Module: "m", Function: "f"}
	)

	sub, err := p.Subscribe(ctx, tcr.PatternAll, tcr.SubscribeConfig{EventBudget: 3})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		p.EmitCall(caller, fd, i)
	}

	var got []tcr.RawEvent
	for raw := range sub.Events() { // channel closes at the budget
		got = append(got, raw)
	}

	if want, have := 3, len(got); want != have {
		t.Fatalf("delivered: want %d, have %d", want, have)
	}
}

func TestProducerTimeBudget(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		p   = tcrtest.NewProducer()
	)

	sub, err := p.Subscribe(ctx, tcr.PatternAll, tcr.SubscribeConfig{TimeBudget: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return // closed by the time budget
			}
		case <-deadline:
			t.Fatal("time budget never closed the stream")
		}
	}
}

func TestProducerPattern(t *testing.T) {
	t.Parallel()

	var (
		ctx    = context.Background()
		p      = tcrtest.NewProducer()
		caller = tcrtest.NewCallerID()
	)

	sub, err := p.Subscribe(ctx, "billing.charge", tcr.SubscribeConfig{})
	if err != nil {
		t.Fatal(err)
	}

	wild, err := p.Subscribe(ctx, "billing.*", tcr.SubscribeConfig{})
	if err != nil {
		t.Fatal(err)
	}

	p.EmitCall(caller, tcr.Descriptor{Module: "billing", Function: "charge"})
	p.EmitCall(caller, tcr.Descriptor{Module: "billing", Function: "refund"})
	p.EmitCall(caller, tcr.Descriptor{Module: "ledger", Function: "append"})
	p.EmitMeta("checkpoint") // control events always delivered
	p.Down()

	var exact, both int
	for range sub.Events() {
		exact++
	}
	for range wild.Events() {
		both++
	}

	if want, have := 2, exact; want != have { // charge + meta
		t.Fatalf("exact: want %d, have %d", want, have)
	}
	if want, have := 3, both; want != have { // charge + refund + meta
		t.Fatalf("wildcard: want %d, have %d", want, have)
	}
}

func TestProducerDown(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		p   = tcrtest.NewProducer()
	)

	sub, err := p.Subscribe(ctx, tcr.PatternAll, tcr.SubscribeConfig{})
	if err != nil {
		t.Fatal(err)
	}

	p.Down()

	if _, ok := <-sub.Events(); ok {
		t.Fatal("want closed channel after Down")
	}

	if _, err := p.Subscribe(ctx, tcr.PatternAll, tcr.SubscribeConfig{}); !errors.Is(err, tcrtest.ErrProducerDown) {
		t.Fatalf("want ErrProducerDown, have %v", err)
	}

	sub.Unsubscribe() // safe after Down
	sub.Unsubscribe() // and idempotent
}

func TestProducerSubscribeError(t *testing.T) {
	t.Parallel()

	var (
		ctx    = context.Background()
		p      = tcrtest.NewProducer()
		reject = errors.New("pattern rejected")
	)

	p.SetSubscribeError(reject)

	if _, err := p.Subscribe(ctx, "nope", tcr.SubscribeConfig{}); !errors.Is(err, reject) {
		t.Fatalf("want %v, have %v", reject, err)
	}

	p.SetSubscribeError(nil)

	if _, err := p.Subscribe(ctx, tcr.PatternAll, tcr.SubscribeConfig{}); err != nil {
		t.Fatalf("want no error, have %v", err)
	}

	if want, have := 1, p.Subscribers(); want != have {
		t.Fatalf("subscribers: want %d, have %d", want, have)
	}
}

func TestClock(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	c := &tcrtest.Clock{
		Offset: 100 * time.Microsecond,
		Now:    func() time.Time { return base },
	}

	have, err := c.RemoteNow(context.Background(), "remote-1")
	if err != nil {
		t.Fatal(err)
	}
	if want := base.Add(100 * time.Microsecond); !want.Equal(have) {
		t.Fatalf("want %v, have %v", want, have)
	}
	if want, have := 1, c.Calls(); want != have {
		t.Fatalf("calls: want %d, have %d", want, have)
	}

	boom := errors.New("boom")
	c.Err = boom
	if _, err := c.RemoteNow(context.Background(), "remote-1"); !errors.Is(err, boom) {
		t.Fatalf("want %v, have %v", boom, err)
	}

	slow := &tcrtest.Clock{Delay: time.Minute}
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	if _, err := slow.RemoteNow(ctx, "remote-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, have %v", err)
	}
}
