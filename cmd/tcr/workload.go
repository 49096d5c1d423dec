package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/peterbourgon/tcr"
	"github.com/peterbourgon/tcr/tcrtest"
	"gopkg.in/yaml.v3"
)

// workload specifies the synthetic traffic an agent produces. Each function
// entry drives one or more workers, each with its own caller token, issuing
// a call tree per tick at roughly the configured rate. Nested calls run
// inline within their parent, so per-caller event order is well formed by
// construction.
type workload struct {
	Seed      int64          `yaml:"seed"`
	Functions []workloadFunc `yaml:"functions"`
	Messaging workloadMsg    `yaml:"messaging"`
}

type workloadFunc struct {
	Name    string         `yaml:"name"`
	Rate    float64        `yaml:"rate"` // calls per second per worker
	Min     duration       `yaml:"min"`
	Max     duration       `yaml:"max"`
	Args    int            `yaml:"args"`
	Workers int            `yaml:"workers"`
	Calls   []workloadFunc `yaml:"calls"` // nested, rate and workers ignored
}

type workloadMsg struct {
	Name string  `yaml:"name"`
	Rate float64 `yaml:"rate"` // messages per second, 0 disables
}

// duration wraps time.Duration to parse YAML strings like "25ms".
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (w *workload) normalize() {
	if w.Seed == 0 {
		w.Seed = time.Now().UnixNano()
	}
	for i := range w.Functions {
		w.Functions[i].normalize()
	}
	if w.Messaging.Rate > 0 && w.Messaging.Name == "" {
		w.Messaging.Name = "bus.publish"
	}
	if w.Messaging.Rate > 100 {
		w.Messaging.Rate = 100
	}
}

func (fn *workloadFunc) normalize() {
	if fn.Rate <= 0 {
		fn.Rate = 1
	}
	if fn.Rate > 1000 {
		fn.Rate = 1000
	}
	if fn.Workers <= 0 {
		fn.Workers = 1
	}
	if fn.Min <= 0 {
		fn.Min = duration(time.Millisecond)
	}
	if fn.Max < fn.Min {
		fn.Max = fn.Min
	}
	for i := range fn.Calls {
		fn.Calls[i].normalize()
	}
}

func (w *workload) validate() error {
	if len(w.Functions) == 0 {
		return fmt.Errorf("at least one function is required")
	}
	for _, fn := range w.Functions {
		if err := fn.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (fn workloadFunc) validate() error {
	if fn.Name == "" {
		return fmt.Errorf("function name is required")
	}
	if d := tcr.ParseDescriptor(fn.Name); d.Module == "" || d.Function == "" {
		return fmt.Errorf("%s: want module.function", fn.Name)
	}
	for _, child := range fn.Calls {
		if err := child.validate(); err != nil {
			return err
		}
	}
	return nil
}

func loadWorkloadFile(path string) (workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return workload{}, fmt.Errorf("read workload: %w", err)
	}

	var w workload
	if err := yaml.Unmarshal(data, &w); err != nil {
		return workload{}, fmt.Errorf("parse workload: %w", err)
	}

	w.normalize()

	if err := w.validate(); err != nil {
		return workload{}, fmt.Errorf("invalid workload: %w", err)
	}

	return w, nil
}

// defaultWorkload is the embedded demo: a nested request handler, a slow
// background job, and a little messaging noise.
func defaultWorkload() workload {
	w := workload{
		Functions: []workloadFunc{
			{
				Name:    "api.request",
				Rate:    5,
				Min:     duration(2 * time.Millisecond),
				Max:     duration(20 * time.Millisecond),
				Args:    1,
				Workers: 2,
				Calls: []workloadFunc{
					{Name: "db.query", Min: duration(time.Millisecond), Max: duration(10 * time.Millisecond), Args: 2},
					{Name: "cache.get", Min: duration(100 * time.Microsecond), Max: duration(time.Millisecond), Args: 1},
				},
			},
			{
				Name: "worker.job",
				Rate: 1,
				Min:  duration(10 * time.Millisecond),
				Max:  duration(50 * time.Millisecond),
			},
		},
		Messaging: workloadMsg{Name: "bus.publish", Rate: 2},
	}
	w.normalize()
	return w
}

//
//
//

// runWorkload drives synthetic traffic against the producer until ctx is
// done, restarting with a fresh spec whenever one arrives on reloadc.
func runWorkload(ctx context.Context, producer *tcrtest.Producer, w workload, reloadc <-chan workload, logger *log.Logger) error {
	for {
		runctx, cancel := context.WithCancel(ctx)
		donec := make(chan struct{})
		go func() {
			defer close(donec)
			driveWorkload(runctx, producer, w)
		}()

		select {
		case next := <-reloadc:
			cancel()
			<-donec
			w = next
			logger.Printf("workload: traffic restarted, seed %d", w.Seed)

		case <-ctx.Done():
			cancel()
			<-donec
			return ctx.Err()
		}
	}
}

// driveWorkload runs the spec's workers until ctx is done. Worker seeds are
// drawn sequentially from the spec seed, so a given spec replays the same
// traffic shape.
func driveWorkload(ctx context.Context, producer *tcrtest.Producer, w workload) {
	var (
		rng = rand.New(rand.NewSource(w.Seed))
		wg  sync.WaitGroup
	)

	for _, fn := range w.Functions {
		for i := 0; i < fn.Workers; i++ {
			wg.Add(1)
			go func(fn workloadFunc, seed int64) {
				defer wg.Done()
				runCaller(ctx, producer, fn, rand.New(rand.NewSource(seed)))
			}(fn, rng.Int63())
		}
	}

	if w.Messaging.Rate > 0 {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			runMessaging(ctx, producer, w.Messaging, rand.New(rand.NewSource(seed)))
		}(rng.Int63())
	}

	wg.Wait()
}

// runCaller loops one synthetic caller: a full call tree, then a jittered
// pause sized to the configured rate.
func runCaller(ctx context.Context, producer *tcrtest.Producer, fn workloadFunc, rng *rand.Rand) {
	var (
		caller   = tcrtest.NewCallerID()
		interval = time.Duration(float64(time.Second) / fn.Rate)
	)

	for ctx.Err() == nil {
		simulateCall(ctx, producer, caller, fn, rng)
		contextSleep(ctx, interval/2+time.Duration(rng.Int63n(int64(interval))))
	}
}

// simulateCall emits a call event, runs the nested children, dwells for a
// random duration between min and max, and emits the matching return.
func simulateCall(ctx context.Context, producer *tcrtest.Producer, caller tcr.CallerID, fn workloadFunc, rng *rand.Rand) {
	args := make([]any, fn.Args)
	for i := range args {
		args[i] = fmt.Sprintf("a%d", rng.Intn(1000))
	}

	d := tcr.ParseDescriptor(fn.Name)

	producer.EmitCall(caller, d, args...)

	for _, child := range fn.Calls {
		simulateCall(ctx, producer, caller, child, rng)
	}

	contextSleep(ctx, randomBetween(rng, time.Duration(fn.Min), time.Duration(fn.Max)))

	producer.EmitReturn(caller, d, len(args), fmt.Sprintf("r%d", rng.Intn(1000)))
}

// runMessaging emits send/receive pairs between a small set of peers.
// Messages show up in tails but are never correlated.
func runMessaging(ctx context.Context, producer *tcrtest.Producer, msg workloadMsg, rng *rand.Rand) {
	var (
		peers    = []tcr.CallerID{tcrtest.NewCallerID(), tcrtest.NewCallerID(), tcrtest.NewCallerID()}
		d        = tcr.ParseDescriptor(msg.Name)
		interval = time.Duration(float64(time.Second) / msg.Rate)
	)

	for ctx.Err() == nil {
		var (
			i        = rng.Intn(len(peers))
			j        = (i + 1 + rng.Intn(len(peers)-1)) % len(peers)
			sender   = peers[i]
			receiver = peers[j]
			payload  = fmt.Sprintf("m%d", rng.Intn(1000))
		)
		producer.EmitSend(sender, receiver, d, payload)
		producer.EmitReceive(receiver, d, payload)
		contextSleep(ctx, interval)
	}
}

func randomBetween(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)))
}
