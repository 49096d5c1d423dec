package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/tcr"
	"github.com/peterbourgon/tcr/internal/tcrutil"
	"github.com/peterbourgon/tcr/tcrsession"
	"github.com/peterbourgon/tcr/tcrstats"
	"github.com/peterbourgon/tcr/tcrtest"
	"github.com/peterbourgon/tcr/tcrweb"
	"github.com/peterbourgon/unixtransport"
)

type watchConfig struct {
	*rootConfig

	agentURI     string
	demo         bool
	pattern      string
	eventBudget  int
	timeBudget   time.Duration
	probeTimeout time.Duration
	tail         bool
	recentN      int
	profilePath  string
	stats        bool
}

func (cfg *watchConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'a', LongName: "agent" /*         */, Value: ffval.NewValue(&cfg.agentURI) /*                                            */, Usage: "agent URI to watch, e.g. 'localhost:8087'", Placeholder: "URI"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "demo" /*          */, Value: ffval.NewValue(&cfg.demo) /*                                                */, Usage: "watch an embedded demo workload instead of an agent", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 'p', LongName: "pattern" /*       */, Value: ffval.NewValueDefault(&cfg.pattern, string(tcr.PatternAll)) /*              */, Usage: "function pattern: *, module.*, or module.function"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'n', LongName: "events" /*        */, Value: ffval.NewValue(&cfg.eventBudget) /*                                         */, Usage: "end the stream after this many events"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "within" /*        */, Value: ffval.NewValue(&cfg.timeBudget) /*                                          */, Usage: "end the stream after this much time"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "probe-timeout" /* */, Value: ffval.NewValueDefault(&cfg.probeTimeout, tcrsession.DefaultProbeTimeout) /* */, Usage: "clock probe timeout for remote targets"})
	fs.AddFlag(ff.FlagConfig{ShortName: 't', LongName: "tail" /*          */, Value: ffval.NewValue(&cfg.tail) /*                                                */, Usage: "print matching events live", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "recent" /*        */, Value: ffval.NewValue(&cfg.recentN) /*                                             */, Usage: "print up to N recent events per troubled caller at stop", Placeholder: "N"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "profile" /*       */, Value: ffval.NewValue(&cfg.profilePath) /*                                         */, Usage: "write a pprof profile of finished calls to this file", Placeholder: "FILE"})
	fs.AddFlag(ff.FlagConfig{ShortName: 's', LongName: "stats" /*         */, Value: ffval.NewValue(&cfg.stats) /*                                               */, Usage: "print per-signature statistics after the snapshot", NoDefault: true})
}

func (cfg *watchConfig) Exec(ctx context.Context, args []string) error {
	if cfg.demo == (cfg.agentURI != "") {
		return fmt.Errorf("exactly one of --agent or --demo is required")
	}

	var (
		sessionConfig = tcrsession.Config{
			Pattern:      tcr.Pattern(cfg.pattern),
			EventBudget:  cfg.eventBudget,
			TimeBudget:   cfg.timeBudget,
			ProbeTimeout: cfg.probeTimeout,
			Logger:       cfg.debug,
		}
		g run.Group
	)

	switch {
	case cfg.demo:
		producer := tcrtest.NewProducer()
		sessionConfig.Source = producer

		w := defaultWorkload()
		cfg.debug.Printf("demo workload, %d function(s), seed %d", len(w.Functions), w.Seed)

		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			driveWorkload(ctx, producer, w)
			return ctx.Err()
		}, func(error) {
			cancel()
		})

	default:
		// The eventsource client dials the process default transport, so
		// http+unix agent URIs need the scheme registered there.
		if t, ok := http.DefaultTransport.(*http.Transport); ok {
			unixtransport.Register(t)
		}

		client := tcrweb.NewAgentClient(cfg.agentURI)
		client.Logger = cfg.trace
		client.OnRead = func(_ context.Context, messageType string, data []byte) {
			cfg.trace.Printf("%s: %s %s", client.URI, messageType, string(data))
		}

		sessionConfig.Source = client
		sessionConfig.Target = tcr.Target(client.URI)
		sessionConfig.Clock = client
	}

	session, err := tcrsession.Start(ctx, sessionConfig)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	cfg.info.Printf("session %s: watching %s, pattern %s", session.ID(), session.Target(), cfg.pattern)

	if cfg.tail {
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return cfg.runTail(ctx, session)
		}, func(error) {
			cancel()
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			select {
			case <-session.Done():
				cfg.info.Printf("session %s: terminated", session.ID())
				return nil
			case <-session.Completed():
				cfg.info.Printf("session %s: producer stream complete", session.ID())
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	runErr := g.Run()

	stopctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snapshot, err := session.Stop(stopctx)
	switch {
	case errors.Is(err, tcrsession.ErrSessionStopped):
		cfg.info.Printf("session %s: nothing recorded", session.ID())
		return runErr
	case err != nil:
		return fmt.Errorf("stop session: %w", err)
	}

	counters := session.Counters()
	cfg.debug.Printf("session %s: observed %s", session.ID(), counters)

	if err := cfg.writeSnapshot(snapshot); err != nil {
		return err
	}

	if cfg.recentN > 0 {
		cfg.writeRecent(session, snapshot)
	}

	if cfg.stats || cfg.profilePath != "" {
		groups := tcrstats.GroupBySignature(snapshot)
		if cfg.stats {
			writeSummaryTable(cfg.stdout, groups)
		}
		if cfg.profilePath != "" {
			if err := writeProfile(groups, cfg.profilePath); err != nil {
				return fmt.Errorf("write profile: %w", err)
			}
			cfg.info.Printf("profile written to %s", cfg.profilePath)
		}
	}

	return runErr
}

// runTail prints matching events as the session observes them. It returns
// when the stream ends, which happens on interrupt or when the session
// stops.
func (cfg *watchConfig) runTail(ctx context.Context, session *tcrsession.Session) error {
	var (
		events = make(chan tcr.Event, 100)
		resc   = make(chan error, 1)
	)

	go func() {
		stats, err := session.Stream(ctx, cfg.filter, events)
		cfg.debug.Printf("tail: %s", stats)
		resc <- err
	}()

	for {
		select {
		case ev := <-events:
			fmt.Fprintln(cfg.stdout, ev)

		case err := <-resc:
			for {
				select {
				case ev := <-events:
					fmt.Fprintln(cfg.stdout, ev)
				default:
					if errors.Is(err, context.Canceled) {
						err = nil
					}
					return err
				}
			}
		}
	}
}

const timeColumn = "15:04:05.000000"

// callerLine is the ndjson row shape: one line per caller.
type callerLine struct {
	Caller tcr.CallerID `json:"caller"`
	tcr.CallerRecords
}

func (cfg *watchConfig) writeSnapshot(snapshot tcr.Snapshot) error {
	switch cfg.output {
	case "prettyjson":
		enc := json.NewEncoder(cfg.stdout)
		enc.SetIndent("", "    ")
		return enc.Encode(snapshot)

	case "table":
		return writeSnapshotTable(cfg.stdout, snapshot)

	default: // ndjson
		enc := json.NewEncoder(cfg.stdout)
		for _, caller := range snapshot.Callers() {
			if err := enc.Encode(callerLine{Caller: caller, CallerRecords: snapshot[caller]}); err != nil {
				return err
			}
		}
		return nil
	}
}

func writeSnapshotTable(w io.Writer, snapshot tcr.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "CALLER\tFUNC\tCALLED\tDURATION\tVALUE\n")
	for _, caller := range snapshot.Callers() {
		cr := snapshot[caller]
		for _, rec := range cr.Finished {
			fmt.Fprintf(tw, "%s\t%s/%d\t%s\t%s\t%v\n",
				caller, rec.Func, rec.Arity(),
				rec.CallTime.Format(timeColumn),
				tcrutil.HumanizeDuration(rec.Duration),
				rec.Value,
			)
		}
		for _, u := range cr.Unfinished {
			est := "?"
			if u.EstimatedDuration != nil {
				est = "~" + tcrutil.HumanizeDuration(*u.EstimatedDuration)
			}
			fmt.Fprintf(tw, "%s\t%s/%d\t%s\t%s\t%s\n",
				caller, u.Func, u.Arity(),
				u.CallTime.Format(timeColumn),
				est,
				"(unfinished)",
			)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, caller := range snapshot.Callers() {
		if n := snapshot[caller].Orphaned; n > 0 {
			fmt.Fprintf(w, "caller %s: %d orphaned return(s)\n", caller, n)
		}
	}
	return nil
}

// writeRecent prints the retained recent events for every caller the
// snapshot flags as troubled, to help diagnose calls that never returned.
func (cfg *watchConfig) writeRecent(session *tcrsession.Session, snapshot tcr.Snapshot) {
	for _, caller := range snapshot.Callers() {
		cr := snapshot[caller]
		if len(cr.Unfinished) == 0 && cr.Orphaned == 0 {
			continue
		}
		evs := session.Recent(caller, cfg.recentN)
		if len(evs) == 0 {
			continue
		}
		fmt.Fprintf(cfg.stdout, "recent events, caller %s, newest first:\n", caller)
		for _, ev := range evs {
			fmt.Fprintf(cfg.stdout, "  %s %s\n", ev.When().Format(timeColumn), ev)
		}
	}
}
