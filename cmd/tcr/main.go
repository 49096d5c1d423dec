// tcr is a CLI for correlating function call traces from tcr agents.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/peterbourgon/tcr"
	"github.com/peterbourgon/tcr/internal/tcrutil"
)

func main() {
	var (
		ctx    = context.Background()
		stdin  = os.Stdin
		stdout = os.Stdout
		stderr = os.Stderr
		args   = os.Args[1:]
	)
	err := exec(ctx, stdin, stdout, stderr, args)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &(run.SignalError{})):
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func exec(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) (err error) {
	rootConfig := &rootConfig{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}

	rootFlags := ff.NewFlagSet("base")
	rootConfig.registerBaseFlags(rootFlags)

	filterFlags := ff.NewFlagSet("filter").SetParent(rootFlags)
	rootConfig.registerFilterFlags(filterFlags)

	rootCommand := &ff.Command{
		Name:      "tcr",
		ShortHelp: "correlate function call traces from tcr agents",
		Flags:     rootFlags,
	}

	// Config for `tcr agent`.
	agentConfig := &agentConfig{rootConfig: rootConfig}
	agentFlags := ff.NewFlagSet("agent").SetParent(rootFlags)
	agentConfig.register(agentFlags)
	agentCommand := &ff.Command{
		Name:      "agent",
		ShortHelp: "host a demo producer behind an agent server",
		LongHelp:  "Serve a synthetic workload's event stream over HTTP, for sessions to watch.",
		Flags:     agentFlags,
		Exec:      agentConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, agentCommand)

	// Config for `tcr watch`.
	watchConfig := &watchConfig{rootConfig: rootConfig}
	watchFlags := ff.NewFlagSet("watch").SetParent(filterFlags)
	watchConfig.register(watchFlags)
	watchCommand := &ff.Command{
		Name:      "watch",
		ShortHelp: "run one correlation session to completion",
		LongHelp:  "Subscribe to an agent, or to an embedded demo workload, correlate calls with returns, and print the snapshot when the session stops.",
		Flags:     watchFlags,
		Exec:      watchConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, watchCommand)

	// Config for `tcr stats`.
	statsConfig := &statsConfig{rootConfig: rootConfig}
	statsFlags := ff.NewFlagSet("stats").SetParent(rootFlags)
	statsConfig.register(statsFlags)
	statsCommand := &ff.Command{
		Name:      "stats",
		ShortHelp: "compute statistics from a snapshot",
		LongHelp:  "Read a snapshot JSON, as printed by watch, and report per-signature statistics.",
		Flags:     statsFlags,
		Exec:      statsConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, statsCommand)

	// Print help when appropriate.
	showHelp := true
	defer func() {
		errHelp := errors.Is(err, ff.ErrHelp) || errors.Is(err, ff.ErrNoExec)
		if showHelp || errHelp {
			fmt.Fprintf(stderr, "\n%s\n", ffhelp.Command(rootCommand))
		}
		if errHelp {
			err = nil
		}
	}()

	// Initial parsing.
	if err := rootCommand.Parse(args, ff.WithEnvVarPrefix("TCR")); err != nil {
		return err
	}

	// Validation and set-up.
	{
		var infodst, debugdst, tracedst io.Writer
		switch {
		case rootConfig.veryVerbose:
			infodst, debugdst, tracedst = stderr, stderr, stderr
		case rootConfig.verbose:
			infodst, debugdst, tracedst = stderr, stderr, io.Discard
		default:
			infodst, debugdst, tracedst = stderr, io.Discard, io.Discard
		}
		rootConfig.info = log.New(infodst, "", 0)
		rootConfig.debug = log.New(debugdst, "[DEBUG] ", log.Lmsgprefix)
		rootConfig.trace = log.New(tracedst, "[TRACE] ", log.Lmsgprefix)
	}

	{
		rootConfig.filter = tcr.Filter{
			Callers:  rootConfig.filterCallers,
			Kinds:    rootConfig.filterKinds,
			Module:   rootConfig.filterModule,
			Function: rootConfig.filterFunction,
			Query:    rootConfig.filterQuery,
		}
		if errs := rootConfig.filter.Normalize(); len(errs) > 0 {
			return fmt.Errorf("invalid filter: %s", strings.Join(tcrutil.FlattenErrors(errs...), "; "))
		}
		rootConfig.debug.Printf("filter: %s", rootConfig.filter)
	}

	// Run errors shouldn't show help by default.
	showHelp = false

	// Run the selected command.
	return rootCommand.Run(ctx)
}
