package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/tcr"
	"github.com/peterbourgon/tcr/internal/tcrutil"
	"github.com/peterbourgon/tcr/tcrstats"
)

type statsConfig struct {
	*rootConfig

	input       string
	profilePath string
}

func (cfg *statsConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'i', LongName: "input" /*   */, Value: ffval.NewValueDefault(&cfg.input, "-") /* */, Usage: "snapshot JSON file, - for stdin", Placeholder: "FILE"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "profile" /* */, Value: ffval.NewValue(&cfg.profilePath) /*       */, Usage: "write a pprof profile of finished calls to this file", Placeholder: "FILE"})
}

func (cfg *statsConfig) Exec(ctx context.Context, args []string) error {
	var r io.Reader
	switch cfg.input {
	case "-", "":
		r = cfg.stdin
	default:
		f, err := os.Open(cfg.input)
		if err != nil {
			return fmt.Errorf("open snapshot: %w", err)
		}
		defer f.Close()
		r = f
	}

	var snapshot tcr.Snapshot
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	cfg.debug.Printf("snapshot: %d caller(s), %d finished, %d unfinished, %d orphaned",
		len(snapshot), snapshot.NumFinished(), snapshot.NumUnfinished(), snapshot.NumOrphaned())

	groups := tcrstats.GroupBySignature(snapshot)

	switch cfg.output {
	case "table":
		writeSummaryTable(cfg.stdout, groups)

	case "prettyjson":
		summaries := tcrstats.Summarize(groups)
		out := make(map[string]tcrstats.Summary, len(summaries))
		for sig, s := range summaries {
			out[sig.String()] = s
		}
		enc := json.NewEncoder(cfg.stdout)
		enc.SetIndent("", "    ")
		if err := enc.Encode(out); err != nil {
			return err
		}

	default: // ndjson
		if err := writeSummaryNDJSON(cfg.stdout, groups); err != nil {
			return err
		}
	}

	if cfg.profilePath != "" {
		if err := writeProfile(groups, cfg.profilePath); err != nil {
			return fmt.Errorf("write profile: %w", err)
		}
		cfg.info.Printf("profile written to %s", cfg.profilePath)
	}

	return nil
}

//
//
//

func writeSummaryTable(w io.Writer, groups tcrstats.Groups) {
	summaries := tcrstats.Summarize(groups)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "SIGNATURE\tCOUNT\tMIN\tMAX\tTOTAL\tAVG\n")
	for _, sig := range groups.Signatures() {
		s := summaries[sig]
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			sig,
			s.Count,
			tcrutil.HumanizeDuration(s.Min),
			tcrutil.HumanizeDuration(s.Max),
			tcrutil.HumanizeDuration(s.Total),
			tcrutil.HumanizeDuration(s.Average),
		)
	}
	tw.Flush()
}

// summaryRow is the ndjson row shape: one line per signature, durations in
// nanoseconds.
type summaryRow struct {
	Signature string `json:"signature"`
	tcrstats.Summary
}

func writeSummaryNDJSON(w io.Writer, groups tcrstats.Groups) error {
	summaries := tcrstats.Summarize(groups)
	enc := json.NewEncoder(w)
	for _, sig := range groups.Signatures() {
		if err := enc.Encode(summaryRow{Signature: sig.String(), Summary: summaries[sig]}); err != nil {
			return err
		}
	}
	return nil
}

func writeProfile(groups tcrstats.Groups, path string) error {
	prof := tcrstats.Profile(groups)

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := prof.Write(f); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
