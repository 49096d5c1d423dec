package main

import (
	"io"
	"log"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/tcr"
)

type rootConfig struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	verbose     bool
	veryVerbose bool
	output      string

	info, debug, trace *log.Logger

	filterCallers  []string
	filterKinds    []string
	filterModule   string
	filterFunction string
	filterQuery    string

	filter tcr.Filter
}

func (cfg *rootConfig) registerBaseFlags(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'v', LongName: "verbose" /* */, Value: ffval.NewValue(&cfg.verbose) /*                               */, Usage: "debug logging", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "vv" /*      */, Value: ffval.NewValue(&cfg.veryVerbose) /*                           */, Usage: "trace logging", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 'o', LongName: "output" /*  */, Value: ffval.NewEnum(&cfg.output, "ndjson", "prettyjson", "table") /* */, Usage: "output format: ndjson, prettyjson, table", Placeholder: "FORMAT"})
}

func (cfg *rootConfig) registerFilterFlags(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "caller" /*   */, Value: ffval.NewUniqueList(&cfg.filterCallers) /* */, NoDefault: true, Usage: "tail filter: caller token (repeatable)"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'k', LongName: "kind" /*     */, Value: ffval.NewUniqueList(&cfg.filterKinds) /*   */, NoDefault: true, Usage: "tail filter: event kind (repeatable)"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'm', LongName: "module" /*   */, Value: ffval.NewValue(&cfg.filterModule) /*       */, NoDefault: true, Usage: "tail filter: module name"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'f', LongName: "function" /* */, Value: ffval.NewValue(&cfg.filterFunction) /*     */, NoDefault: true, Usage: "tail filter: function name"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'q', LongName: "query" /*    */, Value: ffval.NewValue(&cfg.filterQuery) /*        */, NoDefault: true, Usage: "tail filter: query expression", Placeholder: "REGEX"})
}
