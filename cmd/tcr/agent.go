package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/tcr/tcrtest"
	"github.com/peterbourgon/tcr/tcrweb"
)

type agentConfig struct {
	*rootConfig

	listenAddr   string
	workloadPath string
	reload       bool
	buf          int
}

func (cfg *agentConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "listen" /*   */, Value: ffval.NewValueDefault(&cfg.listenAddr, "localhost:8087") /*        */, Usage: "listen URI: host:port, tcp://host:port, or unix:///path", Placeholder: "URI"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'w', LongName: "workload" /* */, Value: ffval.NewValue(&cfg.workloadPath) /*                               */, Usage: "workload spec file (yaml), default an embedded demo", Placeholder: "FILE"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "reload" /*   */, Value: ffval.NewValue(&cfg.reload) /*                                     */, Usage: "watch the workload file and restart traffic on change", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "buf" /*      */, Value: ffval.NewValueDefault(&cfg.buf, tcrweb.DefaultEventBuffer) /*      */, Usage: "default per-stream event buffer"})
}

func (cfg *agentConfig) Exec(ctx context.Context, args []string) error {
	w, err := cfg.loadWorkload()
	if err != nil {
		return err
	}

	ln, err := listenURI(cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	cfg.info.Printf("listening on %s", cfg.listenAddr)

	var (
		producer = tcrtest.NewProducer()
		server   = tcrweb.NewAgentServer(producer).SetEventBuffer(cfg.buf).SetLogger(cfg.trace)
		reloadc  = make(chan workload)
	)

	httpServer := &http.Server{
		Handler: tcrweb.LogMiddleware(cfg.debug)(server),
	}

	var g run.Group

	{
		g.Add(func() error {
			return httpServer.Serve(ln)
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			httpServer.Shutdown(ctx)
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return runWorkload(ctx, producer, w, reloadc, cfg.debug)
		}, func(error) {
			cancel()
		})
	}

	if cfg.reload && cfg.workloadPath != "" {
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return cfg.watchWorkload(ctx, reloadc)
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	cfg.info.Printf("agent up, %d workload function(s), seed %d", len(w.Functions), w.Seed)

	return g.Run()
}

func (cfg *agentConfig) loadWorkload() (workload, error) {
	if cfg.workloadPath == "" {
		cfg.debug.Printf("using embedded demo workload")
		return defaultWorkload(), nil
	}
	return loadWorkloadFile(cfg.workloadPath)
}

// watchWorkload watches the workload file and, after a quiet period, reloads
// it and hands the new spec to the traffic driver. The watch is on the
// directory rather than the file, because editors typically replace files on
// save and a watch on the old inode would be lost.
func (cfg *agentConfig) watchWorkload(ctx context.Context, reloadc chan<- workload) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(cfg.workloadPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	base := filepath.Base(cfg.workloadPath)
	cfg.debug.Printf("watching %s for changes to %s", dir, base)

	var (
		debounce *time.Timer
		trigger  = make(chan struct{}, 1)
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case <-trigger:
			w, err := loadWorkloadFile(cfg.workloadPath)
			if err != nil {
				cfg.info.Printf("workload reload failed: %v", err)
				continue
			}
			select {
			case reloadc <- w:
				cfg.info.Printf("workload reloaded from %s", cfg.workloadPath)
			case <-ctx.Done():
				return ctx.Err()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cfg.debug.Printf("watcher error: %v", err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// listenURI opens a listener for a tcp or unix listen address: host:port and
// tcp://host:port listen on TCP, unix:///path/to.sock and bare filesystem
// paths listen on a unix socket.
func listenURI(uri string) (net.Listener, error) {
	switch {
	case strings.HasPrefix(uri, "unix://"):
		return net.Listen("unix", strings.TrimPrefix(uri, "unix://"))
	case strings.HasPrefix(uri, "tcp://"):
		return net.Listen("tcp", strings.TrimPrefix(uri, "tcp://"))
	case strings.HasPrefix(uri, "http://"):
		return net.Listen("tcp", strings.TrimPrefix(uri, "http://"))
	case strings.HasPrefix(uri, "/"), strings.HasPrefix(uri, "./"):
		return net.Listen("unix", uri)
	default:
		return net.Listen("tcp", uri)
	}
}
