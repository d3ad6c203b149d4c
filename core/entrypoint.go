package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/encodeous/nhdp/impl"
	"github.com/encodeous/nhdp/state"
	"github.com/encodeous/nhdp/store"
	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
	"go.uber.org/multierr"
)

type RunOptions struct {
	Level slog.Level
	// JSON selects a JSON handler for the log file.
	JSON bool
	// DebugAddr serves /debug/metrics, /debug/vars and /debug/nhdp when set.
	DebugAddr string
	// DumpInterval periodically logs Inspect when positive.
	DumpInterval time.Duration
}

// Bootstrap runs the daemon described by the config file until SIGINT or SIGTERM.
func Bootstrap(configPath, logPath string, opts RunOptions) error {
	cfg, err := state.ReadConfig(configPath)
	if err != nil {
		return err
	}
	if logPath != "" {
		cfg.LogPath = logPath
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	go func() {
		select {
		case <-c:
			cancel(errors.New("received shutdown signal"))
		case <-ctx.Done():
		}
	}()
	return Start(ctx, *cfg, opts)
}

func newLogger(cfg state.Config, opts RunOptions) (*slog.Logger, func() error, error) {
	handlers := []slog.Handler{
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        opts.Level,
			AddSource:    false,
			CustomPrefix: cfg.Name,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}),
	}
	closer := func() error { return nil }
	if cfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(cfg.LogPath), 0700)
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(cfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, nil, err
		}
		hopts := &slog.HandlerOptions{Level: opts.Level}
		if opts.JSON {
			handlers = append(handlers, slog.NewJSONHandler(f, hopts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(f, hopts))
		}
		closer = f.Close
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// Start runs one node on the MANET multicast transport until ctx is done.
func Start(ctx context.Context, cfg state.Config, opts RunOptions) (err error) {
	cfg.ApplyDefaults()
	if err := state.ConfigValidator(&cfg); err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg, opts)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeLog()) }()

	sock, err := impl.NewManetSock(ctx, cfg.Transport, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sock.Close()) }()

	c, err := New(cfg, Options{Log: logger, Transport: sock})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, c.Close()) }()

	sched := NewScheduler(ctx, c)
	if err := Configure(c, cfg, sock.Join); err != nil {
		return err
	}

	events := make(chan interface{}, 64)
	stopEvents := make(chan struct{})
	c.Subscribe(events)
	go logEvents(logger, events, stopEvents)
	defer func() {
		c.Unsubscribe(events)
		close(stopEvents)
	}()

	if opts.DebugAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/debug/", http.DefaultServeMux)
		mux.Handle("/debug/nhdp", c)
		srv := &http.Server{Addr: opts.DebugAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("debug server stopped", "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			err = multierr.Append(err, srv.Shutdown(sctx))
		}()
	}
	if opts.DumpInterval > 0 {
		go func() {
			t := c.Clock().Ticker(opts.DumpInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					logger.Info("tables\n" + c.Inspect())
				}
			}
		}()
	}

	sched.Start()
	logger.Info("nhdpd has been initialized. To gracefully exit, send SIGINT or Ctrl+C.", "interfaces", c.Interfaces(), "metric", cfg.Metric)
	serveErr := sock.Serve(ctx, func(iface string, src store.Addr, buf []byte) {
		if err := sched.Deliver(iface, src, buf); err != nil {
			logger.Debug("hello dropped", "iface", iface, "src", src, "err", err)
		}
	})
	sched.Stop()
	if cause := context.Cause(ctx); cause != nil {
		logger.Info("stopped", "reason", cause.Error())
	}
	return serveErr
}

// Configure registers every interface of cfg with c. join is called for each
// MANET interface, so the transport can subscribe to it.
func Configure(c *Core, cfg state.Config, join func(name string) error) error {
	for _, ic := range cfg.Interfaces {
		if len(ic.Addresses) == 0 {
			return fmt.Errorf("interface %s has no address", ic.Name)
		}
		if ic.Passive {
			for _, a := range ic.Addresses {
				if err := c.RegisterPassiveAddress(ic.Name, a); err != nil {
					return err
				}
			}
			continue
		}
		err := c.RegisterInterface(ic.Name, ic.Addresses[0], InterfaceOpts{
			MaxPayload:    ic.MaxPayload,
			HelloInterval: ic.HelloInterval,
			HoldTime:      ic.HoldTime,
		})
		if err != nil {
			return err
		}
		for _, a := range ic.Addresses[1:] {
			if err := c.AddLocalAddress(ic.Name, a); err != nil {
				return err
			}
		}
		if join != nil {
			if err := join(ic.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// logEvents keeps draining until stop is closed; the broadcaster blocks on
// a full subscriber.
func logEvents(log *slog.Logger, events <-chan interface{}, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case v := <-events:
			if e, ok := v.(Event); ok {
				log.Info("neighbourhood changed", "event", e.Kind.String(), "iface", e.Interface, "addrs", e.Addrs)
			}
		}
	}
}
