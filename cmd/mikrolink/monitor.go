package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/mikrolink"
	"github.com/danmuck/mikrolink/internal/logging"
	"github.com/danmuck/mikrolink/internal/monitor"
	"github.com/danmuck/mikrolink/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/scott-cotton/cli"
	"golang.org/x/sync/errgroup"
)

const defaultMonitorEvery = 15 * time.Second

func monitorCmd(cfg *MonitorConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Monitor.Parse(cc, args)
	if err != nil {
		cfg.Monitor.Usage(cc, err)
		return cli.ExitCodeErr(1)
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: monitor requires at least one menu", cli.ErrUsage)
	}
	every, err := parseEvery(cfg.Every)
	if err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	s, err := resolveSettings(cfg.MainConfig, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}

	commands := make([]string, 0, len(args))
	for _, menu := range args {
		commands = append(commands, printCommand(menu))
	}

	logging.ConfigureRuntime()
	log := logging.Component("monitor")
	gin.SetMode(gin.ReleaseMode)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	client := mikrolink.New(s.Session,
		mikrolink.WithLogger(logging.Component("mikrolink")),
		mikrolink.WithMetrics(metrics))
	defer client.Disconnect()

	poller, err := monitor.NewPoller(client, monitor.PollerConfig{
		Commands: commands,
		Every:    every,
		Connect: func(ctx context.Context) error {
			return client.Connect(ctx, s.Host, s.User, s.Password, s.Port, s.TLS)
		},
		Metrics: metrics,
		Log:     log,
	})
	if err != nil {
		return err
	}
	srv := monitor.NewServer(monitor.ServerConfig{
		Addr:        strings.TrimSpace(cfg.Listen),
		CORSOrigins: splitList(cfg.CORS),
	}, poller, reg, metrics, log)

	sigCtx, cancel := signalContext(cc)
	defer cancel()
	g, ctx := errgroup.WithContext(sigCtx)
	g.Go(func() error { return poller.Run(ctx) })
	g.Go(func() error { return srv.Serve(ctx) })
	err = g.Wait()
	if err == nil || sigCtx.Err() != nil {
		return nil
	}
	log.Error().Msgf("monitor stopped err=%v", err)
	return err
}

func parseEvery(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultMonitorEvery, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid -every %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid -every %q: must be positive", raw)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
