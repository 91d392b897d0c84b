// Command aggregator runs the probe-response handler and the
// analysis-timer scheduler against a shared Postgres store and RabbitMQ
// broker (spec §4-5).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hexmap/aggregator/internal/apperr"
	"github.com/hexmap/aggregator/internal/blocklist"
	"github.com/hexmap/aggregator/internal/config"
	"github.com/hexmap/aggregator/internal/handler"
	"github.com/hexmap/aggregator/internal/interpret"
	"github.com/hexmap/aggregator/internal/obs"
	"github.com/hexmap/aggregator/internal/schedule"
	"github.com/hexmap/aggregator/internal/store/analysisstore"
	"github.com/hexmap/aggregator/internal/store/pg"
	"github.com/hexmap/aggregator/internal/transport"
)

// txRunner adapts *pg.Pool.WithTx's concrete *pg.Tx callback to
// handler.TxRunner's interface-typed one; *pg.Tx already satisfies
// handler.TxRepos, so no repackaging is needed, only a type rename at
// the call boundary.
type txRunner struct{ pool *pg.Pool }

func (r txRunner) WithTx(ctx context.Context, fn func(ctx context.Context, tx handler.TxRepos) error) error {
	return r.pool.WithTx(ctx, func(ctx context.Context, tx *pg.Tx) error {
		return fn(ctx, tx)
	})
}

func main() {
	var (
		configPath  string
		devLog      bool
		metricsAddr string
	)
	flag.StringVar(&configPath, "config", "", "Path to an optional YAML config file")
	flag.BoolVar(&devLog, "dev", false, "Use a human-readable console logger instead of JSON")
	flag.StringVar(&metricsAddr, "metrics-addr", ":9090", "Address to serve /metrics on")
	flag.Parse()

	if err := run(configPath, devLog, metricsAddr); err != nil {
		fmt.Fprintln(os.Stderr, "aggregator:", err)
		os.Exit(1)
	}
}

func run(configPath string, devLog bool, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := obs.NewLogger(devLog)
	if err != nil {
		return fmt.Errorf("aggregator: build logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server exited", zap.Error(err))
		}
	}()
	defer metricsSrv.Close()

	pool, err := pg.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("aggregator: open db: %w", err)
	}
	defer pool.Close()

	bl, err := loadBlocklist(cfg.BlocklistFile)
	if err != nil {
		return fmt.Errorf("aggregator: load blocklist: %w", err)
	}

	bridge, err := transport.Dial(cfg.AMQPURI, cfg.BrokerPrefetch, log)
	if err != nil {
		return fmt.Errorf("aggregator: dial broker: %w", err)
	}
	defer bridge.Close()

	h := handler.New(txRunner{pool: pool}, bl, bridge, log, metrics, nil)

	sched := schedule.New(pool.ScheduleRepo(), analysisstore.New(pool.AnalysisRepo()), bridge, log, metrics, cfg.AnalysisTimerPrefixBudget, cfg.AnalysisTimerMaxPrefixPerAS)
	go sched.Run(ctx, cfg.AnalysisTimerInterval)

	echoCh, err := transport.ConsumeEcho(ctx, bridge, log)
	if err != nil {
		return fmt.Errorf("aggregator: consume echo: %w", err)
	}
	traceCh, err := transport.ConsumeTrace(ctx, bridge, log)
	if err != nil {
		return fmt.Errorf("aggregator: consume trace: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runEchoLoop(ctx, h, bridge, echoCh, log)
	}()
	go func() {
		defer wg.Done()
		runTraceLoop(ctx, h, bridge, traceCh, log)
	}()

	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()
	return nil
}

func runEchoLoop(ctx context.Context, h *handler.Handler, bridge *transport.Bridge, in <-chan transport.TaskRequest[interpret.EchoProbeResponse], log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-in:
			if !ok {
				return
			}
			ackOrNack(bridge, req.DeliveryTag, h.HandleEcho(ctx, req.Model), log)
		}
	}
}

func runTraceLoop(ctx context.Context, h *handler.Handler, bridge *transport.Bridge, in <-chan transport.TaskRequest[interpret.TraceResponse], log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-in:
			if !ok {
				return
			}
			ackOrNack(bridge, req.DeliveryTag, h.HandleTrace(ctx, req.Model), log)
		}
	}
}

func ackOrNack(bridge *transport.Bridge, tag uint64, err error, log *zap.Logger) {
	if err == nil {
		bridge.Ack(tag)
		return
	}
	if apperr.IsPermanent(err) {
		log.Warn("dropping message after permanent failure", zap.Uint64("delivery_tag", tag), zap.Error(err))
		bridge.Nack(tag, false)
		return
	}
	log.Error("requeueing message after transient failure", zap.Uint64("delivery_tag", tag), zap.Error(err))
	bridge.Nack(tag, true)
}

func loadBlocklist(path string) (blocklist.Blocklist, error) {
	if path == "" {
		return blocklist.NewStatic(nil), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return blocklist.ReadFrom(f)
}
