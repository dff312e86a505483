package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/torosent/loadcheck/internal/campaign"
	"github.com/torosent/loadcheck/internal/config"
	"github.com/torosent/loadcheck/internal/endpoint"
	"github.com/torosent/loadcheck/internal/httpclient"
	"github.com/torosent/loadcheck/internal/logger"
	"github.com/torosent/loadcheck/internal/output"
	"github.com/torosent/loadcheck/internal/promexport"
	"github.com/torosent/loadcheck/internal/runner"
	"github.com/torosent/loadcheck/internal/threshold"
	"github.com/torosent/loadcheck/internal/tracing"
)

const (
	progressInterval    = time.Second
	tuiInterval         = 100 * time.Millisecond
	tracingFlushTimeout = 5 * time.Second
)

// errChecksFailed marks a campaign that ran but did not pass.
var errChecksFailed = errors.New("campaign failed")

type progressView interface {
	Start()
	Stop()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Writer: stderr,
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	ctx = logger.IntoContext(ctx, log)

	runID := campaign.NewRunID()
	provider, err := tracing.Init(ctx, cfg.Tracing, runID)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tracingFlushTimeout)
		defer cancel()
		if err := provider.Shutdown(flushCtx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	client := httpclient.NewClient(cfg.Timeout, cfg.Concurrency*cfg.Parallel)
	defer client.CloseIdleConnections()
	exec, err := httpclient.NewExecutor(client, httpclient.Options{
		BaseURL: cfg.BaseURL,
		Tracing: provider,
	})
	if err != nil {
		return err
	}

	var observers runner.Observers
	if cfg.MetricsAddr != "" {
		rec := promexport.NewRecorder()
		stop, err := serveMetrics(ctx, promexport.NewServer(cfg.MetricsAddr, rec))
		if err != nil {
			return err
		}
		defer stop()
		observers = append(observers, rec)
	}

	tracker := campaign.NewTracker()
	runnerOpts := runner.Options{
		Concurrency:    cfg.Concurrency,
		RatePerSecond:  cfg.Rate,
		ArrivalModel:   runner.ArrivalModel(cfg.Arrival),
		Retry:          newRetryPolicy(cfg.Retries),
		FailureSamples: failureSamples(cfg.FailureSamples),
		Preparer:       executorPreparer(exec),
		FailureLogger:  &zapFailureLogger{log: log.Named("failures")},
	}
	if len(observers) > 0 {
		runnerOpts.Observer = observers
	}
	r := campaign.New(campaign.Options{
		Driver:   runnerOpts,
		Parallel: cfg.Parallel,
		Tracker:  tracker,
		RunID:    runID,
	})

	progress := newProgressView(cfg, tracker, stderr)
	if progress != nil {
		progress.Start()
	}
	report, err := r.Run(ctx, cfg.Descriptors())
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return err
	}

	results := threshold.NewEvaluator(thresholds).Evaluate(report)
	if err := output.Render(stdout, cfg.Output, report, results); err != nil {
		return err
	}
	if cfg.OutputFile != "" {
		if err := output.WriteFile(context.WithoutCancel(ctx), cfg.OutputFile, cfg.Output, report, results); err != nil {
			return err
		}
	}

	if report.Interrupted {
		log.Warn("campaign interrupted, report is partial", zap.String("run_id", report.RunID))
	}

	totals := report.Totals()
	if totals.Failed > 0 {
		return fmt.Errorf("%w: %d of %d requests failed their checks", errChecksFailed, totals.Failed, totals.Attempted)
	}
	if !threshold.AllPassed(results) {
		return fmt.Errorf("%w: thresholds not met", errChecksFailed)
	}
	return nil
}

// serveMetrics runs srv in the background and returns a function that stops
// it and waits for it to exit.
func serveMetrics(ctx context.Context, srv *promexport.Server) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-errCh:
		cancel()
		return nil, err
	}
	return func() {
		cancel()
		if err := <-errCh; err != nil {
			logger.FromContext(ctx).Warn("metrics server", zap.Error(err))
		}
	}, nil
}

// failureSamples maps the configured sample count onto runner.Options, where
// zero selects the default and a negative count keeps none.
func failureSamples(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

func executorPreparer(exec *httpclient.Executor) runner.Preparer {
	return runner.PreparerFunc(func(d endpoint.Descriptor) (runner.Requester, error) {
		target, err := exec.Prepare(d)
		if err != nil {
			return nil, err
		}
		return target, nil
	})
}

func newProgressView(cfg *config.Config, source output.ProgressSource, w io.Writer) progressView {
	switch cfg.Progress {
	case config.ProgressLine:
		return output.NewProgressReporter(source, progressInterval, w)
	case config.ProgressTUI:
		return output.NewTUI(source, tuiInterval, w)
	case config.ProgressAuto:
		if cfg.Output == config.OutputText && isTerminal(w) {
			return output.NewProgressReporter(source, progressInterval, w)
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
