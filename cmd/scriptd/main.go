package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/engine"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/infrastructure/monitoring"
)

// output is the JSON shape printed for each submission
type output struct {
	ExecutionID string         `json:"execution_id"`
	Success     bool           `json:"success"`
	Value       any            `json:"value,omitempty"`
	Error       *outputError   `json:"error,omitempty"`
	Console     []consoleEntry `json:"console,omitempty"`
	State       string         `json:"state"`
	CacheHit    bool           `json:"cache_hit"`
	DurationMS  float64        `json:"duration_ms"`
}

type outputError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type consoleEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func main() {
	cfg := config.LoadOrDefault()

	// Parse flags
	script := flag.String("script", "", "Script file to run (default: read stdin)")
	input := flag.String("input", "", "Input value as JSON, bound to the global 'input'")
	rawInput := flag.Bool("raw", false, "Pass -input to the script as a Buffer instead of parsing it as JSON")
	timeout := flag.Duration("timeout", cfg.Execution.Timeout, "Execution timeout")
	await := flag.Bool("await", cfg.Execution.AwaitAsync, "Await a returned promise, driving timers until it settles")
	strict := flag.Bool("strict", false, "Compile in strict mode")
	repeat := flag.Int("repeat", 1, "Number of concurrent identical submissions")
	poolSize := flag.Int("pool", cfg.Pool.Size, "Runtime pool size")
	network := flag.Bool("net", cfg.Network.Enabled, "Allow guest fetch")
	metricsAddr := flag.String("metrics", cfg.Metrics.Addr, "Serve Prometheus metrics on this address and keep running")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development logging")
	flag.Parse()

	cfg.Pool.Size = *poolSize
	cfg.Network.Enabled = *network
	cfg.Execution.Timeout = *timeout

	logger := logging.FromEnv(cfg.Logging.Level, *dev)
	defer logger.Sync()

	if err := run(cfg, logger, runOptions{
		script:      *script,
		input:       *input,
		rawInput:    *rawInput,
		repeat:      *repeat,
		metricsAddr: *metricsAddr,
		submit: engine.Options{
			Timeout:          *timeout,
			AwaitAsyncResult: *await,
			Strict:           *strict,
		},
	}); err != nil {
		logger.Error("scriptd failed", zap.Error(err))
		os.Exit(1)
	}
}

type runOptions struct {
	script      string
	input       string
	rawInput    bool
	repeat      int
	metricsAddr string
	submit      engine.Options
}

func run(cfg *config.Config, logger *logging.Logger, opts runOptions) error {
	source, err := readSource(opts.script)
	if err != nil {
		return err
	}
	in, err := parseInput(opts.input, opts.rawInput)
	if err != nil {
		return err
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	eng, err := engine.New(cfg.Engine(), logger.Logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("Error during shutdown", zap.Error(err))
		}
	}()
	metrics.Watch(eng)

	metricsDone := make(chan error, 1)
	if opts.metricsAddr != "" {
		go func() { metricsDone <- monitoring.Serve(ctx, opts.metricsAddr, reg, logger.Component("metrics")) }()
	}

	results := make(chan *engine.Result, max(opts.repeat, 1))
	var wg sync.WaitGroup
	for i := 0; i < max(opts.repeat, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- eng.Submit(ctx, source, in, opts.submit)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	enc := sonic.ConfigDefault.NewEncoder(os.Stdout)
	failed := 0
	for res := range results {
		if !res.Success {
			failed++
		}
		if err := enc.Encode(render(res)); err != nil {
			return err
		}
	}

	stats := eng.Stats()
	logger.Info("Submissions finished",
		zap.Uint64("completed", stats.Completed),
		zap.Uint64("failed", stats.Failed),
		zap.Uint64("timed_out", stats.TimedOut),
		zap.Uint64("compiles", stats.Cache.Compiles))

	if opts.metricsAddr != "" {
		logger.Info("Waiting for shutdown signal")
		select {
		case <-ctx.Done():
		case err := <-metricsDone:
			if err != nil {
				return err
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d submissions failed", failed, max(opts.repeat, 1))
	}
	return nil
}

func readSource(path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read script from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}

func parseInput(raw string, asBytes bool) (any, error) {
	if raw == "" {
		return nil, nil
	}
	if asBytes {
		return []byte(raw), nil
	}
	var v any
	if err := sonic.UnmarshalString(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to parse -input as JSON: %w", err)
	}
	return v, nil
}

func render(res *engine.Result) output {
	out := output{
		ExecutionID: res.ExecutionID.String(),
		Success:     res.Success,
		Value:       res.Value,
		State:       string(res.State),
		CacheHit:    res.CacheHit,
		DurationMS:  float64(res.Duration) / float64(time.Millisecond),
	}
	if res.Error != nil {
		out.Error = &outputError{Kind: string(res.ErrorKind()), Message: res.Error.Error()}
	}
	for _, entry := range res.Console {
		out.Console = append(out.Console, consoleEntry{Level: entry.Level, Message: entry.Message})
	}
	return out
}
