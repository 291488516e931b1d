package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/coderecall/internal/chunk"
	"github.com/Aman-CERP/coderecall/internal/config"
	"github.com/Aman-CERP/coderecall/internal/embed"
	"github.com/Aman-CERP/coderecall/internal/health"
	"github.com/Aman-CERP/coderecall/internal/index"
	"github.com/Aman-CERP/coderecall/internal/lock"
	"github.com/Aman-CERP/coderecall/internal/logging"
	"github.com/Aman-CERP/coderecall/internal/output"
	"github.com/Aman-CERP/coderecall/internal/scanner"
	"github.com/Aman-CERP/coderecall/internal/search"
	"github.com/Aman-CERP/coderecall/internal/state"
	"github.com/Aman-CERP/coderecall/internal/store"
	"github.com/Aman-CERP/coderecall/internal/telemetry"
	"github.com/Aman-CERP/coderecall/pkg/version"
)

// logMode selects where an invocation's logs go.
type logMode int

const (
	// logCLI writes to the log file, mirrored to stderr with --debug.
	logCLI logMode = iota
	// logServer writes to the log file only; stdout carries JSON-RPC.
	logServer
)

// app is the fully wired service graph for one CLI invocation.
type app struct {
	root     string
	cfg      *config.Config
	scanner  *scanner.Scanner
	embedder *embed.BatchEmbedder
	vectors  store.VectorStore
	states   state.Store
	orch     *index.Orchestrator
	engine   *search.Engine
	monitor  *health.Monitor
	tracing  *telemetry.Provider

	closers []func() error
}

// resolveRoot returns the absolute repository directory named by args,
// defaulting to the working directory.
func resolveRoot(args []string) (string, error) {
	path := "."
	if len(args) > 0 && args[0] != "" {
		path = args[0]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("repository path %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("repository path %s is not a directory", abs)
	}
	return abs, nil
}

// loadConfig loads the layered configuration for root.
func (o *rootOptions) loadConfig(root string) (*config.Config, error) {
	return config.LoadFile(root, o.configPath)
}

// loggingConfig merges the configured logging section with the flags.
func (o *rootOptions) loggingConfig(cfg config.LoggingConfig, mode logMode) logging.Config {
	lc := logging.DefaultConfig()
	if cfg.Level != "" {
		lc.Level = cfg.Level
	}
	if cfg.File != "" {
		lc.FilePath = cfg.File
	}
	if cfg.MaxSizeMB > 0 {
		lc.MaxSizeMB = cfg.MaxSizeMB
	}
	if cfg.MaxFiles > 0 {
		lc.MaxFiles = cfg.MaxFiles
	}
	if o.logLevel != "" {
		lc.Level = o.logLevel
	}
	if o.debug {
		lc.Level = "debug"
		lc.WriteToStderr = mode == logCLI
	}
	return lc
}

// newApp loads configuration for root, installs logging and tracing, and
// opens every backend. Callers must Close the app.
func (o *rootOptions) newApp(ctx context.Context, root string, mode logMode) (*app, error) {
	cfg, err := o.loadConfig(root)
	if err != nil {
		return nil, err
	}

	a := &app{root: root, cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	lc := o.loggingConfig(cfg.Logging, mode)
	var cleanup func()
	if mode == logServer {
		cleanup, err = logging.SetupServerMode(lc)
	} else {
		cleanup, err = logging.SetupDefault(lc)
	}
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { cleanup(); return nil })

	a.tracing, err = telemetry.Setup(ctx, cfg.Tracing, version.Short())
	if err != nil {
		return nil, fmt.Errorf("failed to setup tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.tracing.Shutdown(shutdownCtx)
	})

	a.scanner, err = scanner.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}

	a.embedder, err = embed.New(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		slog.Debug("embedder_summary",
			slog.String("model", a.embedder.ModelName()),
			slog.Int64("provider_calls", a.embedder.Calls()),
			slog.Int64("fallback_vectors", a.embedder.Fallbacks()))
		return nil
	})

	a.vectors, err = store.New(cfg.VectorStore)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return errors.Join(a.vectors.Flush(flushCtx), a.vectors.Close())
	})

	a.states, err = state.New(cfg.State)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.states.Close)

	locker, err := lock.New(cfg.Lock, cfg.LockDir())
	if err != nil {
		return nil, err
	}

	a.orch, err = index.NewOrchestrator(index.ConfigFrom(cfg), index.Dependencies{
		Scanner:  a.scanner,
		Splitter: chunk.NewSplitter(cfg.Indexing.WindowLines, cfg.Indexing.OverlapLines),
		Embedder: a.embedder,
		Vectors:  a.vectors,
		States:   a.states,
		Locker:   locker,
	})
	if err != nil {
		return nil, err
	}

	a.engine, err = search.NewEngine(a.embedder, a.vectors, search.EngineConfigFrom(cfg),
		search.WithQueryInstruction(cfg.Search.QueryInstruction))
	if err != nil {
		return nil, err
	}

	a.monitor = health.New(
		health.WithTimeout(cfg.Health.ProbeTimeout),
		health.WithProbes(
			health.EmbedderProbe(a.embedder),
			health.VectorStoreProbe(a.vectors, cfg.VectorStore.Collection, a.embedder.Dimensions()),
			health.StateStoreProbe(a.states),
			health.DiskProbe(cfg.DataDir),
			health.FileDescriptorProbe(),
		),
	)

	slog.Debug("app_ready",
		slog.String("root", root),
		slog.String("embedder", a.embedder.ModelName()),
		slog.String("vector_store", cfg.VectorStore.Backend),
		slog.String("state_store", cfg.State.Backend),
		slog.String("lock", cfg.Lock.Backend))

	ok = true
	return a, nil
}

// Close releases backends in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// writer builds the CLI output writer for w.
func (o *rootOptions) writer(w io.Writer) *output.Writer {
	if o.noColor {
		return output.New(w, output.WithColor(false))
	}
	return output.New(w)
}
