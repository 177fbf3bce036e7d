package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/dgallion1/docrank/internal/api"
	"github.com/dgallion1/docrank/internal/config"
	"github.com/dgallion1/docrank/internal/embedding"
	"github.com/dgallion1/docrank/internal/instruction"
	"github.com/dgallion1/docrank/internal/logger"
	"github.com/dgallion1/docrank/internal/metrics"
	"github.com/dgallion1/docrank/internal/pipeline"
)

const usage = `Usage:
  docrank run   [-config path] [-input dir] [-docs dir] [-output dir] [-workers n]
  docrank serve [-config path] [-docs dir]
`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var code int
	switch os.Args[1] {
	case "run":
		code = runBatch(os.Args[2:])
	case "serve":
		code = serve(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		code = 2
	}
	os.Exit(code)
}

// env is what both commands need before doing any work.
type env struct {
	cfg    config.Config
	log    *zap.Logger
	engine *embedding.Engine
}

// setup loads configuration, builds the logger and loads the embedding model.
// The model is loaded exactly once per process.
func setup(ctx context.Context, cfg config.Config) (*env, error) {
	log, err := logger.New(cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	metrics.Register()

	engine, err := embedding.Load(ctx, embedding.Config{
		Provider:  cfg.Model.Provider,
		Dir:       cfg.Model.Dir,
		BaseURL:   cfg.Model.BaseURL,
		Model:     cfg.Model.Name,
		APIKey:    cfg.Model.APIKey,
		Dimension: cfg.Model.Dimension,
		CacheSize: cfg.Model.CacheSize,
	}, log)
	if err != nil {
		log.Error("embedding model unavailable", zap.Error(err))
		_ = log.Sync()
		return nil, err
	}
	return &env{cfg: cfg, log: log, engine: engine}, nil
}

func runBatch(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cfgPath := fs.String("config", config.DefaultPath, "path to YAML config file")
	input := fs.String("input", "", "directory holding instruction files")
	docs := fs.String("docs", "", "directory holding referenced documents")
	output := fs.String("output", "", "directory receiving result files")
	workers := fs.Int("workers", 0, "instructions processed in parallel")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *input != "" {
		if *docs == "" && cfg.Input.DocumentDir == filepath.Join(cfg.Input.InstructionDir, "PDFs") {
			cfg.Input.DocumentDir = filepath.Join(*input, "PDFs")
		}
		cfg.Input.InstructionDir = *input
	}
	if *docs != "" {
		cfg.Input.DocumentDir = *docs
	}
	if *output != "" {
		cfg.Input.OutputDir = *output
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer e.log.Sync()

	paths, err := instruction.Discover(cfg.Input.InstructionDir, cfg.Input.Pattern)
	if err != nil {
		e.log.Error("instruction discovery failed", zap.Error(err))
		return 1
	}
	e.log.Info("starting batch",
		zap.String("input", cfg.Input.InstructionDir),
		zap.String("documents", cfg.Input.DocumentDir),
		zap.String("output", cfg.Input.OutputDir),
		zap.Int("instructions", len(paths)),
		zap.Int("workers", cfg.Workers),
	)

	runner := pipeline.NewRunner(e.engine, pipeline.OptionsFromConfig(cfg), e.log.Named("pipeline"))
	batch := pipeline.NewBatch(runner, cfg.Input.OutputDir, cfg.Workers, e.log.Named("batch"))

	sum, err := batch.Run(ctx, paths)
	if sum != nil {
		fmt.Println(renderSummary(sum))
	}
	if err != nil {
		e.log.Error("batch interrupted", zap.Error(err))
		return 1
	}
	return 0
}

func serve(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfgPath := fs.String("config", config.DefaultPath, "path to YAML config file")
	docs := fs.String("docs", "", "directory holding referenced documents")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *docs != "" {
		cfg.Input.DocumentDir = *docs
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := setup(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log := e.log
	defer log.Sync()

	// Initialize pipeline.
	runner := pipeline.NewRunner(e.engine, pipeline.OptionsFromConfig(cfg), log.Named("pipeline"))
	orch := pipeline.NewOrchestrator(runner, cfg.Workers, cfg.Server.MaxQueueSize, cfg.Server.RunTTL, log.Named("orchestrator"))
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, e.engine, log.Named("api"), cfg.Server, cfg.Input.DocumentDir)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		// Drain HTTP first so no handler submits after the queue closes.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
	}()

	log.Info("starting docrank", zap.String("port", cfg.Server.Port), zap.Bool("auth", cfg.Server.APIKey != ""))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", zap.Error(err))
		return 1
	}
	<-stopped
	return 0
}
