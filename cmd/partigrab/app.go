package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"partigrab/internal/adapters/ffmpeg"
	"partigrab/internal/adapters/hls"
	"partigrab/internal/adapters/localstorage"
	"partigrab/internal/adapters/parti"
	"partigrab/internal/config"
	"partigrab/internal/core/domain"
	"partigrab/internal/httpclient"
	"partigrab/internal/metrics"
	"partigrab/internal/service"
	"partigrab/internal/tui"
)

const defaultLogName = "partigrab.log"

func newApp() *cli.App {
	return &cli.App{
		Name:  "partigrab",
		Usage: "download recorded Parti livestreams",
		Description: "Resolves a recording's HLS playlists, downloads every segment into one .ts file " +
			"and optionally converts it with ffmpeg. Settings are read from PARTIGRAB_* environment " +
			"variables (or a .env file); flags override them.",
		Commands: []*cli.Command{{
			Name:      "get",
			Usage:     "download a single recording",
			ArgsUsage: "<video-url>",
			Flags:     commonFlags(),
			Action: func(c *cli.Context) error {
				url := c.Args().First()
				if url == "" || c.Args().Len() > 1 {
					return cli.Exit("usage: partigrab get [flags] <video-url>", 2)
				}
				return withSession(c, func(s *session) error {
					return s.single(c.Context, url)
				})
			},
		}, {
			Name:      "batch",
			Usage:     "download every recording listed in a text file, one URL per line",
			ArgsUsage: "<file>",
			Flags:     commonFlags(),
			Action: func(c *cli.Context) error {
				path := c.Args().First()
				if path == "" || c.Args().Len() > 1 {
					return cli.Exit("usage: partigrab batch [flags] <file>", 2)
				}
				urls, err := service.LoadBatchFile(path)
				if err != nil {
					return err
				}
				if len(urls) == 0 {
					return cli.Exit(fmt.Sprintf("no URLs found in %s", path), 1)
				}
				return withSession(c, func(s *session) error {
					return s.batch(c.Context, urls)
				})
			},
		}},
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   fmt.Sprintf("output format, one of %v", domain.Formats),
		},
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Usage:   "output directory (default: working directory)",
		},
		&cli.BoolFlag{
			Name:  "plain",
			Usage: "print status lines instead of the interactive progress view",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "serve Prometheus metrics on this address, e.g. :9108",
		},
		&cli.BoolFlag{
			Name:  "save-metadata",
			Usage: "write the raw API response next to the download",
		},
		&cli.StringFlag{
			Name:  "ffmpeg",
			Usage: "path to an ffmpeg binary (skips lookup and download)",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Value: true,
			Usage: "write the job log (to stdout with --plain, otherwise to a log file)",
		},
	}
}

// applyFlags copies explicitly set flags over the environment config.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("format") {
		cfg.Format = c.String("format")
	}
	if c.IsSet("out") {
		cfg.OutputDir = c.String("out")
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}
	if c.IsSet("save-metadata") {
		cfg.SaveMetadata = c.Bool("save-metadata")
	}
	if c.IsSet("ffmpeg") {
		cfg.FFmpegPath = c.String("ffmpeg")
	}
}

type session struct {
	cfg       *config.Config
	logger    *log.Logger
	scheduler *service.Scheduler
	plain     bool
	out       io.Writer
}

func withSession(c *cli.Context, fn func(s *session) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), 2)
	}

	plain := c.Bool("plain") || !isatty.IsTerminal(os.Stdout.Fd())
	logger, closeLog, err := newLogger(cfg, plain, c.Bool("verbose"))
	if err != nil {
		return err
	}
	defer closeLog()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	orch, err := buildOrchestrator(cfg, metrics.New(reg), logger)
	if err != nil {
		return err
	}
	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer stop()
	}

	return fn(&session{
		cfg:       cfg,
		logger:    logger,
		scheduler: service.NewScheduler(orch, logger),
		plain:     plain,
		out:       os.Stdout,
	})
}

// newLogger picks the job log destination. The interactive view owns the
// terminal, so its log goes to a file.
func newLogger(cfg *config.Config, plain, verbose bool) (*log.Logger, func(), error) {
	noop := func() {}
	if !verbose {
		return log.New(io.Discard, "", 0), noop, nil
	}
	if plain {
		return log.New(os.Stdout, "", log.LstdFlags), noop, nil
	}

	path := cfg.LogFile
	if path == "" {
		path = filepath.Join(cfg.OutputDir, defaultLogName)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return log.New(f, "", log.LstdFlags), func() { _ = f.Close() }, nil
}

func buildOrchestrator(cfg *config.Config, m *metrics.Metrics, logger *log.Logger) (*service.Orchestrator, error) {
	client := httpclient.New(cfg.HTTPTimeout, cfg.UserAgent)

	playlists, err := hls.NewResolver(client, cfg.WatchBaseURL, logger)
	if err != nil {
		return nil, err
	}

	var bin ffmpeg.PathResolver = ffmpeg.NewProvisioner(client, cfg.FFmpegCache, logger)
	if cfg.FFmpegPath != "" {
		bin = ffmpeg.StaticPath(cfg.FFmpegPath)
	}

	orch := service.NewOrchestrator(
		parti.NewClient(client, cfg.APIBaseURL, logger),
		playlists,
		hls.NewFetcher(client, m),
		localstorage.NewLocalStorage(cfg.OutputDir),
		ffmpeg.NewTranscoder(bin, logger),
		m,
		logger,
	)
	orch.SaveMetadata = cfg.SaveMetadata
	return orch, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *log.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Printf("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("[ERROR] metrics server: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// watchSignals aborts on the first SIGINT/SIGTERM and cancels ctx on the
// second, which also drops the request in flight.
func watchSignals(cancel context.CancelFunc, abort func(), logger *log.Logger) func() {
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	stop := make(chan struct{})

	go func() {
		select {
		case <-sig:
		case <-stop:
			return
		}
		logger.Println("Received interrupt signal, stopping after the current segment...")
		abort()
		select {
		case <-sig:
			logger.Println("Received second interrupt signal, cancelling...")
			cancel()
		case <-stop:
		}
	}()
	return func() {
		signal.Stop(sig)
		close(stop)
	}
}

func (s *session) single(parent context.Context, url string) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	req := domain.AcquisitionRequest{SourceURL: url, Format: s.cfg.OutputFormat(), OutputDir: s.cfg.OutputDir}
	run := s.scheduler.RunSingle(ctx, req)
	stop := watchSignals(cancel, run.Abort, s.logger)
	defer stop()

	rows := []tui.Row{{Label: url, State: run.State()}}
	if err := s.present("partigrab", rows, run.Abort, run.Done(), cancel); err != nil {
		return err
	}

	result, err := run.Wait()
	printSummary(s.out, []*domain.JobResult{result})
	if err != nil {
		return cli.Exit("", 1)
	}
	return nil
}

func (s *session) batch(parent context.Context, urls []string) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	reqs := service.Requests(urls, s.cfg.OutputFormat(), s.cfg.OutputDir)
	batch := s.scheduler.RunBatch(ctx, reqs)
	stop := watchSignals(cancel, batch.Abort, s.logger)
	defer stop()

	rows := make([]tui.Row, len(batch.Jobs))
	for i, job := range batch.Jobs {
		rows[i] = tui.Row{Label: job.Request.SourceURL, State: job.State}
	}
	title := fmt.Sprintf("partigrab batch (%d)", len(rows))
	if err := s.present(title, rows, batch.Abort, batch.Done(), cancel); err != nil {
		return err
	}

	results := batch.Wait()
	printSummary(s.out, results)
	for _, r := range results {
		if r == nil || (!r.Success && !r.Aborted) {
			return cli.Exit("", 1)
		}
	}
	return nil
}

// present shows progress until done is closed or the user leaves the
// interactive view.
func (s *session) present(title string, rows []tui.Row, abort func(), done <-chan struct{}, cancel context.CancelFunc) error {
	if s.plain {
		pollPlain(s.out, rows, done, tui.DefaultInterval*3)
		return nil
	}
	completed, err := tui.Run(title, rows, abort)
	if err != nil {
		abort()
		cancel()
		return fmt.Errorf("progress view: %w", err)
	}
	leaveView(completed, done, cancel)
	return nil
}

// leaveView cancels ctx only when the user quit before every job finished;
// a completed view may still have a conversion winding down.
func leaveView(completed bool, done <-chan struct{}, cancel context.CancelFunc) {
	if completed {
		return
	}
	select {
	case <-done:
	default:
		cancel()
	}
}
