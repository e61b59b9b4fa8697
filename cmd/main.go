package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/robfig/cron/v3"

	"github.com/soundscape-lab/soundscape/internal/checkpoint"
	"github.com/soundscape-lab/soundscape/internal/classifier"
	"github.com/soundscape-lab/soundscape/internal/cli"
	"github.com/soundscape-lab/soundscape/internal/config"
	"github.com/soundscape-lab/soundscape/internal/errs"
	"github.com/soundscape-lab/soundscape/internal/library"
	"github.com/soundscape-lab/soundscape/internal/persistence"
	"github.com/soundscape-lab/soundscape/internal/plot"
	"github.com/soundscape-lab/soundscape/internal/report"
	"github.com/soundscape-lab/soundscape/internal/service"
	"github.com/soundscape-lab/soundscape/internal/window"
	"github.com/soundscape-lab/soundscape/pkg/log"
)

var (
	version = "0.1.0"
)

const description = "Resumable batch classifier for biotic and anthropogenic sound"

// CLI defines the command-line interface. Unset flags fall back to the
// SOUNDSCAPE_* environment.
type CLI struct {
	Version             bool    `short:"v" help:"Show version information"`
	InputDir            string  `arg:"" name:"input-dir" help:"Directory containing WAV files (can be nested)" optional:""`
	OutputDir           string  `help:"Directory where results are saved" placeholder:"DIR"`
	WindowSize          float64 `help:"Window size in seconds for aggregating predictions" placeholder:"SECONDS"`
	WindowBoundary      string  `help:"Frame assignment at window edges (inclusive, partition)" placeholder:"MODE"`
	ConfidenceThreshold string  `help:"Minimum confidence for detail rows" placeholder:"X"`
	SavePlots           string  `help:"Whether to save prediction plots (yes, no)" placeholder:"yes|no"`
	ModelsDir           string  `help:"Directory holding <model>/network_opts.yaml" type:"path" placeholder:"DIR"`
	ClassifierURL       string  `name:"classifier-url" help:"Model server endpoint" placeholder:"URL"`
	Schedule            string  `help:"Cron expression for periodic re-runs" placeholder:"CRON"`
	LogLevel            string  `help:"Log level (debug, info, warn, error)" placeholder:"LEVEL"`
	EnvFile             string  `help:"Load environment from this file" type:"path" default:".env"`
}

func (c *CLI) options() ([]config.Option, error) {
	opts := []config.Option{
		config.WithInputDir(c.InputDir),
		config.WithOutputDir(c.OutputDir),
		config.WithBoundary(c.WindowBoundary),
		config.WithModelsDir(c.ModelsDir),
		config.WithClassifierURL(c.ClassifierURL),
		config.WithSchedule(c.Schedule),
		config.WithLogLevel(c.LogLevel),
	}
	if c.WindowSize != 0 {
		opts = append(opts, config.WithWindowSize(c.WindowSize))
	}
	if c.ConfidenceThreshold != "" {
		th, err := strconv.ParseFloat(c.ConfidenceThreshold, 64)
		if err != nil {
			return nil, errs.Wrap(err, errs.ErrConfig, "invalid --confidence-threshold")
		}
		opts = append(opts, config.WithThreshold(th))
	}
	if c.SavePlots != "" {
		save, ok := config.ParseYesNo(c.SavePlots)
		if !ok {
			return nil, errs.New(errs.ErrConfig, fmt.Sprintf("invalid --save-plots %q, expected yes or no", c.SavePlots))
		}
		opts = append(opts, config.WithSavePlots(save))
	}
	return opts, nil
}

func main() {
	cliArgs := &CLI{}
	kctx := kong.Parse(cliArgs,
		kong.Name("soundscape"),
		kong.Description(description),
		kong.UsageOnError(),
		kong.Help(cli.StyledHelpPrinter(config.Environment)),
	)

	if cliArgs.Version {
		cli.PrintVersion(version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cliArgs)
	stop()
	if err != nil {
		if errs.Is(err, errs.ErrConfig) && cliArgs.InputDir == "" {
			kctx.PrintUsage(false)
		}
		exit(err)
	}
}

func exit(err error) {
	if errors.Is(err, context.Canceled) {
		cli.PrintNotice("Interrupted; rerun the same command to resume from the checkpoint.")
		os.Exit(130)
	}
	handler := errs.NewDefaultHandler()
	handler.Handle(err)
	var e *errs.Error
	advice := ""
	if errors.As(err, &e) {
		advice = handler.GetAdvice(e)
	}
	cli.PrintError(err.Error(), advice)
	os.Exit(1)
}

func run(ctx context.Context, cliArgs *CLI) error {
	if err := config.LoadDotEnv(cliArgs.EnvFile); err != nil {
		return err
	}
	opts, err := cliArgs.options()
	if err != nil {
		return err
	}
	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		return err
	}

	level := log.ParseLevel(cfg.System.LogLevel)
	log.InitLogger(level)
	if cfg.System.LogFile != "" {
		fl, err := log.NewFileLogger(cfg.System.LogFile, level)
		if err != nil {
			return errs.Wrap(err, errs.ErrFileWrite, "open log file").WithContext("path", cfg.System.LogFile)
		}
		defer fl.Close()
		log.SetLogger(fl.Logger)
	}

	if err := config.PinRunSettings(cfg.Output.Dir, cfg.RunSettings()); err != nil {
		return err
	}

	store, err := persistence.NewSQLiteStore(filepath.Join(cfg.Output.Dir, persistence.DBFileName))
	if err != nil {
		return errs.Wrap(err, errs.ErrFileWrite, "open row ledger")
	}
	defer store.Close()
	if n, err := store.MarkInterruptedRuns(ctx); err != nil {
		log.Warn("Failed to mark interrupted runs: %v", err)
	} else if n > 0 {
		log.Warn("%d earlier runs did not finish; resuming from the checkpoint", n)
	}
	logPreviousRun(ctx, store)

	pipeline, err := newPipeline(cfg, store)
	if err != nil {
		return err
	}

	summary, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}
	printSummary(cfg, summary)

	if cfg.System.CronExpr == "" {
		return nil
	}
	return schedule(ctx, cfg, pipeline)
}

func newPipeline(cfg *config.Config, store *persistence.SQLiteStore) (*service.Pipeline, error) {
	writerOpts := []report.Option{
		report.WithWindowSize(cfg.Window.Size),
		report.WithBoundary(cfg.Window.BoundaryMode()),
	}
	if cfg.Window.Threshold != nil {
		writerOpts = append(writerOpts, report.WithThreshold(*cfg.Window.Threshold))
	}
	writer, err := report.NewWriter(cfg.Output.Dir, store, writerOpts...)
	if err != nil {
		return nil, err
	}

	deps := service.Deps{
		Scanner:    library.NewScanner(cfg.Input.Dir, library.WithExtensions(cfg.Input.Extensions...)),
		Checkpoint: checkpoint.NewStore(cfg.Output.Dir),
		Report:     writer,
		Runs:       store,
		Load: func(name string) (classifier.Classifier, error) {
			return classifier.Load(cfg.Classifier.ModelsDir, name,
				classifier.WithEndpoint(cfg.Classifier.URL),
				classifier.WithTimeout(time.Duration(cfg.Classifier.Timeout)*time.Second),
			)
		},
		Timing: func(name string) (window.Params, error) {
			mc, err := classifier.LoadModelConfig(cfg.Classifier.ModelsDir, name)
			if err != nil {
				return window.Params{}, err
			}
			return window.Params{SampleRate: mc.SampleRate, HopLength: mc.HopLength}, nil
		},
	}
	if cfg.Output.SavePlots {
		deps.Plotter = plot.NewRenderer(cfg.Output.Dir)
	}
	return service.NewPipeline(deps)
}

func schedule(ctx context.Context, cfg *config.Config, pipeline *service.Pipeline) error {
	c := cron.New()
	s := service.NewScheduler(pipeline, c, cfg.System.CronExpr)
	s.OnRunComplete(func(summary *service.RunSummary, err error) {
		if err == nil {
			printSummary(cfg, summary)
		}
	})
	if err := s.Schedule(ctx); err != nil {
		return errs.Wrap(err, errs.ErrConfig, "schedule runs")
	}

	c.Start()
	<-ctx.Done()
	log.Info("Stopping scheduler after %d scheduled runs", s.Runs())
	<-c.Stop().Done()
	if last := s.LastSummary(); last != nil {
		log.Info("Last scheduled run: %s", last)
	}
	return nil
}

func logPreviousRun(ctx context.Context, store *persistence.SQLiteStore) {
	runs, err := store.LoadRuns(ctx)
	if err != nil {
		log.Warn("Failed to load run history: %v", err)
		return
	}
	if len(runs) == 0 {
		return
	}
	prev := runs[len(runs)-1]
	log.Info("Previous run %s started %s: %s, %d classified, %d failed",
		prev.ID, prev.StartedAt.Local().Format(time.DateTime), prev.Status, prev.Classified, prev.Failed)
}

func printSummary(cfg *config.Config, s *service.RunSummary) {
	if s.Files == 0 {
		cli.PrintNotice(fmt.Sprintf("No WAV files found in %s.", cfg.Input.Dir))
		return
	}
	fields := []cli.Field{
		{Key: "Run", Value: s.Run},
		{Key: "Files", Value: strconv.Itoa(s.Files)},
	}
	for _, model := range classifier.Models {
		fields = append(fields, cli.Field{Key: "Classified (" + model + ")", Value: strconv.Itoa(s.Classified[model])})
	}
	fields = append(fields,
		cli.Field{Key: "Already done", Value: strconv.Itoa(s.Skipped)},
		cli.Field{Key: "Failed", Value: strconv.Itoa(s.Failed)},
		cli.Field{Key: "Summary rows", Value: strconv.Itoa(s.SummaryRows)},
		cli.Field{Key: "Detail rows", Value: strconv.Itoa(s.DetailRows)},
		cli.Field{Key: "Results", Value: cfg.Output.Dir},
	)
	if cfg.Output.SavePlots {
		fields = append(fields, cli.Field{Key: "Plots", Value: strconv.Itoa(s.Plots)})
	}
	cli.PrintSummary(os.Stdout, "Done!", fields)
}
