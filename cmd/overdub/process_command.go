package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"overdub/internal/logging"
	"overdub/internal/pipeline"
)

type processFlags struct {
	mode     string
	target   string
	language string
	output   string
	srt      bool
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var flags processFlags

	cmd := &cobra.Command{
		Use:   "process <video>",
		Short: "Caption, translate, or dub a single video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := pipeline.ParseMode(flags.mode)
			if err != nil {
				return err
			}
			source, err := filepath.Abs(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve source: %w", err)
			}
			if info, err := os.Stat(source); err != nil {
				return fmt.Errorf("source: %w", err)
			} else if info.IsDir() {
				return fmt.Errorf("source %s is a directory", source)
			}
			return runProcess(cmd, ctx, source, mode, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.mode, "mode", "m", string(pipeline.ModeSubtitle), "Processing mode: subtitle, translate, or dub")
	cmd.Flags().StringVarP(&flags.target, "target", "t", "", "Target language for translate and dub modes")
	cmd.Flags().StringVarP(&flags.language, "language", "l", "", "Spoken language of the source (default: auto-detect)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output video path")
	cmd.Flags().BoolVar(&flags.srt, "srt", false, "Also write the transcript as an .srt sidecar")
	return cmd
}

func runProcess(cmd *cobra.Command, cc *commandContext, source string, mode pipeline.Mode, flags processFlags) error {
	ctx := cmd.Context()
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	interactive := isTerminal(cmd.ErrOrStderr())
	logger, err := cc.logger(interactive)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := cc.openHistory(ctx)
	if err != nil {
		return err
	}
	var recorder pipeline.Recorder
	if store != nil {
		defer store.Close()
		recorder = store
	}

	controller, err := pipeline.NewFromConfig(ctx, cfg, logger, recorder)
	if err != nil {
		return err
	}
	defer controller.Close()

	output := strings.TrimSpace(flags.output)
	if output != "" {
		if output, err = filepath.Abs(output); err != nil {
			return fmt.Errorf("resolve output: %w", err)
		}
	}
	id, err := controller.Start(ctx, pipeline.Input{Path: source, Name: filepath.Base(source)}, mode, pipeline.StartOptions{
		Target:     flags.target,
		Language:   flags.language,
		OutputPath: output,
		ExportSRT:  flags.srt,
	})
	if err != nil {
		return err
	}
	updates, unsubscribe, err := controller.Subscribe(id)
	if err != nil {
		return err
	}
	defer unsubscribe()

	var reporter progressReporter
	if interactive {
		reporter = newBarReporter(cmd.ErrOrStderr(), filepath.Base(source))
	} else {
		reporter = newLogReporter(logger)
	}
	final := watchRun(ctx, updates, func() { _ = controller.Cancel(id) }, reporter)
	return summarizeRun(cmd.OutOrStdout(), final)
}

// progressReporter renders run snapshots for the terminal.
type progressReporter interface {
	Update(snap pipeline.Snapshot)
	Finish(snap pipeline.Snapshot)
}

// watchRun consumes snapshots until the run is terminal. Cancelling ctx asks
// the run to stop once; the loop still waits for the terminal snapshot.
func watchRun(ctx context.Context, updates <-chan pipeline.Snapshot, cancel func(), reporter progressReporter) pipeline.Snapshot {
	var last pipeline.Snapshot
	done := ctx.Done()
	for {
		select {
		case <-done:
			cancel()
			done = nil
		case snap, ok := <-updates:
			if !ok {
				reporter.Finish(last)
				return last
			}
			last = snap
			reporter.Update(snap)
		}
	}
}

func summarizeRun(out io.Writer, snap pipeline.Snapshot) error {
	switch snap.State {
	case pipeline.StateCompleted:
		if snap.Output == nil {
			return errors.New("run completed without output")
		}
		fmt.Fprintf(out, "Wrote %s (%s, %d frames, %s)\n",
			snap.Output.Path,
			humanize.Bytes(uint64(max(snap.Output.SizeBytes, 0))),
			snap.Output.Frames,
			snap.FinishedAt.Sub(snap.StartedAt).Round(time.Second),
		)
		if snap.Output.SRTPath != "" {
			fmt.Fprintf(out, "Subtitles: %s\n", snap.Output.SRTPath)
		}
		for _, warning := range snap.Warnings {
			fmt.Fprintf(out, "Warning: %s\n", warning)
		}
		return nil
	case pipeline.StateCancelled:
		return context.Canceled
	default:
		if snap.ErrorMessage == "" {
			return fmt.Errorf("run %s ended in state %s", snap.ID, snap.State)
		}
		return fmt.Errorf("%s error: %s", snap.ErrorKind, snap.ErrorMessage)
	}
}

type barReporter struct {
	bar   *progressbar.ProgressBar
	stage string
}

func newBarReporter(w io.Writer, name string) *barReporter {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(name),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &barReporter{bar: bar}
}

func (r *barReporter) Update(snap pipeline.Snapshot) {
	if snap.Stage != r.stage {
		r.stage = snap.Stage
		r.bar.Describe(snap.Stage)
	}
	_ = r.bar.Set(snap.Progress)
}

func (r *barReporter) Finish(snap pipeline.Snapshot) {
	if snap.State == pipeline.StateCompleted {
		_ = r.bar.Finish()
		return
	}
	_ = r.bar.Exit()
}

// logReporter emits a structured line per stage change and per ten percent.
type logReporter struct {
	logger  *slog.Logger
	sampler *logging.ProgressSampler
}

func newLogReporter(logger *slog.Logger) *logReporter {
	return &logReporter{logger: logger, sampler: logging.NewProgressSampler(10)}
}

func (r *logReporter) Update(snap pipeline.Snapshot) {
	if !r.sampler.ShouldLog(float64(snap.Progress), snap.Stage) {
		return
	}
	r.logger.Info("run progress",
		logging.String(logging.FieldEventType, "run_progress"),
		logging.String(logging.FieldRunID, snap.ID),
		logging.String(logging.FieldStage, snap.Stage),
		logging.Int(logging.FieldProgressPercent, snap.Progress),
	)
}

func (r *logReporter) Finish(snap pipeline.Snapshot) {
	r.logger.Info("run finished",
		logging.String(logging.FieldEventType, "run_finished"),
		logging.String(logging.FieldRunID, snap.ID),
		logging.String("state", string(snap.State)),
	)
}
