package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/maauso/audiosplicer/internal/job"
	"github.com/maauso/audiosplicer/internal/library"
	"github.com/maauso/audiosplicer/internal/progress"
)

type spliceOptions struct {
	dir           string
	recursive     bool
	mode          string
	countdown     string
	autoCountdown bool
	format        string
	name          string
	pushToS3      bool
	quiet         bool
}

func newSpliceCommand(ctx *commandContext) *cobra.Command {
	var opts spliceOptions

	cmd := &cobra.Command{
		Use:   "splice [files...]",
		Short: "Splice audio files into one output file",
		Long: `Splice decodes every input file, places the countdown track between
consecutive tracks and exports the result together with a playlist.

Files may be listed as arguments or collected from --dir.`,
		Example: `  splicer splice --dir ./songs --auto-countdown
  splicer splice a.mp3 b.mp3 --mode sequential --format wav --name mix`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSplice(cmd, ctx, args, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.dir, "dir", "d", "", "Directory to collect audio files from")
	flags.BoolVarP(&opts.recursive, "recursive", "r", false, "Include subdirectories of --dir")
	flags.StringVarP(&opts.mode, "mode", "m", library.OrderRandom, "Track order: random or sequential")
	flags.StringVar(&opts.countdown, "countdown", "", "Countdown file played between tracks")
	flags.BoolVar(&opts.autoCountdown, "auto-countdown", false, "Use the countdown file found in --dir")
	flags.StringVarP(&opts.format, "format", "f", "", "Output format (default from OUTPUT_FORMAT)")
	flags.StringVarP(&opts.name, "name", "n", job.DefaultOutputName, "Output file name without extension")
	flags.BoolVar(&opts.pushToS3, "s3", false, "Upload the output and playlist to S3")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Hide the progress bar")

	return cmd
}

func runSplice(cmd *cobra.Command, ctx *commandContext, args []string, opts spliceOptions) error {
	files, countdown, err := library.Selection{
		Files:         args,
		Directory:     opts.dir,
		Recursive:     opts.recursive,
		Countdown:     opts.countdown,
		AutoCountdown: opts.autoCountdown,
	}.Resolve()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no audio files to splice")
	}

	deps, err := ctx.dependencies(cmd.Context())
	if err != nil {
		return err
	}

	var reporter progress.Reporter = progress.Funcs{OnStatus: func(msg string) {
		ctx.logger.Debug("splice", slog.String("message", msg))
	}}
	var bar *progressbar.ProgressBar
	if !opts.quiet {
		bar = newProgressBar(cmd.ErrOrStderr(), "Splicing")
		reporter = barReporter{bar: bar, logger: ctx.logger}
	}

	final, res, err := deps.SpliceService.Splice(cmd.Context(), job.SpliceInput{
		Files:      files,
		Mode:       opts.mode,
		Countdown:  countdown,
		Format:     opts.format,
		OutputName: opts.name,
		PushToS3:   opts.pushToS3,
	}, reporter)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if saveErr := deps.SpliceService.SaveDurations(); saveErr != nil {
		ctx.logger.Warn("failed to save duration cache", slog.String("error", saveErr.Error()))
	}
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.Message)
	}

	printSpliceSummary(cmd.OutOrStdout(), final)
	return nil
}

func printSpliceSummary(w io.Writer, j *job.Job) {
	size := "unknown"
	if info, err := os.Stat(j.OutputPath); err == nil {
		size = humanize.Bytes(uint64(info.Size())) // #nosec G115 - file sizes are non-negative
	}

	fmt.Fprintf(w, "Spliced %d of %d tracks\n", j.LoadedCount(), len(j.Tracks))
	fmt.Fprintf(w, "Duration: %s\n", job.FormatDuration(j.TotalDuration))
	fmt.Fprintf(w, "Output:   %s (%s)\n", j.OutputPath, size)
	if j.PlaylistPath != "" {
		fmt.Fprintf(w, "Playlist: %s\n", j.PlaylistPath)
	}
	if j.OutputURL != "" {
		fmt.Fprintf(w, "Output URL:   %s\n", j.OutputURL)
	}
	if j.PlaylistURL != "" {
		fmt.Fprintf(w, "Playlist URL: %s\n", j.PlaylistURL)
	}
}

func newProgressBar(w io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)
}

// barReporter drives a progress bar. The splice service serialises its
// updates, so the bar is never touched concurrently.
type barReporter struct {
	bar    *progressbar.ProgressBar
	logger *slog.Logger
}

func (b barReporter) Progress(percent int) {
	_ = b.bar.Set(percent)
}

func (b barReporter) Status(message string) {
	b.bar.Describe(message)
	b.logger.Debug("splice", slog.String("message", message))
}
