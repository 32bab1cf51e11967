package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/maauso/audiosplicer/internal/job"
	"github.com/maauso/audiosplicer/internal/library"
)

type durationsOptions struct {
	dir           string
	recursive     bool
	countdown     string
	autoCountdown bool
}

func newDurationsCommand(ctx *commandContext) *cobra.Command {
	var opts durationsOptions

	cmd := &cobra.Command{
		Use:   "durations [files...]",
		Short: "Show track durations and the estimated splice length",
		RunE: func(cmd *cobra.Command, args []string) error {
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
				return errors.New("no audio files to measure")
			}

			deps, err := ctx.dependencies(cmd.Context())
			if err != nil {
				return err
			}
			svc := deps.SpliceService

			seconds := svc.Durations(cmd.Context(), files, nil)
			rows := make([][]string, 0, len(files))
			var total float64
			for i, f := range files {
				total += seconds[i]
				rows = append(rows, []string{
					filepath.Base(f),
					job.FormatDuration(seconds[i]),
					strconv.FormatFloat(seconds[i], 'f', 2, 64),
				})
			}
			footer := []string{
				fmt.Sprintf("Total (%d files)", len(files)),
				job.FormatDuration(total),
				strconv.FormatFloat(total, 'f', 2, 64),
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"File", "Duration", "Seconds"},
				rows,
				footer,
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))

			if countdown != "" {
				estimate := svc.Estimate(cmd.Context(), files, countdown)
				fmt.Fprintf(out, "Estimated length with countdown %s: %s\n",
					filepath.Base(countdown), job.FormatDuration(estimate))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.dir, "dir", "d", "", "Directory to collect audio files from")
	flags.BoolVarP(&opts.recursive, "recursive", "r", false, "Include subdirectories of --dir")
	flags.StringVar(&opts.countdown, "countdown", "", "Countdown file played between tracks")
	flags.BoolVar(&opts.autoCountdown, "auto-countdown", false, "Use the countdown file found in --dir")

	return cmd
}
