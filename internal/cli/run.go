package cli

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/maauso/bulk-audio-normalizer/internal/job"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		concurrency int
		publish     bool
	)

	cmd := &cobra.Command{
		Use:   "run <input-dir> <output-dir>",
		Short: "Normalize every WAV file under a directory",
		Long: `Normalize every WAV file found under input-dir and write the results to
output-dir, mirroring the relative paths. Press Ctrl-C to stop: running
ffmpeg processes are killed and the files already rendered are kept.

Example:
  ban run ./takes ./normalized
  ban run ./takes ./normalized --mode peak --peak-target -1
  ban run ./takes ./normalized --trim --trim-threshold -45 --bit-depth 24`,
		Args: cobra.ExactArgs(2),
	}
	sf := bindSettingsFlags(cmd)
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "files processed in parallel (0 uses CONCURRENCY or the CPU default)")
	cmd.Flags().BoolVar(&publish, "publish", false, "upload rendered files to the configured S3 bucket")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		st, err := sf.Settings()
		if err != nil {
			return err
		}
		deps, err := a.dependencies(cmd.Context())
		if err != nil {
			return err
		}

		req := job.BatchRequest{
			InputDir:    filepath.Clean(args[0]),
			OutputDir:   filepath.Clean(args[1]),
			Settings:    st,
			Concurrency: concurrency,
			Publish:     publish,
		}
		return a.execute(cmd, deps, st.Verbose, func(ctx context.Context) (*job.Summary, error) {
			return deps.Service.RunBatch(ctx, req)
		})
	}
	return cmd
}

func newPreviewCmd(a *app) *cobra.Command {
	var (
		sample      int
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "preview <input-dir>",
		Short: "Render a random sample into a temporary directory",
		Long: `Pick a random sample of WAV files under input-dir and render them with the
given settings into a fresh temporary directory, so the result can be
auditioned before running the whole batch.`,
		Args: cobra.ExactArgs(1),
	}
	sf := bindSettingsFlags(cmd)
	cmd.Flags().IntVarP(&sample, "sample", "n", 5, "number of files to render (1-50)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "files processed in parallel (0 uses PREVIEW_CONCURRENCY)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		st, err := sf.Settings()
		if err != nil {
			return err
		}
		deps, err := a.dependencies(cmd.Context())
		if err != nil {
			return err
		}

		req := job.PreviewRequest{
			InputDir:    filepath.Clean(args[0]),
			Settings:    st,
			SampleSize:  sample,
			Concurrency: concurrency,
		}
		return a.execute(cmd, deps, st.Verbose, func(ctx context.Context) (*job.Summary, error) {
			return deps.Service.RunPreview(ctx, req)
		})
	}
	return cmd
}
