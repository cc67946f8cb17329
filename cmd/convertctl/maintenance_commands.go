package main

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"convertd/internal/artifact"
	"convertd/internal/logging"
	"convertd/internal/queue"
	"convertd/internal/reaper"
)

func newArtifactsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List stored conversion results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := artifact.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			records, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			sort.Slice(records, func(i, j int) bool {
				return records[i].CreatedAt.Before(records[j].CreatedAt)
			})

			if jsonOut {
				return writeJSON(cmd, artifactViews(records, cfg.ArtifactTTL(), time.Now()))
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No artifacts stored")
				return nil
			}
			var total int64
			rows := make([][]string, 0, len(records))
			for _, v := range artifactViews(records, cfg.ArtifactTTL(), time.Now()) {
				total += v.Size
				rows = append(rows, []string{
					v.JobID,
					v.File,
					strconv.FormatInt(v.Size, 10),
					v.Age,
					v.ExpiresIn,
				})
			}
			fmt.Fprintln(out, tableSpec{
				headers: []string{"Job", "File", "Bytes", "Age", "Expires"},
				rows:    rows,
				aligns:  []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
				footer:  []string{"", strconv.Itoa(len(rows)) + " file(s)", strconv.FormatInt(total, 10)},
			}.render())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

type artifactView struct {
	JobID     string    `json:"job_id"`
	File      string    `json:"file"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Age       string    `json:"age"`
	ExpiresIn string    `json:"expires_in"`
}

func artifactViews(records []artifact.Record, ttl time.Duration, now time.Time) []artifactView {
	views := make([]artifactView, 0, len(records))
	for _, rec := range records {
		age := now.Sub(rec.CreatedAt)
		expires := "expired"
		if left := ttl - age; left > 0 {
			expires = left.Round(time.Second).String()
		}
		views = append(views, artifactView{
			JobID:     rec.JobID,
			File:      rec.StoredName,
			Size:      rec.Size,
			CreatedAt: rec.CreatedAt,
			Age:       age.Round(time.Second).String(),
			ExpiresIn: expires,
		})
	}
	return views
}

func newReapCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Run one artifact eviction pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			store, err := artifact.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			logger := cliLogger()

			var opts []reaper.Option
			backend, err := queue.Open(cmd.Context(), cfg)
			if err != nil {
				logger.Warn("queue unavailable; finished jobs will not be pruned", logging.Error(err))
			} else {
				defer backend.Close()
				if pruner, ok := backend.(queue.Pruner); ok {
					opts = append(opts, reaper.WithPruner(pruner))
				}
			}

			r, err := reaper.New(cfg, store, logger, opts...)
			if err != nil {
				return err
			}
			result := r.RunOnce(cmd.Context())

			out := cmd.OutOrStdout()
			if result.Skipped {
				fmt.Fprintln(out, "Another reaper pass is running; nothing done")
				return nil
			}
			fmt.Fprintf(out, "Removed %d expired artifact(s) older than %s\n", len(result.Removed), r.TTL())
			if result.Pruned > 0 {
				fmt.Fprintf(out, "Pruned %d finished job record(s)\n", result.Pruned)
			}
			if result.Debris > 0 {
				fmt.Fprintf(out, "Swept %d leftover temp file(s) and empty job folder(s)\n", result.Debris)
			}
			for _, ce := range result.Errors {
				name := ce.StoredName
				if name == "" {
					name = "(listing)"
				}
				fmt.Fprintf(out, "  %s: %v\n", name, ce.Err)
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d artifact(s) could not be removed", len(result.Errors))
			}
			return nil
		},
	}
	return cmd
}

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the job queue",
	}
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	return queueCmd
}

var statusOrder = []queue.Status{
	queue.StatusPending,
	queue.StatusStarted,
	queue.StatusProgress,
	queue.StatusSuccess,
	queue.StatusFailure,
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			backend, err := queue.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			stats, err := backend.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, stats)
			}
			rows := make([][]string, 0, len(statusOrder))
			for _, status := range statusOrder {
				rows = append(rows, []string{string(status), strconv.Itoa(stats[status])})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tableSpec{
				headers: []string{"Status", "Jobs"},
				rows:    rows,
				aligns:  []columnAlignment{alignLeft, alignRight},
			}.render())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

// cliLogger keeps library warnings on stderr so command output stays clean.
func cliLogger() *slog.Logger {
	logger, err := logging.New(logging.Options{
		Level:       "warn",
		Format:      "console",
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}
