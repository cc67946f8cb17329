package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"convertd/internal/api"
	"convertd/internal/apiclient"
	"convertd/internal/fileutil"
)

// optionFlags are the conversion options forwarded as form fields. Only
// flags the user set are sent so server defaults still apply.
type optionFlags struct {
	quality, sampleRate, channels, crf, fps, dpi int
	codec, bitrate, preset, profile              string
	removeMetadata, optimize                     bool
}

func (o *optionFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&o.quality, "quality", 0, "Image/audio quality")
	fs.IntVar(&o.sampleRate, "sample-rate", 0, "Audio sample rate in Hz")
	fs.IntVar(&o.channels, "channels", 0, "Audio channel count")
	fs.IntVar(&o.crf, "crf", 0, "Video constant rate factor")
	fs.IntVar(&o.fps, "fps", 0, "Video frame rate")
	fs.IntVar(&o.dpi, "dpi", 0, "Document rasterization DPI")
	fs.StringVar(&o.codec, "codec", "", "Audio or video codec")
	fs.StringVar(&o.bitrate, "bitrate", "", "Audio or video bitrate (e.g. 192k)")
	fs.StringVar(&o.preset, "preset", "", "Video encoder preset")
	fs.StringVar(&o.profile, "profile", "", "Video encoder profile")
	fs.BoolVar(&o.removeMetadata, "remove-metadata", false, "Strip metadata from the output")
	fs.BoolVar(&o.optimize, "optimize", false, "Optimize output size")
}

func (o *optionFlags) fields(fs *pflag.FlagSet) map[string]string {
	out := map[string]string{}
	ints := map[string]struct {
		field string
		value int
	}{
		"quality":     {"quality", o.quality},
		"sample-rate": {"sample_rate", o.sampleRate},
		"channels":    {"channels", o.channels},
		"crf":         {"crf", o.crf},
		"fps":         {"fps", o.fps},
		"dpi":         {"dpi", o.dpi},
	}
	for flag, f := range ints {
		if fs.Changed(flag) {
			out[f.field] = strconv.Itoa(f.value)
		}
	}
	strs := map[string]string{
		"codec":   o.codec,
		"bitrate": o.bitrate,
		"preset":  o.preset,
		"profile": o.profile,
	}
	for field, value := range strs {
		if fs.Changed(field) {
			out[field] = value
		}
	}
	if o.removeMetadata {
		out["remove_metadata"] = "true"
	}
	if o.optimize {
		out["optimize"] = "true"
	}
	return out
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		target   string
		wait     bool
		output   string
		interval time.Duration
		jsonOut  bool
		opts     optionFlags
	)

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Upload a file for conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(target) == "" {
				return fmt.Errorf("--to is required")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Submit(cmd.Context(), apiclient.Submission{
				Path:   args[0],
				Target: target,
				Fields: opts.fields(cmd.Flags()),
			})
			if err != nil {
				return err
			}
			if !wait {
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.JobID)
				return nil
			}
			return waitAndFetch(cmd, client, resp.JobID, interval, output, jsonOut)
		},
	}

	cmd.Flags().StringVarP(&target, "to", "t", "", "Target format extension (e.g. webp, mp3, pdf)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job and download the result")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Download destination file or directory (with --wait)")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Status poll interval (with --wait)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	opts.register(cmd.Flags())
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a conversion job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			st, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, st)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderJobStatus(args[0], st, shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch <job-id>",
		Short: "Download the converted file of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			path, err := fetchArtifact(cmd.Context(), client, args[0], output)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file or directory (default: current directory)")
	return cmd
}

func newWaitCommand(ctx *commandContext) *cobra.Command {
	var (
		output   string
		interval time.Duration
		timeout  time.Duration
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Wait for a job to finish and download its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if timeout > 0 {
				runCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()
				cmd.SetContext(runCtx)
			}
			return waitAndFetch(cmd, client, args[0], interval, output, jsonOut)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Download destination file or directory")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Status poll interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the final status as JSON")
	return cmd
}

func waitAndFetch(cmd *cobra.Command, client *apiclient.Client, jobID string, interval time.Duration, output string, jsonOut bool) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	last := ""
	st, err := client.Wait(cmd.Context(), jobID, interval, func(st api.StatusResponse) {
		if jsonOut {
			return
		}
		line := renderJobStatus(jobID, st, colorize)
		if line != last {
			fmt.Fprintln(out, line)
			last = line
		}
	})
	if err != nil {
		return err
	}
	if jsonOut {
		if err := writeJSON(cmd, st); err != nil {
			return err
		}
	}
	if st.Status == "failed" {
		return fmt.Errorf("job %s failed: %s", jobID, st.Error)
	}
	path, err := fetchArtifact(cmd.Context(), client, jobID, output)
	if err != nil {
		return err
	}
	if !jsonOut {
		fmt.Fprintf(out, "Saved %s\n", path)
	}
	return nil
}

// fetchArtifact downloads into output. A directory (or empty output) keeps the
// server's attachment name.
func fetchArtifact(ctx context.Context, client *apiclient.Client, jobID, output string) (string, error) {
	body, name, err := client.Open(ctx, jobID)
	if err != nil {
		return "", err
	}
	defer body.Close()

	dest := name
	if output != "" {
		dest = output
		if info, err := os.Stat(output); err == nil && info.IsDir() {
			dest = filepath.Join(output, name)
		}
	}
	if _, err := fileutil.CopyToFile(body, dest); err != nil {
		return "", fmt.Errorf("save %s: %w", dest, err)
	}
	return dest, nil
}

func renderJobStatus(jobID string, st api.StatusResponse, colorize bool) string {
	var detail string
	switch st.Status {
	case "completed":
		detail = st.Filename
	case "failed":
		detail = st.Error
	default:
		if st.Meta != nil {
			detail = fmt.Sprintf("%d%%", st.Meta.Progress)
			if st.Meta.Message != "" {
				detail += " " + st.Meta.Message
			}
		}
	}
	label := st.Status
	if detail != "" {
		label += " " + detail
	}
	return renderStatusLine(jobID, jobStatusKind(st.Status), label, colorize)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
