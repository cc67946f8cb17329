package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"convertd/internal/apiclient"
	"convertd/internal/artifact"
	"convertd/internal/preflight"
	"convertd/internal/queue"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var skipServer bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, backends, converter binaries and the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if ctx.configPath != "" {
				fmt.Fprintf(out, "Configuration: %s\n", ctx.configPath)
			}

			var targets preflight.Targets
			var openFailures []preflight.Result
			if backend, err := queue.Open(cmd.Context(), cfg); err != nil {
				openFailures = append(openFailures, preflight.Result{Name: "Broker (" + cfg.Broker.Backend + ")", Detail: err.Error()})
			} else {
				defer backend.Close()
				targets.Broker = backend
			}
			if store, err := artifact.Open(cmd.Context(), cfg); err != nil {
				openFailures = append(openFailures, preflight.Result{Name: "Artifact store", Detail: err.Error()})
			} else {
				switch s := store.(type) {
				case *artifact.FSStore:
					targets.ArtifactRoot = s.Root()
				case preflight.Pinger:
					targets.Artifacts = s
				}
			}

			results := append(openFailures, preflight.RunAll(cmd.Context(), cfg, targets)...)
			if !skipServer {
				results = append(results, checkServer(cmd, ctx))
			}

			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipServer, "skip-server", false, "Do not check the running API")
	return cmd
}

func checkServer(cmd *cobra.Command, ctx *commandContext) preflight.Result {
	address := ctx.serverAddress()
	result := preflight.Result{Name: "API server", Detail: address}
	client, err := ctx.client()
	if err != nil {
		result.Detail = err.Error()
		return result
	}
	if err := client.Health(cmd.Context()); err != nil {
		if errors.Is(err, apiclient.ErrUnavailable) {
			result.Detail = address + " (not running)"
		} else {
			result.Detail = fmt.Sprintf("%s (error: %v)", address, err)
		}
		return result
	}
	result.Passed = true
	return result
}
