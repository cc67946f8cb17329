package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"convertd/internal/config"
	"convertd/internal/daemon"
	"convertd/internal/daemonrun"
)

func newRootCommand() *cobra.Command {
	var (
		configFlag  string
		roleFlag    string
		logLevel    string
		development bool
	)

	cmd := &cobra.Command{
		Use:           "convertd",
		Short:         "File conversion service",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := daemon.ParseRole(roleFlag)
			if err != nil {
				return err
			}
			cfg, _, _, err := config.Load(strings.TrimSpace(configFlag))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				Role:        role,
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	flags.StringVar(&roleFlag, "role", string(daemon.RoleAll), "Components to run: all, api or worker")
	flags.StringVar(&logLevel, "log-level", "", "Override the configured log level")
	flags.BoolVar(&development, "dev", false, "Enable development logging (caller info, debug level)")
	return cmd
}
