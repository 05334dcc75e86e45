// Package cli implements the securedrop command line, which drives the
// delivery service in-process against the configured stores.
package cli

import (
	"context"
	"fmt"
	"os"

	"secure_drop/internal/bootstrap"
	"secure_drop/internal/config"
	"secure_drop/internal/utils/log"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type runtimeHolder struct {
	configPath string
	rt         *bootstrap.Runtime
}

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
)

// NewRootCmd builds the command tree. Each invocation bootstraps its own
// runtime and closes it afterwards.
func NewRootCmd() *cobra.Command {
	h := &runtimeHolder{}

	root := &cobra.Command{
		Use:           "securedrop",
		Short:         "Leave one encrypted, self-destructing message per recipient",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(h.configPath)
			if err != nil {
				return err
			}
			if err := log.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
				return err
			}
			rt, err := bootstrap.New(commandContext(cmd), cfg)
			if err != nil {
				return err
			}
			h.rt = rt
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			defer log.Sync()
			if h.rt == nil {
				return nil
			}
			return h.rt.Close(commandContext(cmd))
		},
	}
	root.PersistentFlags().StringVarP(&h.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		newKeygenCmd(h),
		newSendCmd(h),
		newReceiveCmd(h),
		newStatusCmd(h),
		newDiscardCmd(h),
		newWipeCmd(h),
	)
	return root
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		errColor.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printf(cmd *cobra.Command, c *color.Color, format string, a ...any) {
	c.Fprintf(cmd.OutOrStdout(), format, a...)
	fmt.Fprintln(cmd.OutOrStdout())
}
