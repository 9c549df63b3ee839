package cli

// config.go: configuration commands.
//
// Commands:
//   reasoner config show
//   reasoner config validate
//   reasoner config watch

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kubilitics/kubilitics-reasoner/internal/audit"
	"github.com/kubilitics/kubilitics-reasoner/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				out := *a.cfg
				if out.LLM.APIKey != "" {
					out.LLM.APIKey = "********"
				}
				b, err := yaml.Marshal(out)
				if err != nil {
					return err
				}
				_, err = a.stdout.Write(b)
				return err
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the configuration and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				// Validation already ran in the pre-run hook.
				fmt.Fprintln(a.stdout, "configuration is valid")
				return nil
			},
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Reload the configuration file on change until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.watchConfig(cmd.Context())
			},
		},
	)
	return cmd
}

func (a *app) watchConfig(ctx context.Context) error {
	var auditLog *audit.Logger
	if a.cfg.Audit.Enabled {
		l, err := audit.New(a.cfg.Audit, a.logger)
		if err != nil {
			return err
		}
		defer l.Close()
		auditLog = l
	}

	err := a.mgr.Watch(ctx, func(cfg *config.Config) {
		if errs := cfg.Validate(); len(errs) > 0 {
			a.logger.Warn("reloaded configuration is invalid", zap.Errors("errors", errs))
			fmt.Fprintf(a.stderr, "configuration changed but is invalid (%d problems)\n", len(errs))
			return
		}
		a.logger.Info("configuration reloaded")
		fmt.Fprintln(a.stdout, "configuration reloaded")
		if auditLog != nil {
			if err := auditLog.LogConfigChanged(ctx, a.configPath); err != nil {
				a.logger.Warn("audit config change failed", zap.Error(err))
			}
		}
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
