package cli

// templates.go: prompt template commands.
//
// Commands:
//   reasoner templates list [--json]
//   reasoner templates show <id>
//   reasoner templates optimize <id>

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/prompt"
)

func newTemplatesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"tpl"},
		Short:   "Inspect and optimize prompt templates",
	}
	cmd.AddCommand(
		newTemplatesListCmd(a),
		newTemplatesShowCmd(a),
		newTemplatesOptimizeCmd(a),
	)
	return cmd
}

func newTemplatesListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates with their performance statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(s *service) error {
				ts := s.prompts.Templates()
				sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
				if asJSON {
					enc := json.NewEncoder(a.stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(ts)
				}
				fmt.Fprintf(a.stdout, "%-28s  %-7s  %-32s  %6s  %8s  %8s\n",
					"ID", "VERSION", "TAGS", "USES", "AVG CONF", "SUCCESS")
				fmt.Fprintf(a.stdout, "%s\n", strings.Repeat("─", 98))
				for _, t := range ts {
					fmt.Fprintf(a.stdout, "%-28s  %-7d  %-32s  %6d  %8.3f  %8.3f\n",
						t.ID, t.Version, truncate(strings.Join(t.DomainTags, ","), 32),
						t.Stats.Uses, t.Stats.AvgConfidence, t.Stats.AvgSuccessRate)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print templates as JSON")
	return cmd
}

func newTemplatesShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one template as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(s *service) error {
				t, err := s.prompts.Template(args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(t)
			})
		},
	}
}

func newTemplatesOptimizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize <id>",
		Short: "Promote the best-performing variable values of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(s *service) error {
				before, err := s.prompts.Template(args[0])
				if err != nil {
					return err
				}
				after, err := s.prompts.OptimizeTemplate(ctx, args[0])
				if errors.Is(err, prompt.ErrInsufficientSamples) {
					fmt.Fprintf(a.stdout, "%s: not enough samples yet (%d uses)\n", before.ID, before.Stats.Uses)
					return nil
				}
				if err != nil {
					return err
				}
				if after.Version == before.Version {
					fmt.Fprintf(a.stdout, "%s: already optimal at version %d\n", after.ID, after.Version)
					return nil
				}
				if s.audit != nil {
					if err := s.audit.LogTemplateOptimized(ctx, after.ID, after.Version, after.Variables); err != nil {
						s.logger.Warn("audit template optimization failed", zap.Error(err))
					}
				}
				fmt.Fprintf(a.stdout, "%s: optimized to version %d\n", after.ID, after.Version)
				keys := make([]string, 0, len(after.Variables))
				for k := range after.Variables {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					if before.Variables[k] != after.Variables[k] {
						fmt.Fprintf(a.stdout, "  %s: %q -> %q\n", k, before.Variables[k], after.Variables[k])
					}
				}
				return nil
			})
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
