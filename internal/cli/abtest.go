package cli

// abtest.go: prompt A/B test commands.
//
// Commands:
//   reasoner abtest create <template-a> <template-b>
//   reasoner abtest list
//   reasoner abtest result <id> [--json]
//   reasoner abtest stop <id>

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newABTestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abtest",
		Short: "Compare two prompt templates on live traffic",
	}
	cmd.AddCommand(
		newABTestCreateCmd(a),
		newABTestListCmd(a),
		newABTestResultCmd(a),
		newABTestStopCmd(a),
	)
	return cmd
}

func newABTestCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <template-a> <template-b>",
		Short: "Start routing traffic for a template pair through an A/B test",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(s *service) error {
				id, err := s.prompts.CreateABTest(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if s.audit != nil {
					if err := s.audit.LogABTestCreated(ctx, id, args[0], args[1]); err != nil {
						s.logger.Warn("audit a/b test creation failed", zap.Error(err))
					}
				}
				fmt.Fprintln(a.stdout, id)
				return nil
			})
		},
	}
}

func newABTestListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List A/B tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(s *service) error {
				tests := s.prompts.ABTests()
				sort.Slice(tests, func(i, j int) bool { return tests[i].CreatedAt.Before(tests[j].CreatedAt) })
				fmt.Fprintf(a.stdout, "%-36s  %-24s  %-24s  %-6s  %8s  %8s\n",
					"ID", "TEMPLATE A", "TEMPLATE B", "ACTIVE", "N(A)", "N(B)")
				fmt.Fprintf(a.stdout, "%s\n", strings.Repeat("─", 116))
				for _, t := range tests {
					fmt.Fprintf(a.stdout, "%-36s  %-24s  %-24s  %-6t  %8d  %8d\n",
						t.ID, truncate(t.TemplateA, 24), truncate(t.TemplateB, 24), t.Active, t.A.N, t.B.N)
				}
				return nil
			})
		},
	}
}

func newABTestResultCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "result <id>",
		Short: "Show the significance test for an A/B test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(s *service) error {
				r, err := s.prompts.GetABTestResult(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(a.stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(r)
				}
				winner := r.Winner
				if winner == "" {
					winner = "none"
				}
				fmt.Fprintf(a.stdout, "test:        %s\n", r.TestID)
				fmt.Fprintf(a.stdout, "winner:      %s\n", winner)
				fmt.Fprintf(a.stdout, "confidence:  %.4f\n", r.ConfidenceLevel)
				fmt.Fprintf(a.stdout, "z-score:     %.4f\n", r.ZScore)
				fmt.Fprintf(a.stdout, "mean A:      %.4f (n=%d)\n", r.MeanA, r.SamplesA)
				fmt.Fprintf(a.stdout, "mean B:      %.4f (n=%d)\n", r.MeanB, r.SamplesB)
				if !r.Sufficient {
					fmt.Fprintln(a.stdout, "samples:     insufficient")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newABTestStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop routing traffic through an A/B test and report its outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(s *service) error {
				r, err := s.prompts.GetABTestResult(args[0])
				if err != nil {
					return err
				}
				if err := s.prompts.StopABTest(ctx, args[0]); err != nil {
					return err
				}
				if s.audit != nil {
					if err := s.audit.LogABTestConcluded(ctx, r.TestID, r.Winner, r.ConfidenceLevel); err != nil {
						s.logger.Warn("audit a/b test conclusion failed", zap.Error(err))
					}
				}
				if r.Winner == "" {
					fmt.Fprintf(a.stdout, "%s stopped without a significant winner\n", r.TestID)
				} else {
					fmt.Fprintf(a.stdout, "%s stopped; winner %s at %.4f confidence\n", r.TestID, r.Winner, r.ConfidenceLevel)
				}
				return nil
			})
		},
	}
}
