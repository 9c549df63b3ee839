package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history [question-id]",
		Short: "Show stored reasoning records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(s *service) error {
				if s.store == nil {
					return errors.New("history needs a database; set database.type to sqlite or postgres")
				}
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")

				if len(args) == 1 {
					rec, err := s.store.GetReasoningRecord(ctx, args[0])
					if err != nil {
						return fmt.Errorf("record %s: %w", args[0], err)
					}
					return enc.Encode(rec)
				}

				recs, err := s.store.ListReasoningRecords(ctx, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return enc.Encode(recs)
				}
				if len(recs) == 0 {
					fmt.Fprintln(a.stdout, "(no reasoning records found)")
					return nil
				}
				fmt.Fprintf(a.stdout, "%-20s  %-36s  %-18s  %-7s  %5s  %s\n",
					"TIME", "QUESTION", "STRATEGY", "RESULT", "CONF", "PROMPT")
				fmt.Fprintf(a.stdout, "%s\n", strings.Repeat("─", 120))
				for _, r := range recs {
					result := "ok"
					if !r.Success {
						result = "failed"
					}
					fmt.Fprintf(a.stdout, "%-20s  %-36s  %-18s  %-7s  %5.2f  %s\n",
						r.CreatedAt.Local().Format(time.DateTime), r.QuestionID, r.ReasoningType,
						result, r.Confidence, truncate(r.FinalPromptText, 40))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of records to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}
