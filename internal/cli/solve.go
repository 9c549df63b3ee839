package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/format"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

// FailureError reports an unsuccessful reasoning result after it has been
// rendered, so callers can map the kind to an exit code.
type FailureError struct {
	Kind    types.ErrorKind
	Message string
}

func (e *FailureError) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

type solveOptions struct {
	mode              string
	format            string
	showSteps         bool
	includeValidation bool
	stream            bool

	timeout      float64
	maxSteps     int
	maxDepth     int
	maxBranching int
	maxNodes     int
	beamWidth    int
	search       string
	evaluation   string
	backtracking bool
	refinement   bool
}

func newSolveCmd(a *app) *cobra.Command {
	o := &solveOptions{}
	cmd := &cobra.Command{
		Use:   "solve <problem>|-",
		Short: "Answer a problem with the selected reasoning mode",
		Example: `  reasoner solve "Solve 2x + 3 = 7" --show-steps
  reasoner solve "All cats are mammals. Some mammals are pets. Therefore all cats are pets." --mode LOGICAL
  echo "Why did latency increase?" | reasoner solve - --mode TREE_OF_THOUGHTS --max-nodes 20`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			problem, err := readProblem(a.stdin, args)
			if err != nil {
				return err
			}
			f, err := format.ParseFormat(o.format)
			if err != nil {
				return err
			}
			req := types.Request{
				ProblemStatement:  problem,
				Mode:              types.Mode(strings.ToUpper(o.mode)),
				ShowSteps:         o.showSteps,
				OutputFormat:      f,
				IncludeValidation: o.includeValidation,
				Config:            o.requestConfig(cmd),
			}
			return a.withService(cmd.Context(), func(s *service) error {
				return a.solve(cmd.Context(), s, req, o.stream)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.mode, "mode", "m", string(types.ModeAuto), "AUTO, MATHEMATICAL, LOGICAL, CAUSAL, CHAIN_OF_THOUGHT, TREE_OF_THOUGHTS or HYBRID")
	flags.StringVarP(&o.format, "format", "o", "text", "output format: json, text, markdown or html")
	flags.BoolVar(&o.showSteps, "show-steps", false, "include reasoning steps in the output")
	flags.BoolVar(&o.includeValidation, "include-validation", false, "include the validation report in the output")
	flags.BoolVar(&o.stream, "stream", false, "print accepted steps to stderr as they happen")
	flags.Float64Var(&o.timeout, "timeout", 0, "wall-clock budget in seconds (0 times out immediately; default 300 when unset)")
	flags.IntVar(&o.maxSteps, "max-steps", 0, "chain-of-thought step limit")
	flags.IntVar(&o.maxDepth, "max-depth", 0, "tree-of-thoughts depth limit")
	flags.IntVar(&o.maxBranching, "max-branching", 0, "tree-of-thoughts children per node")
	flags.IntVar(&o.maxNodes, "max-nodes", 0, "tree-of-thoughts node budget")
	flags.IntVar(&o.beamWidth, "beam-width", 0, "tree-of-thoughts beam width")
	flags.StringVar(&o.search, "search", "", "tree-of-thoughts search: BFS, DFS, BEAM or A*")
	flags.StringVar(&o.evaluation, "evaluation", "", "node evaluation: CONFIDENCE, COMPLETENESS, EFFICIENCY or HYBRID")
	flags.BoolVar(&o.backtracking, "backtracking", true, "allow tree-of-thoughts backtracking")
	flags.BoolVar(&o.refinement, "refinement", true, "allow chain-of-thought refinement")
	return cmd
}

// requestConfig sets only the overrides whose flags were given, leaving the
// rest to the configured defaults.
func (o *solveOptions) requestConfig(cmd *cobra.Command) types.RequestConfig {
	var rc types.RequestConfig
	changed := cmd.Flags().Changed
	intFlag := func(name string, v int) *int {
		if !changed(name) {
			return nil
		}
		return &v
	}
	rc.MaxSteps = intFlag("max-steps", o.maxSteps)
	rc.MaxDepth = intFlag("max-depth", o.maxDepth)
	rc.MaxBranchingFactor = intFlag("max-branching", o.maxBranching)
	rc.MaxNodes = intFlag("max-nodes", o.maxNodes)
	rc.BeamWidth = intFlag("beam-width", o.beamWidth)
	if changed("timeout") {
		t := o.timeout
		rc.TimeoutSeconds = &t
	}
	if changed("backtracking") {
		b := o.backtracking
		rc.EnableBacktracking = &b
	}
	if changed("refinement") {
		b := o.refinement
		rc.EnableRefinement = &b
	}
	rc.SearchAlgorithm = strings.ToUpper(o.search)
	rc.EvaluationStrategy = strings.ToUpper(o.evaluation)
	return rc
}

func readProblem(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		b, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read problem from stdin: %w", err)
		}
		return string(b), nil
	}
	return strings.Join(args, " "), nil
}

func (a *app) solve(ctx context.Context, s *service, req types.Request, stream bool) error {
	var wg sync.WaitGroup
	if stream {
		sub := s.router.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range sub.Ch {
				fmt.Fprintf(a.stderr, "[%s] step %d (%.2f): %s\n",
					ev.Strategy, ev.Step.ID, ev.Step.Confidence, format.Value(ev.Step.Output))
			}
		}()
		defer func() {
			s.router.Unsubscribe(sub)
			wg.Wait()
		}()
	}

	res := s.router.Reason(ctx, req)
	body, _, err := format.Render(res, req.OutputFormat, format.Options{
		ShowSteps:         req.ShowSteps,
		IncludeValidation: req.IncludeValidation,
	})
	if err != nil {
		return err
	}
	if _, err := a.stdout.Write(body); err != nil {
		return err
	}
	if len(body) > 0 && body[len(body)-1] != '\n' {
		fmt.Fprintln(a.stdout)
	}
	if !res.Success {
		return &FailureError{Kind: res.ErrorKind, Message: res.Error}
	}
	return nil
}

// ExitCode maps a command error to a process exit code: 2 for rejected
// input, 3 for other reasoning failures, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var fe *FailureError
	if errors.As(err, &fe) {
		if fe.Kind == types.KindInputValidation {
			return 2
		}
		return 3
	}
	return 1
}
