package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-reasoner/internal/config"
	"github.com/kubilitics/kubilitics-reasoner/internal/logging"
)

// Version is stamped at build time.
var Version = "dev"

type app struct {
	configPath string
	envFile    string
	logLevel   string

	mgr    config.Manager
	cfg    *config.Config
	logger *zap.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return newRootCommand(in, out, errOut)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{
		envFile: ".env",
		stdin:   in,
		stdout:  out,
		stderr:  errOut,
	}

	cmd := &cobra.Command{
		Use:           "reasoner",
		Short:         "Multi-strategy reasoning engine",
		Long:          "reasoner solves mathematical, logical and causal problems with deterministic engines and open-ended ones with chain-of-thought or tree-of-thoughts search over an LLM.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to reasoner.yaml")
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before configuration")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(
		newSolveCmd(a),
		newTemplatesCmd(a),
		newABTestCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
	)

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.setup(cmd.Context())
	}

	cmd.SetErrPrefix("reasoner: ")
	cmd.SetIn(a.stdin)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)
	return cmd
}

// setup loads the dotenv file, configuration and logger in that order so the
// environment can feed both viper and the explicit overrides.
func (a *app) setup(ctx context.Context) error {
	if strings.TrimSpace(a.envFile) != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}

	a.mgr = config.NewManager(a.configPath)
	if err := a.mgr.Load(ctx); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	a.cfg = a.mgr.Get()
	if a.logLevel != "" {
		a.cfg.Logging.Level = a.logLevel
	}
	if err := a.mgr.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(a.cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.logger = logger
	return nil
}
