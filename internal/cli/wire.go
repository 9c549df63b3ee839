package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-reasoner/internal/audit"
	"github.com/kubilitics/kubilitics-reasoner/internal/config"
	"github.com/kubilitics/kubilitics-reasoner/internal/db"
	"github.com/kubilitics/kubilitics-reasoner/internal/llm"
	"github.com/kubilitics/kubilitics-reasoner/internal/metrics"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/cot"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/domain"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/engine"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/prompt"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/tot"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/validation"
)

// service holds every component a command needs, built from one config.
type service struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   db.Store
	prompts *prompt.Framework
	router  *engine.Router
	audit   *audit.Logger

	stopMetrics context.CancelFunc
	metricsDone chan error
}

// openService wires storage, the prompt framework, the oracle, the five
// strategies and the audit sinks. The caller must Close it.
func (a *app) openService(ctx context.Context) (_ *service, err error) {
	cfg, logger := a.cfg, a.logger
	s := &service{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = s.Close(context.WithoutCancel(ctx))
		}
	}()

	if cfg.Database.Type != "" && cfg.Database.Type != "none" {
		store, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Database.Type, err)
		}
		s.store = store
	}

	opts := []prompt.Option{prompt.WithLogger(logger.Named("prompt"))}
	if s.store != nil {
		opts = append(opts, prompt.WithStore(s.store))
	}
	s.prompts, err = prompt.NewFramework(cfg.PromptFrameworkConfig(), opts...)
	if err != nil {
		return nil, fmt.Errorf("init prompt framework: %w", err)
	}
	if cfg.Prompt.PackPath != "" {
		pack, err := prompt.LoadPackFile(cfg.Prompt.PackPath)
		if err != nil {
			return nil, err
		}
		for _, t := range pack {
			if err := s.prompts.Register(ctx, t); err != nil {
				return nil, fmt.Errorf("register template %s: %w", t.ID, err)
			}
		}
	}
	// Stored templates override pack templates with the same id.
	if s.store != nil {
		if err := s.prompts.Load(ctx); err != nil {
			return nil, fmt.Errorf("load stored templates: %w", err)
		}
	}

	oracle, err := llm.New(cfg.OracleConfig(), logger.Named("llm"))
	if err != nil {
		return nil, err
	}

	v := validation.New(cfg.ValidatorConfig())
	deps := domain.Deps{Validator: v, Prompts: s.prompts, Logger: logger.Named("domain")}
	strategies := []types.Strategy{
		domain.NewMathEngine(deps),
		domain.NewLogicEngine(deps),
		domain.NewCausalEngine(deps),
		cot.New(oracle, s.prompts, v, cfg.ChainConfig(), logger.Named("cot")),
		tot.New(oracle, s.prompts, v, cfg.TreeConfig(), logger.Named("tot")),
	}

	var sinks engine.MultiSink
	if cfg.Audit.Enabled {
		auditLog, err := audit.New(cfg.Audit, logger)
		if err != nil {
			return nil, fmt.Errorf("init audit logger: %w", err)
		}
		s.audit = auditLog
		sinks = append(sinks, s.audit)
	}
	if s.store != nil {
		sinks = append(sinks, s.store)
	}

	s.router, err = engine.New(cfg.RouterConfig(), strategies,
		engine.WithLogger(logger.Named("engine")),
		engine.WithAuditSink(sinks),
		engine.WithResultValidator(v),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		srv, err := metrics.Listen(cfg.Metrics.ListenAddress, cfg.Metrics.Path, logger.Named("metrics"))
		if err != nil {
			return nil, fmt.Errorf("start metrics endpoint: %w", err)
		}
		mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.stopMetrics = cancel
		s.metricsDone = make(chan error, 1)
		go func() { s.metricsDone <- srv.Serve(mctx) }()
	}
	return s, nil
}

// Close persists template statistics and releases every resource.
func (s *service) Close(ctx context.Context) error {
	var errs []error
	if s.router != nil {
		s.router.Close()
	}
	if s.prompts != nil && s.store != nil {
		if err := s.prompts.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush templates: %w", err))
		}
	}
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit log: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if s.stopMetrics != nil {
		s.stopMetrics()
		if err := <-s.metricsDone; err != nil {
			errs = append(errs, fmt.Errorf("metrics endpoint: %w", err))
		}
	}
	_ = s.logger.Sync()
	return errors.Join(errs...)
}

// withService opens the service for the duration of fn.
func (a *app) withService(ctx context.Context, fn func(*service) error) (err error) {
	s, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}
