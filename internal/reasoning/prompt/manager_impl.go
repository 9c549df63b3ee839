package prompt

// Framework: the concrete Generator with lock-free performance statistics.

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"text/template"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-reasoner/internal/metrics"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

// Config tunes selection, optimization and A/B evaluation.
type Config struct {
	// MinSamples gates optimization passes and A/B verdicts.
	MinSamples int
	// SignificanceLevel is the z-test confidence required to declare a winner.
	SignificanceLevel float64
	// TrafficSplit is the share of traffic routed to variant A.
	TrafficSplit float64
	// Variance selects the z-test standard error: "pooled" or "unpooled".
	Variance string
	// ExploreEvery renders an under-sampled candidate every N uses; 0 disables.
	ExploreEvery int
	// MaxContextTokens caps retrieved knowledge in BuildContext.
	MaxContextTokens int
}

// DefaultConfig returns the framework defaults.
func DefaultConfig() Config {
	return Config{
		MinSamples:        20,
		SignificanceLevel: 0.95,
		TrafficSplit:      0.5,
		Variance:          VariancePooled,
		ExploreEvery:      10,
		MaxContextTokens:  2000,
	}
}

// snapshot is an immutable parsed template version.
type snapshot struct {
	t      Template
	parsed *template.Template
}

// entry holds one template's live state.
type entry struct {
	seq    int
	cur    atomic.Pointer[snapshot]
	stats  atomic.Pointer[PerformanceStats]
	arms   sync.Map // "variable=value" -> *atomic.Pointer[PerformanceStats]
	served atomic.Int64
}

func newEntry(seq int, s *snapshot, stats PerformanceStats) *entry {
	e := &entry{seq: seq}
	e.cur.Store(s)
	e.stats.Store(&stats)
	return e
}

func (e *entry) arm(key string) *atomic.Pointer[PerformanceStats] {
	if p, ok := e.arms.Load(key); ok {
		return p.(*atomic.Pointer[PerformanceStats])
	}
	p := &atomic.Pointer[PerformanceStats]{}
	p.Store(&PerformanceStats{})
	actual, _ := e.arms.LoadOrStore(key, p)
	return actual.(*atomic.Pointer[PerformanceStats])
}

// recordCAS folds one outcome into p without locking.
func recordCAS(p *atomic.Pointer[PerformanceStats], confidence float64, success bool) {
	for {
		old := p.Load()
		next := old.merge(confidence, success)
		if p.CompareAndSwap(old, &next) {
			return
		}
	}
}

func armKey(variable, value string) string { return variable + "=" + value }

// Framework is the prompt engineering framework.
type Framework struct {
	cfg    Config
	store  Store
	logger *zap.Logger

	mu        sync.RWMutex
	templates map[string]*entry
	tests     map[string]*abTest
	// active maps a template id to the active test it takes part in.
	active map[string]string
}

// Option configures a Framework.
type Option func(*Framework)

// WithStore persists templates and tests.
func WithStore(s Store) Option { return func(f *Framework) { f.store = s } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(f *Framework) { f.logger = l } }

// NewFramework creates a framework preloaded with the built-in template pack.
func NewFramework(cfg Config, opts ...Option) (*Framework, error) {
	def := DefaultConfig()
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.SignificanceLevel <= 0 || cfg.SignificanceLevel >= 1 {
		cfg.SignificanceLevel = def.SignificanceLevel
	}
	if cfg.TrafficSplit <= 0 || cfg.TrafficSplit >= 1 {
		cfg.TrafficSplit = def.TrafficSplit
	}
	if cfg.Variance == "" {
		cfg.Variance = def.Variance
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = def.MaxContextTokens
	}
	f := &Framework{
		cfg:       cfg,
		logger:    zap.NewNop(),
		templates: make(map[string]*entry),
		tests:     make(map[string]*abTest),
		active:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	builtin, err := DefaultTemplates()
	if err != nil {
		return nil, err
	}
	for _, t := range builtin {
		if err := f.put(t); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Config returns the framework configuration.
func (f *Framework) Config() Config { return f.cfg }

func parse(t Template) (*snapshot, error) {
	if strings.TrimSpace(t.ID) == "" {
		return nil, fmt.Errorf("template id is required")
	}
	parsed, err := template.New(t.ID).Funcs(funcs).Option("missingkey=zero").Parse(t.Body)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", t.ID, err)
	}
	if t.Version == 0 {
		t.Version = 1
	}
	t.Stats = PerformanceStats{}
	return &snapshot{t: t, parsed: parsed}, nil
}

// put installs or replaces a template, keeping its statistics.
func (f *Framework) put(t Template) error {
	s, err := parse(t)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.templates[t.ID]; ok {
		e.cur.Store(s)
		if t.Stats.Uses > 0 {
			stats := t.Stats
			e.stats.Store(&stats)
		}
		return nil
	}
	f.templates[t.ID] = newEntry(len(f.templates), s, t.Stats)
	return nil
}

// Register adds or replaces a template and persists it.
func (f *Framework) Register(ctx context.Context, t Template) error {
	if err := f.put(t); err != nil {
		return err
	}
	return f.save(ctx, t.ID)
}

// Load merges persisted templates and tests over the built-in pack.
func (f *Framework) Load(ctx context.Context) error {
	if f.store == nil {
		return nil
	}
	ts, err := f.store.LoadTemplates(ctx)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	for _, t := range ts {
		if err := f.put(t); err != nil {
			f.logger.Warn("skipping stored template", zap.String("template_id", t.ID), zap.Error(err))
		}
	}
	tests, err := f.store.LoadABTests(ctx)
	if err != nil {
		return fmt.Errorf("load a/b tests: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tests {
		f.tests[t.ID] = &abTest{ABTest: t}
		if t.Active {
			f.active[t.TemplateA] = t.ID
			f.active[t.TemplateB] = t.ID
		}
	}
	f.logger.Info("prompt framework loaded", zap.Int("templates", len(ts)), zap.Int("ab_tests", len(tests)))
	return nil
}

// Flush persists the statistics of every template.
func (f *Framework) Flush(ctx context.Context) error {
	if f.store == nil {
		return nil
	}
	for _, t := range f.Templates() {
		if err := f.store.SaveTemplate(ctx, t); err != nil {
			return fmt.Errorf("save template %s: %w", t.ID, err)
		}
	}
	return nil
}

func (f *Framework) save(ctx context.Context, id string) error {
	if f.store == nil {
		return nil
	}
	t, err := f.Template(id)
	if err != nil {
		return err
	}
	if err := f.store.SaveTemplate(ctx, t); err != nil {
		return fmt.Errorf("save template %s: %w", id, err)
	}
	return nil
}

func (f *Framework) lookup(id string) (*entry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.templates[id]
	return e, ok
}

// Template returns the current version of a template with its statistics.
func (f *Framework) Template(id string) (Template, error) {
	e, ok := f.lookup(id)
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	t := e.cur.Load().t
	t.Stats = *e.stats.Load()
	return t, nil
}

// Templates lists all templates in registration order.
func (f *Framework) Templates() []Template {
	f.mu.RLock()
	entries := make([]*entry, 0, len(f.templates))
	for _, e := range f.templates {
		entries = append(entries, e)
	}
	f.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]Template, len(entries))
	for i, e := range entries {
		out[i] = e.cur.Load().t
		out[i].Stats = *e.stats.Load()
	}
	return out
}

// ─── Generation ───────────────────────────────────────────────────────────────

// selectTemplate picks the best tagged template for the reasoning type.
func (f *Framework) selectTemplate(reasoningType string) (*entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var best *entry
	var bestStats PerformanceStats
	for _, e := range f.templates {
		if e.cur.Load().t.ID == GenericTemplateID || !e.cur.Load().t.HasTag(reasoningType) {
			continue
		}
		s := *e.stats.Load()
		if best == nil || s.AvgSuccessRate > bestStats.AvgSuccessRate ||
			(s.AvgSuccessRate == bestStats.AvgSuccessRate && e.seq < best.seq) {
			best, bestStats = e, s
		}
	}
	if best != nil {
		return best, nil
	}
	if e, ok := f.templates[GenericTemplateID]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: no template tagged %q and no %s fallback", ErrTemplateNotFound, reasoningType, GenericTemplateID)
}

// GeneratePrompt implements Generator.
func (f *Framework) GeneratePrompt(pc types.PromptContext) (Generated, error) {
	e, err := f.selectTemplate(pc.ReasoningType)
	if err != nil {
		return Generated{}, err
	}
	var gen Generated
	if testID, variant, id, ok := f.route(e.cur.Load().t.ID); ok {
		routed, found := f.lookup(id)
		if !found {
			return Generated{}, fmt.Errorf("%w: %s (a/b test %s)", ErrTemplateNotFound, id, testID)
		}
		e = routed
		gen.TestID, gen.Variant = testID, variant
	}

	snap := e.cur.Load()
	assignment := f.assign(e, snap.t)
	var sb strings.Builder
	if err := snap.parsed.Execute(&sb, renderData{PromptContext: pc, Vars: assignment}); err != nil {
		return Generated{}, fmt.Errorf("render template %s: %w", snap.t.ID, err)
	}
	gen.Prompt = strings.TrimSpace(sb.String())
	gen.TemplateID = snap.t.ID
	gen.Version = snap.t.Version
	gen.Assignment = assignment
	metrics.PromptRenders.WithLabelValues(gen.TemplateID).Inc()
	return gen, nil
}

// assign copies the current variables, swapping in one under-sampled
// candidate on exploration turns.
func (f *Framework) assign(e *entry, t Template) map[string]string {
	out := make(map[string]string, len(t.Variables))
	for k, v := range t.Variables {
		out[k] = v
	}
	n := e.served.Add(1)
	if f.cfg.ExploreEvery <= 0 || n%int64(f.cfg.ExploreEvery) != 0 || len(t.Candidates) == 0 {
		return out
	}
	names := make([]string, 0, len(t.Candidates))
	for k := range t.Candidates {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, cand := range t.Candidates[name] {
			if cand == out[name] {
				continue
			}
			if e.arm(armKey(name, cand)).Load().Uses < int64(f.cfg.MinSamples) {
				out[name] = cand
				return out
			}
		}
	}
	return out
}

// RecordOutcome implements Generator.
func (f *Framework) RecordOutcome(gen Generated, confidence float64, success bool) {
	e, ok := f.lookup(gen.TemplateID)
	if !ok {
		return
	}
	recordCAS(&e.stats, confidence, success)
	for name, value := range gen.Assignment {
		recordCAS(e.arm(armKey(name, value)), confidence, success)
	}
	if gen.TestID != "" {
		score := 0.0
		if success {
			score = confidence
		}
		if err := f.RecordABTestResult(context.Background(), gen.TestID, gen.Variant, score); err != nil {
			f.logger.Warn("recording a/b outcome failed", zap.String("test_id", gen.TestID), zap.Error(err))
		}
	}
}

// RecordUse records an outcome directly against a template id.
func (f *Framework) RecordUse(templateID string, confidence float64, success bool) error {
	e, ok := f.lookup(templateID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}
	recordCAS(&e.stats, confidence, success)
	for name, value := range e.cur.Load().t.Variables {
		recordCAS(e.arm(armKey(name, value)), confidence, success)
	}
	return nil
}

// ─── Rendering ────────────────────────────────────────────────────────────────

type renderData struct {
	types.PromptContext
	Vars map[string]string
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"numbered": func(items []string) string {
		var sb strings.Builder
		for i, it := range items {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, it)
		}
		return strings.TrimRight(sb.String(), "\n")
	},
	"bullets": func(items []string) string {
		var sb strings.Builder
		for _, it := range items {
			sb.WriteString("- " + it + "\n")
		}
		return strings.TrimRight(sb.String(), "\n")
	},
}
