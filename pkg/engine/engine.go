// Package engine is the execution API of processd.
//
// An Engine bundles the contract registry, the pattern catalog, the tools
// and the row store they write to, and runs patterns under verification with
// compensating rollback:
//
//	eng, err := engine.New(engine.WithStore(st), engine.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	summary, err := eng.RunPatternByID(ctx, "lead_to_request", input, map[string]any{"tenant_id": "acme"})
//
// The built-in lead-intake catalog and CRM tools are installed unless
// WithoutBuiltins is given.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/processd/internal/catalog"
	"github.com/fyrsmithlabs/processd/internal/config"
	"github.com/fyrsmithlabs/processd/internal/contract"
	"github.com/fyrsmithlabs/processd/internal/events"
	"github.com/fyrsmithlabs/processd/internal/logging"
	"github.com/fyrsmithlabs/processd/internal/metrics"
	"github.com/fyrsmithlabs/processd/internal/orchestrator"
	"github.com/fyrsmithlabs/processd/internal/pattern"
	"github.com/fyrsmithlabs/processd/internal/rollback"
	"github.com/fyrsmithlabs/processd/internal/store"
	"github.com/fyrsmithlabs/processd/internal/tool"
	"github.com/fyrsmithlabs/processd/internal/tool/crm"
	"github.com/fyrsmithlabs/processd/internal/verifier"
)

// Engine runs patterns. It is safe for concurrent use.
type Engine struct {
	contracts *contract.Registry
	patterns  *pattern.Catalog
	tools     *tool.Registry
	store     store.Writer
	collector *metrics.Collector
	recorder  *orchestrator.StoreRecorder
	executor  *orchestrator.Executor
	logger    *logging.Logger
}

type options struct {
	logger         *logging.Logger
	store          store.Writer
	tools          *tool.Registry
	definitions    []*pattern.Definitions
	builtins       bool
	registerer     prometheus.Registerer
	tracer         trace.Tracer
	meter          metric.Meter
	publisher      events.Publisher
	retry          *rollback.RetryPolicy
	limiter        *rate.Limiter
	recentFailures int
	recordRuns     bool
	tenantRequired bool
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore sets the row store the built-in tools write to and store
// assertions read from. Default: a MemoryStore.
func WithStore(s store.Writer) Option {
	return func(o *options) { o.store = s }
}

// WithTools replaces the tool registry. The built-in CRM tools are still
// registered into it unless WithoutBuiltins is given.
func WithTools(r *tool.Registry) Option {
	return func(o *options) { o.tools = r }
}

// WithDefinitions adds contracts and patterns on top of the built-ins.
func WithDefinitions(d *pattern.Definitions) Option {
	return func(o *options) { o.definitions = append(o.definitions, d) }
}

// WithoutBuiltins skips the lead-intake catalog and the CRM tools.
func WithoutBuiltins() Option {
	return func(o *options) { o.builtins = false }
}

// WithPrometheus registers verification metrics with reg.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTracer sets the tracer for run spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithMeter sets the meter for run counters.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithPublisher publishes run progress events.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRetryPolicy sets the compensation retry policy.
func WithRetryPolicy(p rollback.RetryPolicy) Option {
	return func(o *options) { o.retry = &p }
}

// WithRateLimiter paces compensating calls.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithRecentFailures bounds the per-tool recent failure buffer.
func WithRecentFailures(n int) Option {
	return func(o *options) { o.recentFailures = n }
}

// WithRunRecording keeps an audit row per finished run in the store.
func WithRunRecording() Option {
	return func(o *options) { o.recordRuns = true }
}

// WithTenantRequired blocks runs whose context has no tenant id.
func WithTenantRequired() Option {
	return func(o *options) { o.tenantRequired = true }
}

// FromConfig translates engine configuration into options.
func FromConfig(cfg config.EngineConfig) []Option {
	rb := cfg.Rollback
	opts := []Option{
		WithRecentFailures(cfg.RecentFailures),
		WithRetryPolicy(rollback.RetryPolicy{
			MaxAttempts:    rb.MaxAttempts,
			InitialBackoff: rb.InitialBackoff.Duration(),
			MaxBackoff:     rb.MaxBackoff.Duration(),
			Multiplier:     rb.Multiplier,
		}),
	}
	if rb.RatePerSecond > 0 {
		burst := rb.Burst
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, WithRateLimiter(rate.NewLimiter(rate.Limit(rb.RatePerSecond), burst)))
	}
	return opts
}

// New builds an engine. Definitions are registered before any pattern can
// run; a conflicting or invalid definition fails construction.
func New(opts ...Option) (*Engine, error) {
	o := &options{builtins: true}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if o.store == nil {
		o.store = store.NewMemoryStore()
	}
	if o.tools == nil {
		o.tools = tool.NewRegistry()
	}

	e := &Engine{
		contracts: contract.NewRegistry(),
		patterns:  pattern.NewCatalog(),
		tools:     o.tools,
		store:     o.store,
		logger:    o.logger,
	}

	if o.builtins {
		if err := crm.New(o.store).Register(o.tools); err != nil {
			return nil, fmt.Errorf("register crm tools: %w", err)
		}
		if err := catalog.Install(e.contracts, e.patterns); err != nil {
			return nil, err
		}
	}
	for _, d := range o.definitions {
		if err := d.Apply(e.contracts, e.patterns); err != nil {
			return nil, fmt.Errorf("apply definitions: %w", err)
		}
	}

	collectorOpts := []metrics.Option{metrics.WithRecentFailures(o.recentFailures)}
	if o.registerer != nil {
		collectorOpts = append(collectorOpts, metrics.WithExporter(metrics.NewExporter(o.registerer)))
	}
	e.collector = metrics.NewCollector(collectorOpts...)

	v := verifier.New(e.contracts, e.tools,
		verifier.WithStore(e.store),
		verifier.WithRecorder(e.collector),
		verifier.WithLogger(o.logger.Named("verifier")),
	)

	rbOpts := []rollback.Option{rollback.WithLogger(o.logger.Named("rollback"))}
	if o.retry != nil {
		rbOpts = append(rbOpts, rollback.WithRetryPolicy(*o.retry))
	}
	if o.limiter != nil {
		rbOpts = append(rbOpts, rollback.WithRateLimiter(o.limiter))
	}
	coordinator := rollback.NewCoordinator(e.contracts, e.tools, rbOpts...)

	execOpts := []orchestrator.Option{orchestrator.WithLogger(o.logger.Named("orchestrator"))}
	if o.tracer != nil {
		execOpts = append(execOpts, orchestrator.WithTracer(o.tracer))
	}
	if o.meter != nil {
		execOpts = append(execOpts, orchestrator.WithMeter(o.meter))
	}
	if o.recordRuns {
		e.recorder = orchestrator.NewStoreRecorder(e.store)
		execOpts = append(execOpts, orchestrator.WithRecorder(e.recorder))
	}
	e.executor = orchestrator.NewExecutor(v, coordinator, execOpts...)
	e.executor.RegisterGate(orchestrator.NewCoverageGate(e.contracts))
	e.executor.RegisterGate(orchestrator.NewInputGate())
	if o.tenantRequired {
		e.executor.RegisterGate(orchestrator.NewContextGate(orchestrator.TenantKey))
	}
	if o.publisher != nil {
		e.executor.OnProgress(events.Hook(o.publisher, o.logger.Named("events")))
	}

	if gaps := pattern.Audit(e.contracts, e.patterns.List()); len(gaps) > 0 {
		o.logger.Warn(context.Background(), "patterns reference tools without contracts", zap.Int("gaps", len(gaps)))
	}
	return e, nil
}

// RunPattern executes p. See orchestrator.Executor.Run for error semantics.
func (e *Engine) RunPattern(ctx context.Context, p pattern.Pattern, input, runCtx map[string]any) (*orchestrator.Summary, error) {
	return e.executor.Run(ctx, p, input, runCtx)
}

// RunPatternByID executes a catalogued pattern.
func (e *Engine) RunPatternByID(ctx context.Context, id string, input, runCtx map[string]any) (*orchestrator.Summary, error) {
	p, err := e.patterns.Get(id)
	if err != nil {
		return nil, err
	}
	return e.RunPattern(ctx, p, input, runCtx)
}

// GetMetrics returns verification metrics for toolName, or for every tool
// when toolName is empty.
func (e *Engine) GetMetrics(toolName string) []metrics.VerificationMetricRecord {
	return e.collector.Query(toolName)
}

// GetProcessMetrics returns verification metrics for processID, or for
// every process when processID is empty.
func (e *Engine) GetProcessMetrics(processID string) []metrics.VerificationMetricRecord {
	return e.collector.QueryProcess(processID)
}

// Patterns lists the catalogued patterns sorted by id.
func (e *Engine) Patterns() []pattern.Pattern {
	return e.patterns.List()
}

// Pattern returns one catalogued pattern.
func (e *Engine) Pattern(id string) (pattern.Pattern, error) {
	return e.patterns.Get(id)
}

// Contracts lists the registered contracts sorted by tool name.
func (e *Engine) Contracts() []contract.ToolContract {
	names := e.contracts.Tools()
	out := make([]contract.ToolContract, 0, len(names))
	for _, name := range names {
		if c := e.contracts.Get(name); c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// Audit reports catalogued steps whose tool has no contract for the
// pattern's process.
func (e *Engine) Audit() []pattern.Gap {
	return pattern.Audit(e.contracts, e.patterns.List())
}

// ErrRunsNotRecorded is returned by Runs when run recording is off.
var ErrRunsNotRecorded = errors.New("run recording is disabled")

// Runs lists recorded runs of patternID, or of every pattern when empty.
func (e *Engine) Runs(ctx context.Context, patternID string) ([]store.Row, error) {
	if e.recorder == nil {
		return nil, ErrRunsNotRecorded
	}
	return e.recorder.Runs(ctx, patternID)
}

// Close releases the store when it holds resources.
func (e *Engine) Close() error {
	if c, ok := e.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
