package nighthawk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/nighthawk/bus"
	"github.com/petal-labs/nighthawk/config"
	"github.com/petal-labs/nighthawk/core"
	"github.com/petal-labs/nighthawk/executor"
	"github.com/petal-labs/nighthawk/llmprovider"
	nhotel "github.com/petal-labs/nighthawk/otel"
	"github.com/petal-labs/nighthawk/render"
	"github.com/petal-labs/nighthawk/runtime"
)

const instrumentationName = "github.com/petal-labs/nighthawk"

// SetupOptions overrides parts of the stack Setup builds.
type SetupOptions struct {
	// Client replaces the provider client named by the configuration.
	Client core.LLMClient
	// Executor replaces the agent executor entirely.
	Executor any
	// SpanExporter replaces the OTLP exporter built from otel.endpoint.
	SpanExporter sdktrace.SpanExporter
	// MetricReader enables step metrics when set.
	MetricReader sdkmetric.Reader
	Logger       *slog.Logger
}

// Stack is the executor and event plumbing built from a configuration.
// Close releases everything it started.
type Stack struct {
	Executor any
	Bus      *bus.MemBus
	// Store is nil unless trace.dsn is set.
	Store  *bus.SQLiteEventStore
	Pruner *bus.Pruner
	// Forwarder is nil unless trace.nats_url is set.
	Forwarder *bus.NATSForwarder
	Tracing   *nhotel.TracingHandler
	Metrics   *nhotel.MetricsHandler

	logger         *slog.Logger
	opts           []runtime.Option
	pumps          []<-chan struct{}
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// Setup builds the default stack for cfg:
//   - an agent executor over the configured provider,
//   - an in-memory event bus,
//   - a SQLite trace store with scheduled pruning when trace.dsn is set,
//   - a NATS forwarder when trace.nats_url is set,
//   - OpenTelemetry tracing when otel.endpoint is set, and metrics when a
//     reader is given.
func Setup(ctx context.Context, cfg *config.Config, opts SetupOptions) (*Stack, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Stack{logger: logger, Bus: bus.NewMemBus(bus.MemBusConfig{})}
	if err := s.setup(ctx, cfg, opts); err != nil {
		_ = s.Close(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Stack) setup(ctx context.Context, cfg *config.Config, opts SetupOptions) error {
	exec, err := newExecutor(cfg, opts, s.logger)
	if err != nil {
		return err
	}
	s.Executor = exec

	s.opts = append(s.opts,
		runtime.WithLimits(cfg.CoreLimits()),
		runtime.WithLogger(s.logger),
		runtime.WithEventBus(s.Bus),
	)

	if cfg.Trace.DSN != "" {
		store, err := bus.NewSQLiteEventStore(cfg.Trace.DSN)
		if err != nil {
			return fmt.Errorf("opening trace store: %w", err)
		}
		s.Store = store
		s.pump(bus.NewStoreSubscriber(store, s.logger).Handle)

		if retention := cfg.RetentionDuration(); retention > 0 {
			pruner, err := bus.NewPruner(store, retention, cfg.Trace.PruneSchedule, s.logger)
			if err != nil {
				return err
			}
			s.Pruner = pruner
			pruner.Start()
		}
	}

	if cfg.Trace.NATSURL != "" {
		fwd, err := bus.NewNATSForwarder(cfg.Trace.NATSURL, cfg.Trace.NATSSubject, s.logger)
		if err != nil {
			return err
		}
		s.Forwarder = fwd
		s.pump(fwd.Handle)
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.OTel.ServiceName))

	exporter := opts.SpanExporter
	if exporter == nil && cfg.OTel.Endpoint != "" {
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTel.Endpoint))
		if err != nil {
			return fmt.Errorf("creating OTLP exporter: %w", err)
		}
	}
	var handlers []runtime.EventHandler
	if exporter != nil {
		s.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		s.Tracing = nhotel.NewTracingHandler(s.tracerProvider.Tracer(instrumentationName))
		handlers = append(handlers, s.Tracing.Handle)
		s.opts = append(s.opts, runtime.WithEmitterDecorator(nhotel.Decorator(s.Tracing)))
	}

	if opts.MetricReader != nil {
		s.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(opts.MetricReader),
			sdkmetric.WithResource(res),
		)
		metrics, err := nhotel.NewMetricsHandler(s.meterProvider.Meter(instrumentationName))
		if err != nil {
			return fmt.Errorf("creating metrics handler: %w", err)
		}
		s.Metrics = metrics
		handlers = append(handlers, metrics.Handle)
	}

	// Span handlers run inline: the decorator reads the span they open.
	if len(handlers) > 0 {
		s.opts = append(s.opts, runtime.WithEventHandler(runtime.MultiEventHandler(handlers...)))
	}
	return nil
}

func newExecutor(cfg *config.Config, opts SetupOptions, logger *slog.Logger) (any, error) {
	if opts.Executor != nil {
		return opts.Executor, nil
	}
	client := opts.Client
	if client == nil {
		var err error
		client, err = llmprovider.NewClient(cfg.Provider, llmprovider.ProviderConfig{APIKey: cfg.APIKey})
		if err != nil {
			return nil, err
		}
	}
	return executor.NewAgentExecutor(executor.AgentConfig{
		Client:      client,
		Model:       cfg.Model,
		MaxTurns:    cfg.Executor.MaxTurns,
		Temperature: cfg.Executor.Temperature,
		MaxTokens:   cfg.Executor.MaxTokens,
		Tokenizer:   render.NewTokenizer(cfg.Model, cfg.TokenizerEncoding, logger),
		Redaction:   cfg.RedactionPolicy(),
		Logger:      logger,
	})
}

// pump delivers every bus event to handler on its own goroutine.
func (s *Stack) pump(handler runtime.EventHandler) {
	s.pumps = append(s.pumps, bus.Pump(s.Bus.SubscribeAll(), handler))
}

// Options returns the environment options that attach a run to the stack.
func (s *Stack) Options() []Option {
	return append([]Option(nil), s.opts...)
}

// NewEnvironment creates an environment around the stack's executor.
// Extra options are applied after the stack's own.
func (s *Stack) NewEnvironment(opts ...Option) (*Environment, error) {
	return runtime.NewEnvironment(s.Executor, append(s.Options(), opts...)...)
}

// Run executes fn in a fresh run on the stack.
func (s *Stack) Run(ctx context.Context, fn func(ctx context.Context) error, opts ...Option) error {
	return runtime.Run(ctx, s.Executor, fn, append(s.Options(), opts...)...)
}

// Close stops the pruner, drains pending events into the store and the
// forwarder, then flushes and shuts down the telemetry providers.
func (s *Stack) Close(ctx context.Context) error {
	if s.Pruner != nil {
		s.Pruner.Stop()
	}
	var errs []error
	if s.Bus != nil {
		errs = append(errs, s.Bus.Close())
	}
	for _, done := range s.pumps {
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	if s.Forwarder != nil {
		errs = append(errs, s.Forwarder.Close())
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.tracerProvider != nil {
		errs = append(errs, s.tracerProvider.Shutdown(ctx))
	}
	if s.meterProvider != nil {
		errs = append(errs, s.meterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
