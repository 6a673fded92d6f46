// Package dbos is the public entry point for the durable execution core:
// Launch a *DBOS from a Config, register workflows against it, and start,
// recover or await them. Everything below is a thin, user-facing wrapper
// over the internal engine.
package dbos

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/facebookgo/clock"
	"github.com/opentracing/opentracing-go"
	jaeger "github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/dbos-inc/dbos-transact-go/appdb"
	"github.com/dbos-inc/dbos-transact-go/config"
	"github.com/dbos-inc/dbos-transact-go/internal"
	"github.com/dbos-inc/dbos-transact-go/notify"
	"github.com/dbos-inc/dbos-transact-go/systemdb"

	"github.com/jackc/pgx/v4/pgxpool"
)

// DBOS is a running instance: one engine, one registry, one set of
// durability stores, shared by every workflow it executes.
type DBOS struct {
	engine *internal.Engine
	closer io.Closer
}

// Option customizes Launch before the engine starts serving workflows.
type Option func(*launchOptions)

type launchOptions struct {
	bus        notify.Bus
	tracer     opentracing.Tracer
	logger     *zap.Logger
	scope      tally.Scope
	serializer internal.Serializer
	inMemory   bool
	appVersion string
}

// WithTracer overrides the default jaeger-client-go tracer.
func WithTracer(tracer opentracing.Tracer) Option {
	return func(o *launchOptions) { o.tracer = tracer }
}

// WithAppVersion sets the app_version recorded on every workflow status row.
func WithAppVersion(version string) Option {
	return func(o *launchOptions) { o.appVersion = version }
}

// WithNotificationBus overrides the default in-memory bus with one shared
// across processes (e.g. notify.NewRedisBus).
func WithNotificationBus(bus notify.Bus) Option {
	return func(o *launchOptions) { o.bus = bus }
}

// WithLogger overrides the default production zap.Logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *launchOptions) { o.logger = logger }
}

// WithMetricsScope overrides the default no-op tally.Scope.
func WithMetricsScope(scope tally.Scope) Option {
	return func(o *launchOptions) { o.scope = scope }
}

// WithSerializer overrides the default JSON Serializer.
func WithSerializer(s internal.Serializer) Option {
	return func(o *launchOptions) { o.serializer = s }
}

// WithInMemoryStores launches against systemdb.MemorySystemDatabase and
// appdb.MemoryApplicationDatabase instead of Postgres, for tests and
// single-process examples that have no database available.
func WithInMemoryStores() Option {
	return func(o *launchOptions) { o.inMemory = true }
}

// Launch constructs the durability stores, ambient stack and worker pool
// described by cfg and returns a *DBOS ready for RegisterWorkflow calls.
// Every call into the returned DBOS before Launch returns is, by
// construction, impossible: there is nothing to call it on yet.
func Launch(ctx context.Context, cfg *config.Config, opts ...Option) (*DBOS, error) {
	if cfg == nil {
		return nil, fmt.Errorf("dbos: launch requires a non-nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &launchOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		var err error
		o.logger, err = zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("dbos: build logger: %w", err)
		}
	}
	if o.scope == nil {
		o.scope = tally.NoopScope
	}
	if o.serializer == nil {
		o.serializer = internal.DefaultSerializer
	}
	if o.bus == nil {
		o.bus = notify.NewLocalBus()
	}
	var tracerCloser io.Closer
	if o.tracer == nil {
		tracer, closer, err := defaultTracer(cfg.Name)
		if err != nil {
			o.logger.Warn("tracing disabled: failed to build jaeger tracer", zap.Error(err))
			o.tracer = opentracing.NoopTracer{}
		} else {
			o.tracer = tracer
			tracerCloser = closer
		}
	}

	sysDB, appDB, err := buildStores(ctx, cfg, o)
	if err != nil {
		return nil, err
	}

	pool := internal.NewWorkerPool(cfg.Runtime.Workers, cfg.Runtime.StartRatePerSecond, o.logger)

	appVersion := o.appVersion
	if appVersion == "" {
		appVersion = internal.AppVersionUnset
	}

	engine := &internal.Engine{
		Name:       cfg.Name,
		AppVersion: appVersion,
		ExecutorID: executorID(),
		SysDB:      sysDB,
		AppDB:      appDB,
		Registry:   internal.NewRegistry(),
		Serializer: o.serializer,
		Logger:     o.logger,
		Scope:      o.scope,
		Tracer:     o.tracer,
		Clock:      clock.New(),
		Pool:       pool,
	}

	return &DBOS{engine: engine, closer: tracerCloser}, nil
}

func buildStores(ctx context.Context, cfg *config.Config, o *launchOptions) (internal.SystemDatabase, internal.ApplicationDatabase, error) {
	if o.inMemory {
		return systemdb.NewMemorySystemDatabase(o.bus), appdb.NewMemoryApplicationDatabase(), nil
	}

	sysPool, err := pgxpool.Connect(ctx, cfg.Database.DSN(cfg.Database.SysDBName))
	if err != nil {
		return nil, nil, fmt.Errorf("dbos: connect system database: %w", err)
	}
	appPool, err := pgxpool.Connect(ctx, cfg.Database.DSN(cfg.Database.AppDBName))
	if err != nil {
		return nil, nil, fmt.Errorf("dbos: connect application database: %w", err)
	}
	sysDB := systemdb.NewPostgresSystemDatabase(sysPool, o.bus, o.logger)
	appDB := appdb.NewPostgresApplicationDatabase(appPool)
	return sysDB, appDB, nil
}

func defaultTracer(serviceName string) (opentracing.Tracer, io.Closer, error) {
	jcfg := jaegercfg.Configuration{
		ServiceName: serviceName,
		Sampler:     &jaegercfg.SamplerConfig{Type: jaeger.SamplerTypeConst, Param: 1},
		Reporter:    &jaegercfg.ReporterConfig{LogSpans: false},
	}
	return jcfg.NewTracer()
}

// Shutdown drains the worker pool, flushes buffered status writes and
// closes the durability stores.
func (d *DBOS) Shutdown(ctx context.Context) error {
	if err := d.engine.Pool.Shutdown(ctx); err != nil {
		d.engine.Logger.Warn("worker pool did not drain cleanly", zap.Error(err))
	}
	if err := d.engine.SysDB.Shutdown(ctx); err != nil {
		return fmt.Errorf("dbos: shutdown system database: %w", err)
	}
	if err := d.engine.AppDB.Shutdown(ctx); err != nil {
		return fmt.Errorf("dbos: shutdown application database: %w", err)
	}
	if d.closer != nil {
		_ = d.closer.Close()
	}
	return d.engine.Logger.Sync()
}

func executorID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "local"
	}
	return host
}
