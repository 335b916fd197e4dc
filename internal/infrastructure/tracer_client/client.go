// Package tracer_client owns the process-wide OpenTelemetry tracer provider.
// Without NewTracerClient every tracer is the global no-op one.
package tracer_client

import (
	"context"
	"sync"
	"time"

	"github.com/okieraised/relay-controller/internal/config"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

const instrumentationPrefix = "relayctl/"

var (
	mu sync.RWMutex
	tp *sdktrace.TracerProvider
)

type Options struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
	InstanceID  string
	SampleRatio float64
	Timeout     time.Duration
}

type Option func(*Options)

func WithEndpoint(ep string) Option { return func(o *Options) { o.Endpoint = ep } }
func WithInsecure(insecure bool) Option { return func(o *Options) { o.Insecure = insecure } }
func WithServiceName(name string) Option { return func(o *Options) { o.ServiceName = name } }
func WithInstanceID(id string) Option { return func(o *Options) { o.InstanceID = id } }
func WithSampleRatio(r float64) Option { return func(o *Options) { o.SampleRatio = r } }
func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }

// OptionsFromViper reads the tracing.* keys.
func OptionsFromViper() []Option {
	return []Option{
		WithEndpoint(viper.GetString(config.TracingEndpoint)),
		WithInsecure(config.Bool(config.TracingInsecure, true)),
		WithServiceName(config.String(config.TracingServiceName, constants.DefaultSystemName)),
		WithInstanceID(viper.GetString(config.ControllerID)),
		WithSampleRatio(config.Float(config.TracingSampleRatio, 1)),
	}
}

// NewTracerClient installs an OTLP/gRPC exporting provider as the global one.
// Calling it again replaces the provider after shutting the old one down.
func NewTracerClient(opts ...Option) error {
	opt := Options{SampleRatio: 1, Timeout: 10 * time.Second}
	for _, o := range opts {
		o(&opt)
	}
	if opt.Endpoint == "" {
		return errors.New("tracing endpoint is empty")
	}
	if opt.SampleRatio < 0 || opt.SampleRatio > 1 {
		return errors.Errorf("tracing sample ratio %v outside [0,1]", opt.SampleRatio)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opt.Timeout)
	defer cancel()

	dialOpts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{PermitWithoutStream: true}),
	}
	if opt.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	exp, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(opt.Endpoint),
		otlptracegrpc.WithDialOption(dialOpts...),
	))
	if err != nil {
		return errors.Wrap(err, "create otlp trace exporter")
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(opt.ServiceName),
			semconv.ServiceInstanceID(opt.InstanceID),
		),
	)
	if err != nil {
		return errors.Wrap(err, "create trace resource")
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opt.SampleRatio))),
		sdktrace.WithBatcher(exp,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithExportTimeout(10*time.Second),
		),
	)

	mu.Lock()
	old := tp
	tp = provider
	mu.Unlock()
	if old != nil {
		_ = old.Shutdown(ctx)
	}

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

// Tracer returns the named tracer of the installed provider, or the global one.
func Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	if tp == nil {
		return otel.Tracer(instrumentationPrefix+name, opts...)
	}
	return tp.Tracer(instrumentationPrefix+name, opts...)
}

// Shutdown flushes pending spans. It is a no-op when tracing was never started.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	provider := tp
	tp = nil
	mu.Unlock()
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}
