package commands

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	logging "github.com/ipfs/go-log/v2"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/zpages"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/polymesh-project/prism/metrics"
	"github.com/polymesh-project/prism/version"
)

var log = logging.Logger("prism/commands")

type LogOpts struct {
	LogLevel      string
	LogLevelNamed string
}

var LogFlags LogOpts

type TracingOpts struct {
	Enabled     bool
	ServiceName string
	EndpointURL string
}

var TracingFlags TracingOpts

type MetricOpts struct {
	PrometheusPort string
}

var MetricFlags MetricOpts

func setupLogging(flags LogOpts) error {
	ll := flags.LogLevel
	if err := logging.SetLogLevel("*", ll); err != nil {
		return fmt.Errorf("set log level: %w", err)
	}

	llnamed := flags.LogLevelNamed
	if llnamed != "" {
		for _, llname := range strings.Split(llnamed, ",") {
			parts := strings.Split(llname, ":")
			if len(parts) != 2 {
				return fmt.Errorf("invalid named log level format: %q", llname)
			}
			if err := logging.SetLogLevel(parts[0], parts[1]); err != nil {
				return fmt.Errorf("set named log level %q to %q: %w", parts[0], parts[1], err)
			}
		}
	}

	log.Infof("prism version:%s", version.String())

	return nil
}

func setupMetrics(flags MetricOpts) error {
	registry := prom.NewRegistry()
	goCollector := collectors.NewGoCollector()
	procCollector := collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})
	pe, err := prometheus.NewExporter(prometheus.Options{
		Namespace: "prism",
		Registry:  registry,
	})
	if err != nil {
		return err
	}

	registry.MustRegister(goCollector, procCollector)

	// register prometheus with opencensus
	view.RegisterExporter(pe)
	view.SetReportingPeriod(2 * time.Second)

	// register the metrics views of interest
	if err := view.Register(metrics.DefaultViews...); err != nil {
		return err
	}

	go func() {
		mux := http.NewServeMux()
		zpages.Handle(mux, "/debug")
		mux.Handle("/metrics", pe)
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		mux.Handle("/debug/pprof/block", pprof.Handler("block"))
		mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
		mux.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))
		mux.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
		log.Infof("serving metrics on %s", flags.PrometheusPort)
		if err := http.ListenAndServe(flags.PrometheusPort, mux); err != nil {
			log.Fatalf("failed to run Prometheus /metrics endpoint: %v", err)
		}
	}()
	return nil
}

func setupTracing(ctx context.Context, flags TracingOpts) error {
	if !flags.Enabled {
		return nil
	}

	var opts []otlptracehttp.Option
	if flags.EndpointURL != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(flags.EndpointURL))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(sdkresource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(flags.ServiceName),
			semconv.ServiceVersion(version.String()),
		)),
	)
	otel.SetTracerProvider(tp)

	return nil
}
