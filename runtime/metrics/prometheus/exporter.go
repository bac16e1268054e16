package prometheus

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultReadHeaderTimeout = 10 * time.Second

// stateClosing is the coordinator state reported while shutting down.
const stateClosing = "closing"

// Exporter serves /metrics and /health over HTTP.
type Exporter struct {
	addr     string
	registry *prometheus.Registry
	state    func() string

	mu      sync.Mutex
	server  *http.Server
	started bool
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithRegistry serves reg instead of a registry holding the FractFlow,
// Go runtime and process collectors.
func WithRegistry(reg *prometheus.Registry) ExporterOption {
	return func(e *Exporter) { e.registry = reg }
}

// WithStateFunc makes /health report the coordinator state returned by fn.
// The endpoint answers 503 once the state is "closing".
func WithStateFunc(fn func() string) ExporterOption {
	return func(e *Exporter) { e.state = fn }
}

// NewExporter returns an exporter for addr. It does not listen until Start.
func NewExporter(addr string, opts ...ExporterOption) *Exporter {
	e := &Exporter{addr: addr}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewSessionRegistry()
		e.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return e
}

// Registry returns the served registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Start serves until Shutdown and then returns http.ErrServerClosed. A
// second call while serving returns nil.
func (e *Exporter) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.server = &http.Server{
		Addr:              e.addr,
		Handler:           e.Mux(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	e.started = true
	srv := e.server
	e.mu.Unlock()

	return srv.ListenAndServe()
}

// Shutdown stops a started exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	e.started = false
	return e.server.Shutdown(ctx)
}

// Mux returns the exporter routes, traced with otelhttp.
func (e *Exporter) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", e.serveHealth)
	return otelhttp.NewHandler(mux, "fractflow.metrics")
}

type healthReport struct {
	Status string `json:"status"`
	State  string `json:"state,omitempty"`
}

func (e *Exporter) serveHealth(w http.ResponseWriter, _ *http.Request) {
	if e.state == nil {
		w.WriteHeader(http.StatusOK)
		// The client may have gone; nothing to do about a failed write.
		_, _ = w.Write([]byte("ok"))
		return
	}

	report := healthReport{Status: "ok", State: e.state()}
	code := http.StatusOK
	if report.State == stateClosing {
		report.Status = "closing"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}
