package telgpt

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "telgpt"

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// Metrics holds the bot's Prometheus collectors. Each instance has its
// own registry.
type Metrics struct {
	registry *prometheus.Registry

	providerRequests *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec

	// routed counts units of work by route and final outcome
	routed *prometheus.CounterVec

	// busyRefusals counts messages refused because the channel was
	// mid-answer
	busyRefusals prometheus.Counter

	statusNotices *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	gatewayEvents *prometheus.CounterVec
	inFlight      prometheus.Gauge
	startTime     prometheus.Gauge
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.providerRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provider_requests_total",
			Help:      "Total number of provider requests",
		},
		[]string{"provider", "operation", "outcome"},
	)

	m.providerDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of provider requests in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider", "operation"},
	)

	m.routed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "routed_total",
			Help:      "Units of work handled, by route and outcome",
		},
		[]string{"route", "outcome"},
	)

	m.busyRefusals = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "busy_refusals_total",
			Help:      "Messages refused while an answer was in progress",
		},
	)

	m.statusNotices = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "status_notices_total",
			Help:      "Status channel notices, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	m.httpRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "status_server_requests_total",
			Help:      "Status server requests, by method, route and status code",
		},
		[]string{"method", "route", "code"},
	)

	m.gatewayEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "gateway_events_total",
			Help:      "Discord gateway lifecycle events",
		},
		[]string{"event"},
	)

	m.inFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "requests_in_flight",
			Help:      "Units of work currently being handled",
		},
	)

	m.startTime = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "start_time_seconds",
			Help:      "Unix time the bot started",
		},
	)
	m.startTime.SetToCurrentTime()

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) observeProvider(provider string, operation string, start time.Time, err *ProviderError) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
	}
	m.providerRequests.WithLabelValues(provider, operation, outcome).Inc()
	m.providerDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}

// instrumentedProvider records request counts and durations for every
// call to the wrapped Provider
type instrumentedProvider struct {
	Provider
	metrics *Metrics
}

func instrumentProvider(p Provider, m *Metrics) Provider {
	if p == nil || m == nil {
		return p
	}
	return &instrumentedProvider{Provider: p, metrics: m}
}

func (p *instrumentedProvider) Question(
	ctx context.Context,
	model string,
	prompt string,
	systemSetting string,
) ProviderResult[string] {
	start := time.Now()
	r := p.Provider.Question(ctx, model, prompt, systemSetting)
	p.metrics.observeProvider(p.Name(), "question", start, r.Error)
	return r
}

func (p *instrumentedProvider) Conversation(
	ctx context.Context,
	model string,
	messages []Message,
) ProviderResult[string] {
	start := time.Now()
	r := p.Provider.Conversation(ctx, model, messages)
	p.metrics.observeProvider(p.Name(), "conversation", start, r.Error)
	return r
}

func (p *instrumentedProvider) GenerateImage(
	ctx context.Context,
	model string,
	prompt string,
	opts ...ImageOption,
) ProviderResult[ImageResult] {
	start := time.Now()
	r := p.Provider.GenerateImage(ctx, model, prompt, opts...)
	p.metrics.observeProvider(p.Name(), "generate_image", start, r.Error)
	return r
}

func (p *instrumentedProvider) CreateImageVariation(
	ctx context.Context,
	model string,
	imagePath string,
) ProviderResult[ImageResult] {
	start := time.Now()
	r := p.Provider.CreateImageVariation(ctx, model, imagePath)
	p.metrics.observeProvider(p.Name(), "image_variation", start, r.Error)
	return r
}

func (p *instrumentedProvider) CreateIssue(
	ctx context.Context,
	author string,
	title string,
	body string,
) ProviderResult[string] {
	start := time.Now()
	r := p.Provider.CreateIssue(ctx, author, title, body)
	p.metrics.observeProvider(p.Name(), "create_issue", start, r.Error)
	return r
}
