package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the Prometheus registry and the scheduling metrics.
type MetricsService struct {
	registry *prometheus.Registry

	httpDuration   *prometheus.HistogramVec
	httpTotal      *prometheus.CounterVec
	tourRequests   *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	bridgeDegraded prometheus.Counter
	syncResults    *prometheus.CounterVec
	liveClients    *prometheus.GaugeVec
}

// NewMetricsService builds the registry with all collectors registered.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	httpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tours_api",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	httpTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tours_api",
		Name:      "http_requests_total",
		Help:      "HTTP request count by route.",
	}, []string{"method", "route", "status"})

	tourRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tours_api",
		Name:      "tour_requests_total",
		Help:      "Tour booking requests by outcome.",
	}, []string{"outcome"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tours_api",
		Name:      "booking_transitions_total",
		Help:      "Booking state transitions by target status.",
	}, []string{"to_status"})

	bridgeDegraded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tours_api",
		Name:      "calendar_bridge_degraded_total",
		Help:      "Availability resolutions served without external calendar data.",
	})

	syncResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tours_api",
		Name:      "calendar_sync_total",
		Help:      "External calendar push results.",
	}, []string{"result"})

	liveClients := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tours_api",
		Name:      "live_clients",
		Help:      "Connected live-event subscribers per topic.",
	}, []string{"topic"})

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpDuration,
		httpTotal,
		tourRequests,
		transitions,
		bridgeDegraded,
		syncResults,
		liveClients,
	)

	return &MetricsService{
		registry:       registry,
		httpDuration:   httpDuration,
		httpTotal:      httpTotal,
		tourRequests:   tourRequests,
		transitions:    transitions,
		bridgeDegraded: bridgeDegraded,
		syncResults:    syncResults,
		liveClients:    liveClients,
	}
}

// ObserveHTTPRequest records one completed HTTP request.
func (s *MetricsService) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	s.httpDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
	s.httpTotal.WithLabelValues(method, route, code).Inc()
}

// CountTourRequest records a requestTour outcome: created, conflict or error.
func (s *MetricsService) CountTourRequest(outcome string) {
	s.tourRequests.WithLabelValues(outcome).Inc()
}

// CountTransition records a successful state-machine move.
func (s *MetricsService) CountTransition(toStatus string) {
	s.transitions.WithLabelValues(toStatus).Inc()
}

// CountBridgeDegraded records an availability resolution that ran without
// external calendar data.
func (s *MetricsService) CountBridgeDegraded() {
	s.bridgeDegraded.Inc()
}

// CountSyncResult records a calendar push result: synced or error.
func (s *MetricsService) CountSyncResult(result string) {
	s.syncResults.WithLabelValues(result).Inc()
}

// SetLiveClients publishes the subscriber count for a topic.
func (s *MetricsService) SetLiveClients(topic string, count int) {
	s.liveClients.WithLabelValues(topic).Set(float64(count))
}

// Handler exposes the registry in Prometheus text format.
func (s *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
