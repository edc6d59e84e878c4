// Package metrics registra los collectors Prometheus de mandato.
//
// Vive en un paquete propio para que authz, webhook y http puedan reportar
// sin importarse entre sí.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/domain/types"
)

var (
	registerOnce sync.Once

	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        *prometheus.GaugeVec

	// Dominio
	verificationsTotal     *prometheus.CounterVec
	verificationDuration   *prometheus.HistogramVec
	statusTransitionsTotal *prometheus.CounterVec
	deliveryAttemptsTotal  *prometheus.CounterVec
	deliveryDuration       *prometheus.HistogramVec
	inboundEventsTotal     *prometheus.CounterVec
)

// Config dependencias para exponer /metrics.
type Config struct {
	Registry prometheus.Registerer
	Gatherer prometheus.Gatherer
	// Pool opcional: expone gauges del pool de postgres.
	Pool func() *pgxpool.Pool
}

// Register inicializa los collectors (una sola vez por proceso) y devuelve el handler de /metrics.
func Register(cfg Config) (http.Handler, error) {
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "route", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})

		httpInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Requests en vuelo por método",
		}, []string{"method"})

		verificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mandato_verifications_total",
			Help: "Verificaciones por protocolo y resultado",
		}, []string{"protocol", "status"})

		verificationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mandato_verification_duration_seconds",
			Help:    "Duración de la verificación (incluye resolución de claves)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"protocol"})

		statusTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mandato_status_transitions_total",
			Help: "Transiciones de status de autorizaciones",
		}, []string{"protocol", "from", "to"})

		deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mandato_webhook_delivery_attempts_total",
			Help: "Intentos de entrega de webhooks salientes por resultado",
		}, []string{"event_type", "status"})

		deliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mandato_webhook_delivery_duration_seconds",
			Help:    "Duración de cada intento de entrega",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"event_type"})

		inboundEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mandato_inbound_events_total",
			Help: "Webhooks entrantes del PSP por resultado",
		}, []string{"event_type", "result"}) // result: processed|already_processed|not_found|invalid|signature_invalid|error
	})

	// los collectors son únicos por proceso; el registry puede variar (tests)
	for _, c := range []prometheus.Collector{
		httpRequestsTotal, httpRequestDuration, httpInflight,
		verificationsTotal, verificationDuration, statusTransitionsTotal,
		deliveryAttemptsTotal, deliveryDuration, inboundEventsTotal,
	} {
		if err := registerCollector(registry, c); err != nil {
			return nil, err
		}
	}

	if cfg.Pool != nil {
		if err := registerCollector(registry, newPoolCollector(cfg.Pool)); err != nil {
			return nil, err
		}
	}

	if cfg.Gatherer != nil {
		return promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}), nil
	}
	return promhttp.Handler(), nil
}

// registerCollector registra el collector en el registry indicado, ignorando duplicados.
func registerCollector(reg prometheus.Registerer, collector prometheus.Collector) error {
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// ─── HTTP ───

// HTTPStarted incrementa el gauge de requests en vuelo. Devuelve la función que lo cierra.
func HTTPStarted(method string) func() {
	if httpInflight == nil {
		return func() {}
	}
	g := httpInflight.WithLabelValues(method)
	g.Inc()
	return g.Dec
}

// ObserveHTTP registra un request terminado. route es el patrón (no el path) para acotar cardinalidad.
func ObserveHTTP(method, route, status string, took time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

// ─── Dominio ───

// Recorder implementa los observers de authz y webhook.
type Recorder struct{}

func (Recorder) VerificationCompleted(protocol types.Protocol, status types.VerificationStatus, took time.Duration) {
	if verificationsTotal == nil {
		return
	}
	verificationsTotal.WithLabelValues(string(protocol), string(status)).Inc()
	verificationDuration.WithLabelValues(string(protocol)).Observe(took.Seconds())
}

func (Recorder) StatusChanged(protocol types.Protocol, from, to types.Status) {
	if statusTransitionsTotal != nil {
		statusTransitionsTotal.WithLabelValues(string(protocol), string(from), string(to)).Inc()
	}
}

func (Recorder) DeliveryAttempted(eventType string, status repository.DeliveryStatus, took time.Duration) {
	if deliveryAttemptsTotal == nil {
		return
	}
	deliveryAttemptsTotal.WithLabelValues(eventType, string(status)).Inc()
	deliveryDuration.WithLabelValues(eventType).Observe(took.Seconds())
}

func (Recorder) InboundProcessed(eventType, result string) {
	if inboundEventsTotal != nil {
		if eventType == "" {
			eventType = "unknown"
		}
		inboundEventsTotal.WithLabelValues(eventType, result).Inc()
	}
}

// ─── Pool ───

// poolCollector expone gauges del pool global de postgres.
type poolCollector struct {
	pool func() *pgxpool.Pool

	acquiredDesc *prometheus.Desc
	idleDesc     *prometheus.Desc
	totalDesc    *prometheus.Desc
}

func newPoolCollector(pool func() *pgxpool.Pool) *poolCollector {
	return &poolCollector{
		pool:         pool,
		acquiredDesc: prometheus.NewDesc("pg_pool_acquired", "Conexiones adquiridas", nil, nil),
		idleDesc:     prometheus.NewDesc("pg_pool_idle", "Conexiones inactivas", nil, nil),
		totalDesc:    prometheus.NewDesc("pg_pool_total", "Conexiones totales", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredDesc
	ch <- c.idleDesc
	ch <- c.totalDesc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	p := c.pool()
	if p == nil {
		return
	}
	stat := p.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(stat.TotalConns()))
}
