package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"topicsnap/internal/logging"
)

// Metrics covers drains and publishes. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Drains         *prometheus.CounterVec
	DrainDuration  *prometheus.HistogramVec
	Polls          *prometheus.CounterVec
	Records        *prometheus.CounterVec
	DecodeSkipped  *prometheus.CounterVec
	Published      *prometheus.CounterVec
	PublishErrors  *prometheus.CounterVec
	PartitionsLeft *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Drains: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "topicsnap", Name: "drains_total",
			Help: "Drain operations by mode and outcome.",
		}, []string{"mode", "outcome"}),
		DrainDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "topicsnap", Name: "drain_duration_seconds",
			Help:    "Wall time of one drain operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		Polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "topicsnap", Name: "polls_total",
			Help: "Fetch calls issued by the drain loop.",
		}, []string{"result"}),
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "topicsnap", Name: "records_total",
			Help: "Records fed to reducers.",
		}, []string{"topic"}),
		DecodeSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "topicsnap", Name: "decode_skipped_total",
			Help: "Records dropped because their payload could not be decoded.",
		}, []string{"topic"}),
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "topicsnap", Name: "published_total",
			Help: "Messages handed to the producer.",
		}, []string{"topic"}),
		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "topicsnap", Name: "publish_errors_total",
			Help: "Hand-off or asynchronous delivery failures.",
		}, []string{"topic"}),
		PartitionsLeft: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "topicsnap", Name: "partitions_undrained",
			Help: "Target partitions not yet at their end offset in the running drain.",
		}, []string{"mode"}),
	}
}

func (m *Metrics) ObserveDrain(mode, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Drains.WithLabelValues(mode, outcome).Inc()
	m.DrainDuration.WithLabelValues(mode).Observe(took.Seconds())
}

func (m *Metrics) ObservePoll(n int) {
	if m == nil {
		return
	}
	result := "records"
	if n == 0 {
		result = "empty"
	}
	m.Polls.WithLabelValues(result).Inc()
}

func (m *Metrics) AddRecords(topic string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Records.WithLabelValues(topic).Add(float64(n))
}

func (m *Metrics) SkipRecord(topic string) {
	if m == nil {
		return
	}
	m.DecodeSkipped.WithLabelValues(topic).Inc()
}

func (m *Metrics) SetUndrained(mode string, n int) {
	if m == nil {
		return
	}
	m.PartitionsLeft.WithLabelValues(mode).Set(float64(n))
}

func (m *Metrics) ObservePublish(topic string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PublishErrors.WithLabelValues(topic).Inc()
		return
	}
	m.Published.WithLabelValues(topic).Inc()
}

// Expose serves /metrics for g on port in the background. The returned
// server is nil when port is 0.
func Expose(port int, g prometheus.Gatherer) *http.Server {
	if port == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("metrics: listener stopped", "port", port, "err", err)
		}
	}()
	return srv
}
