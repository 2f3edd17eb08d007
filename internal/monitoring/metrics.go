package monitoring

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
)

var (
	TasksAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversion_tasks_accepted_total",
		Help: "Total number of conversion tasks accepted",
	}, []string{"priority"})

	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversion_tasks_completed_total",
		Help: "Total number of conversion tasks completed",
	}, []string{"status"})

	QueueTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_tasks_total",
		Help: "Tasks dispatched per logical queue",
	}, []string{"queue", "task"})

	ActiveConversions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conversion_active_jobs",
		Help: "Conversion jobs currently in flight",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

var (
	metricsOnce    sync.Once
	metricsStarted bool
)

// EnsureMetricsServer starts the Prometheus endpoint once per process.
// A port already in use is reported but not fatal; another component of the
// same process group may already be exporting.
func EnsureMetricsServer(log *logger.Logger, port int) {
	metricsOnce.Do(func() {
		addr := fmt.Sprintf(":%d", port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) {
				log.Warn("Metrics port unavailable, skipping exporter", "addr", addr, "error", err)
				return
			}
			log.Warn("Metrics listener failed", "addr", addr, "error", err)
			return
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				log.Warn("Metrics server stopped", "error", serveErr)
			}
		}()
		metricsStarted = true
		log.Info("Prometheus metrics server started", "addr", addr)
	})
}

func RecordQueueTask(queue, task string) {
	QueueTasks.WithLabelValues(queue, task).Inc()
}

func RecordTaskAccepted(priority string) {
	TasksAccepted.WithLabelValues(priority).Inc()
}

func RecordTaskCompleted(status string) {
	TasksCompleted.WithLabelValues(status).Inc()
}
