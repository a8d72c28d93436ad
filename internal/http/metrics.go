package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

const queuePollInterval = 15 * time.Second

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "halloffame",
			Subsystem: "orchestrator",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		r.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "halloffame",
			Subsystem: "orchestrator",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		r.buildSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "halloffame",
			Subsystem: "orchestrator",
			Name:      "build_submissions_total",
			Help:      "Number of build submission outcomes",
		}, []string{"outcome"})

		r.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "halloffame",
			Subsystem: "orchestrator",
			Name:      "build_queue_jobs",
			Help:      "Jobs in the build queue by state",
		}, []string{"state"})

		collectors := []prometheus.Collector{r.requestTotal, r.requestDuration, r.buildSubmissions, r.queueDepth}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch existing := already.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						if collector == r.requestTotal {
							r.requestTotal = existing
						} else {
							r.buildSubmissions = existing
						}
					case *prometheus.HistogramVec:
						r.requestDuration = existing
					case *prometheus.GaugeVec:
						r.queueDepth = existing
					}
				}
			}
		}
		r.metricsInitialized = true
	})
}

func (r *Router) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.metricsInitialized {
			next(w, req)
			return
		}
		recorder := &responseRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)
		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		r.recordRequest(req.Method, route, status, time.Since(start))
	}
}

func (r *Router) recordRequest(method, route string, status int, duration time.Duration) {
	if !r.metricsInitialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestDuration.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordSubmission(outcome string) {
	if !r.metricsInitialized {
		return
	}
	r.buildSubmissions.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// pollQueueDepth samples queue depths until Close is called.
func (r *Router) pollQueueDepth() {
	ticker := time.NewTicker(queuePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopPoll:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			waiting, active, delayed, err := r.stats.Stats(ctx)
			cancel()
			if err != nil {
				r.logger.Warn("queue stats poll failed", "error", err)
				continue
			}
			r.queueDepth.With(prometheus.Labels{"state": "waiting"}).Set(float64(waiting))
			r.queueDepth.With(prometheus.Labels{"state": "active"}).Set(float64(active))
			r.queueDepth.With(prometheus.Labels{"state": "delayed"}).Set(float64(delayed))
		}
	}
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	return rr.ResponseWriter.Write(b)
}

// Hijack lets instrumented handlers upgrade to websocket.
func (rr *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}
