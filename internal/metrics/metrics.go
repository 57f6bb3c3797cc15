// Package metrics defines the Prometheus collectors for the mail server
// session, batch operations, outbound mail and the tool HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "emailmcp"

var (
	// IMAPCommandsTotal counts IMAP commands by command and completion
	// status (OK, NO, BAD, or error for transport failures).
	IMAPCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "imap",
			Name:      "commands_total",
			Help:      "Total number of IMAP commands by command and status",
		},
		[]string{"command", "status"},
	)

	IMAPCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "imap",
			Name:      "command_duration_seconds",
			Help:      "IMAP command duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"command"},
	)

	IMAPReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "imap",
			Name:      "reconnects_total",
			Help:      "Total number of transparent session reconnects",
		},
	)

	// SearchFallbacksTotal counts searches answered by a later strategy
	// after the server rejected an earlier one.
	SearchFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "imap",
			Name:      "search_fallbacks_total",
			Help:      "Total number of searches that used a fallback strategy",
		},
		[]string{"strategy"},
	)
)

var (
	BatchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "items_total",
			Help:      "Total number of batch items by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "smtp",
			Name:      "messages_sent_total",
			Help:      "Total number of outbound messages by outcome",
		},
		[]string{"outcome"},
	)

	ArchiveMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "messages_total",
			Help:      "Total number of exported or imported messages by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	// FolderMessages is the last polled message count of a watched folder
	// by kind (total or unread).
	FolderMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "folder",
			Name:      "messages",
			Help:      "Messages in watched folders by kind",
		},
		[]string{"folder", "kind"},
	)
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// ObserveIMAPCommand records one command outcome.
func ObserveIMAPCommand(command, status string, d time.Duration) {
	IMAPCommandsTotal.WithLabelValues(command, status).Inc()
	IMAPCommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
