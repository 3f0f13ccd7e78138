// Package metrics collects and exposes Prometheus metrics for the auth service.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Recorder is the metrics surface used by services and middleware.
type Recorder interface {
	RecordRegistration()
	RecordLogin(result string)
	RecordRefresh(result string)
	RecordRefreshReplay()
	RecordPasswordReset()
	RecordSessionsPurged(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	registrations  prometheus.Counter
	logins         *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	refreshReplays prometheus.Counter
	passwordResets prometheus.Counter
	sessionsPurged prometheus.Counter
	httpStatus     *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storeauth_registrations_total",
			Help: "Number of accounts registered.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storeauth_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storeauth_refreshes_total",
			Help: "Refresh token rotations by result.",
		}, []string{"result"}),
		refreshReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storeauth_refresh_replays_total",
			Help: "Reuse of an already rotated refresh token.",
		}),
		passwordResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storeauth_password_resets_total",
			Help: "Completed password resets.",
		}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storeauth_sessions_purged_total",
			Help: "Expired refresh sessions removed by cleanup.",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storeauth_http_status_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.registrations,
		c.logins,
		c.refreshes,
		c.refreshReplays,
		c.passwordResets,
		c.sessionsPurged,
		c.httpStatus,
	)

	return c
}

func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

func (c *Collector) RecordRefresh(result string) {
	c.refreshes.WithLabelValues(result).Inc()
}

func (c *Collector) RecordRefreshReplay() {
	c.refreshReplays.Inc()
}

func (c *Collector) RecordPasswordReset() {
	c.passwordResets.Inc()
}

func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop discards everything. Used when metrics are disabled.
type Noop struct{}

func (Noop) RecordRegistration() {}
func (Noop) RecordLogin(string) {}
func (Noop) RecordRefresh(string) {}
func (Noop) RecordRefreshReplay() {}
func (Noop) RecordPasswordReset() {}
func (Noop) RecordSessionsPurged(int64) {}
func (Noop) RecordHTTPStatus(int) {}
