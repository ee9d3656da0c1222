// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the optional metrics sink of spec.md §6, specified by
// interface only so the core never hard-codes a backend. Method names map
// 1:1 onto the metric names in spec.md §6 minus the configurable prefix.
type Metrics interface {
	IncRequests(functionCode byte, status string)
	ObserveRequestDuration(functionCode byte, seconds float64)
	SetConnectionsActive(n int)
	IncRetries()
	IncReconnections()
	SetPipeliningPending(n int)
	IncPipeliningTimeouts()
	IncPipeliningBackpressure()
}

type nopMetrics struct{}

func (nopMetrics) IncRequests(byte, string)            {}
func (nopMetrics) ObserveRequestDuration(byte, float64) {}
func (nopMetrics) SetConnectionsActive(int)             {}
func (nopMetrics) IncRetries()                          {}
func (nopMetrics) IncReconnections()                    {}
func (nopMetrics) SetPipeliningPending(int)             {}
func (nopMetrics) IncPipeliningTimeouts()                {}
func (nopMetrics) IncPipeliningBackpressure()            {}

func nopMetricsIfNil(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

// PromMetrics implements Metrics on top of client_golang. Grounded on
// dittofs's direct dependency on github.com/prometheus/client_golang.
type PromMetrics struct {
	requestsTotal           *prometheus.CounterVec
	requestDuration         *prometheus.HistogramVec
	connectionsActive       prometheus.Gauge
	retriesTotal            prometheus.Counter
	reconnectionsTotal      prometheus.Counter
	pipeliningPending       prometheus.Gauge
	pipeliningTimeouts      prometheus.Counter
	pipeliningBackpressure  prometheus.Counter
}

// NewPromMetrics registers the full metric family under <prefix>_ with the
// given registerer and returns a ready-to-use Metrics implementation.
func NewPromMetrics(reg prometheus.Registerer, prefix string) *PromMetrics {
	m := &PromMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_requests_total",
			Help: "Total Modbus requests by function code and status.",
		}, []string{"function_code", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: prefix + "_request_duration_seconds",
			Help: "Modbus request duration in seconds.",
		}, []string{"function_code"}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_connections_active",
			Help: "Active Modbus connections.",
		}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_retries_total",
			Help: "Total request retries.",
		}),
		reconnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_reconnections_total",
			Help: "Total reconnection attempts.",
		}),
		pipeliningPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_pipelining_pending_requests",
			Help: "Currently pending pipelined requests.",
		}),
		pipeliningTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_pipelining_timeouts_total",
			Help: "Total pipelined request timeouts.",
		}),
		pipeliningBackpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_pipelining_backpressure_total",
			Help: "Total pipelining backpressure rejections.",
		}),
	}
	reg.MustRegister(
		m.requestsTotal, m.requestDuration, m.connectionsActive, m.retriesTotal,
		m.reconnectionsTotal, m.pipeliningPending, m.pipeliningTimeouts, m.pipeliningBackpressure,
	)
	return m
}

func (m *PromMetrics) IncRequests(functionCode byte, status string) {
	m.requestsTotal.WithLabelValues(functionCodeLabel(functionCode), status).Inc()
}

func (m *PromMetrics) ObserveRequestDuration(functionCode byte, seconds float64) {
	m.requestDuration.WithLabelValues(functionCodeLabel(functionCode)).Observe(seconds)
}

func (m *PromMetrics) SetConnectionsActive(n int)      { m.connectionsActive.Set(float64(n)) }
func (m *PromMetrics) IncRetries()                     { m.retriesTotal.Inc() }
func (m *PromMetrics) IncReconnections()               { m.reconnectionsTotal.Inc() }
func (m *PromMetrics) SetPipeliningPending(n int)      { m.pipeliningPending.Set(float64(n)) }
func (m *PromMetrics) IncPipeliningTimeouts()          { m.pipeliningTimeouts.Inc() }
func (m *PromMetrics) IncPipeliningBackpressure()      { m.pipeliningBackpressure.Inc() }

func functionCodeLabel(fc byte) string {
	const hex = "0123456789abcdef"
	return string([]byte{'0', 'x', hex[fc>>4], hex[fc&0x0f]})
}
