// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports session statistics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/mqttsn-tools/pkg/client"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "mqttsn"

// Collector reads a statistics snapshot on every scrape
type Collector struct {
	stats func() client.Statistics

	packets    *prometheus.Desc
	pings      *prometheus.Desc
	timeouts   *prometheus.Desc
	noReplies  *prometheus.Desc
	malformed  *prometheus.Desc
	violations *prometheus.Desc
	mismatches *prometheus.Desc
	uptime     *prometheus.Desc
}

// NewCollector creates a collector over stats, typically Client.Stats
func NewCollector(namespace string, stats func() client.Statistics) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &Collector{
		stats:      stats,
		packets:    desc("packets_total", "Packets exchanged with the gateway", "direction", "type"),
		pings:      desc("pings_sent_total", "Keep-alive and explicit PINGREQs sent"),
		timeouts:   desc("receive_timeouts_total", "Receive attempts that returned no data"),
		noReplies:  desc("no_reply_total", "Waits that ended without the expected reply"),
		malformed:  desc("malformed_packets_total", "Inbound packets that could not be decoded"),
		violations: desc("protocol_violations_total", "Inbound packets dropped for breaking session framing rules"),
		mismatches: desc("unexpected_packets_total", "Well formed inbound packets nobody waited for"),
		uptime:     desc("session_seconds", "Seconds between session start and the last update"),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packets
	ch <- c.pings
	ch <- c.timeouts
	ch <- c.noReplies
	ch <- c.malformed
	ch <- c.violations
	ch <- c.mismatches
	ch <- c.uptime
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()

	for t, n := range s.Sent {
		ch <- prometheus.MustNewConstMetric(c.packets, prometheus.CounterValue, float64(n), "sent", t.String())
	}
	for t, n := range s.Received {
		ch <- prometheus.MustNewConstMetric(c.packets, prometheus.CounterValue, float64(n), "received", t.String())
	}

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.pings, s.PingsSent)
	counter(c.timeouts, s.ReceiveTimeouts)
	counter(c.noReplies, s.NoReplies)
	counter(c.malformed, s.Malformed)
	counter(c.violations, s.Violations)
	counter(c.mismatches, s.Mismatches)

	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, s.LastUpdateTime.Sub(s.StartTime).Seconds())
}

// NewRegistry returns a registry holding c and the Go runtime collectors
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

// Handler serves the metrics of reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
