// Package prometheus exposes auth core metrics as a client_golang Collector.
//
// Counters are named authcore_*_total and latency histograms
// authcore_*_latency_seconds. The collector reads a fresh snapshot on every
// scrape; callers choose the registry it joins.
package prometheus
