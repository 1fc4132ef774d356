// Package metrics holds the auth core's in-process counters and latency
// histograms.
//
// Counters live in cache-line padded slots and are updated with atomic adds;
// histograms use eight fixed buckets (<=5ms .. +Inf). The write path never
// allocates. Exporters under metrics/export read [Snapshot] values and never
// touch the counters directly.
package metrics
