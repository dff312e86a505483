// Package metrics accumulates the outcome of every request issued against one
// endpoint and turns it into an [EndpointReport].
//
// # Collector
//
// A [Collector] belongs to a single load driver. Workers of that driver call
// [Collector.Record] once per logical request with the observation and its
// check verdict:
//
//	collector := metrics.NewCollector(desc, 10)
//	collector.Start()
//	collector.Record(i, observed, check.Evaluate(observed, desc.Expected))
//	report := collector.Report(false)
//
// Only aggregate counts persist: attempted/passed/failed totals, a status
// code breakdown, a transport error breakdown, a min/mean/max latency summary
// and the first K failure reasons. Individual observations are dropped as soon
// as they are recorded, so memory stays bounded for large loads.
//
// # Progress
//
// [Collector.Progress] returns a cheap snapshot of the counters for live
// progress displays while the driver is still running.
//
// # Thread Safety
//
// The Collector guards its state with a mutex; it is safe to call Record from
// every worker of the owning driver.
package metrics
