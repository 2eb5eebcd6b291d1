/*
Package metrics defines and registers cevast's Prometheus metrics and
exposes them over HTTP for scraping.

Metrics are grouped by subsystem:

  - Store: certificates held, inserts/deletes, commit outcomes and
    duration, existence-cache hit rate
  - Pipeline: per-stage duration and outcome, labeled by source and stage
  - Unifier: certificates read, full vs. broken chains written
  - Analyser: CSV rows written, broken chains skipped, per-method
    verification latency

All metrics are registered against the default Prometheus registry at
package init, the same way every other cevast package wires itself up
on import. Handler returns the promhttp handler to mount under
/metrics; Timer is a small helper for recording operation durations to
a histogram without repeating time.Since bookkeeping at every call
site.
*/
package metrics
