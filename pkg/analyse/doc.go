/*
Package analyse drives registered verifiers over a unified dataset's
chains and writes one CSV row per host.

An Analyser is a scoped resource: construct it with New, Schedule every
chain, then call Done to drain the worker pool and close the output.
With WorkerCount == 0 scheduling runs synchronously on the calling
goroutine; otherwise a bounded pool of goroutines drains a shared job
channel, each export guarded by a lock since the store's single-writer
discipline extends to files exported onto shared disk.
*/
package analyse
