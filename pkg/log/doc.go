/*
Package log provides structured logging for cevast using zerolog.

Every subsystem — certstore, dataset, unify, analyse, pipeline — gets
its own child logger via WithComponent so log lines can be filtered by
stage without touching call sites:

	logger := log.WithComponent("certstore")
	logger.Info().Str("storage", path).Msg("store opened")

Init must be called once at process start (the CLI does this from
persistent flags); library code that never calls Init still gets a
usable info-level console logger via this package's own init().
*/
package log
