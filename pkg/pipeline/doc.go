/*
Package pipeline ties a single source's (repository, date, ports,
cpu_cores) to the right collector, unifier and analyser, and runs the
requested stages in their canonical Collect < Filter < Unify < Analyse
order, threading each stage's output into the next.

If Collect ran in the same invocation, its datasets feed Unify
directly; otherwise Unify (and, in turn, Analyse) rediscovers the
datasets it needs from disk. Each stage can also be driven standalone
through Manager's Collect/Unify/Analyse methods, which do the same
on-disk discovery.
*/
package pipeline
