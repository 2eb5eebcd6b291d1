/*
Package certstore implements a certificate store backed by block-level
ZIP archives under a hierarchical-prefix directory layout, plus a
CompositeStore that fans reads and writes out across several stores.

A Store always has an implicit, always-open transaction: Insert and
Delete stage changes in memory, visible immediately to Get/Exists
against the same Store, and only become durable on Commit. Rollback
discards staged changes without touching persisted archives.

Certificates are grouped into blocks by a configurable prefix length
(StructureLevel): all certificates sharing the first StructureLevel+1
characters of their id live in the same ZIP archive, nested
StructureLevel directories deep. This mirrors how a large, flat
namespace of fingerprints is kept from overwhelming the filesystem with
one file per certificate.
*/
package certstore
