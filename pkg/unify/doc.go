/*
Package unify turns a raw collected dataset (a certificate dump plus a
host-to-certificate dump) into the pipeline's unified artifact: a
gzip text file with one line per host listing its presented chain,
leaf certificate first.

Certificates are streamed into a certstore.Store; chains are streamed
from the host dump, grouped by consecutive host id, and classified as
full or broken depending on whether every certificate in the chain is
known to the store. A small JSON side file records counters for the
run.
*/
package unify
