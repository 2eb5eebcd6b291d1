/*
Package dataset parses and synthesizes the canonical on-disk layout for
ingest artifacts: <repository>/<source>/<state>/<date_id>[_<port>][_<suffix>].<extension>.

A Dataset identifies one logical artifact (a given source, collection
date and optional port) independent of which pipeline stage currently
holds it; Move relocates a file of the same logical artifact into its COLLECTED,
FILTERED, UNIFIED and ANALYSED directories on demand. Repository wraps
a root directory and answers "what do I have for source X" style
queries across all three dimensions at once.
*/
package dataset
