/*
Package types defines the data structures shared by cevast's
certificate store and ingest pipeline packages: certificate and chain
identifiers, dataset state, and the TOML-backed store configuration and
metadata shapes.

# Core Types

Certificates and chains:
  - CertificateID: opaque fingerprint-style identifier
  - Certificate: raw certificate bytes in the store's configured format
  - ChainRecord: a host's presented chain, leaf first

Dataset state:
  - DatasetState: COLLECTED, FILTERED, UNIFIED, ANALYSED
  - Stage: the pipeline stage requested of a Manager, with a fixed
    Collect < Filter < Unify < Analyse ordering

Store configuration:
  - StoreParameters: immutable [PARAMETERS] table of CertFileDB.toml
  - StoreInfo: [INFO] table of the store's metadata file
  - HistoryEntry: one row of the metadata file's [HISTORY] table

# Usage

	params := types.StoreParameters{
		Storage:           "/data/store",
		StructureLevel:    2,
		CertFormat:        types.CertFormatPEM,
		CompressionMethod: types.CompressionDeflated,
		MaintainInfo:      true,
	}

	chain := types.ChainRecord{
		HostID: "192.0.2.10",
		Chain:  []types.CertificateID{"abcd1234", "ef567890"},
	}

These are plain value types. Behavior lives in pkg/certstore,
pkg/dataset, pkg/unify, pkg/verify, pkg/analyse and pkg/pipeline, which
import this package for these shared types.
*/
package types
