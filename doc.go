// Package gpkgsink materializes city model entities into GeoPackage files.
//
// A run consumes a stream of parsed entities, classifies them into feature
// and attribute records, creates one GeoPackage per feature type on first
// sight, folds attribute records into their parent features, writes every
// table in a single transaction, updates the table extents and bundles the
// files into one zip archive, which can optionally be uploaded to S3 or
// Google Cloud Storage.
//
// # Quick Start
//
//	gpkgsink run --input entities.jsonl --schema schema.json --output out/
//
// or, in process:
//
//	import (
//	    "github.com/ajitpratap0/gpkgsink/internal/sink"
//	    "github.com/ajitpratap0/gpkgsink/pkg/config"
//	    "github.com/ajitpratap0/gpkgsink/pkg/feedback"
//	)
//
//	cfg := config.NewConfig()
//	cfg.Output.Dir = "out"
//
//	s, _ := sink.New(cfg, log)
//	canc := feedback.NewCanceller(ctx)
//	report, err := s.Run(feedback.New(log, canc), parcels, schema)
//
// # Key Packages
//
//	internal/sink     - producers, consumer, merge, write and bbox stages
//	internal/gpkg     - SQLite-backed GeoPackage store
//	internal/packager - zip archive of the per-type files
//	internal/publish  - S3 and GCS upload of the archive
//	pkg/geometry      - indexed multipolygons to GeoPackage geometry blobs
//	pkg/entity        - entity model, schema and JSON-lines decoder
//	pkg/feedback      - progress messages and cooperative cancellation
//	pkg/config        - run configuration
//	pkg/sinkerrors    - structured error handling
//	pkg/logger        - structured logging
//	pkg/metrics       - Prometheus collectors
//
// # Output
//
// Each feature type becomes a file named after its localized display name
// (for example bldg:Building becomes 建築物.gpkg) holding one feature table
// with fid, object_id, a MULTIPOLYGON Z geometry column, the schema's
// declared columns and one TEXT column per attribute discovered while
// writing. The files are removed once the archive is complete.
package gpkgsink
