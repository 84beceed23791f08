// Package config provides configuration management for gpkgsink.
//
// A single Config structure carries every setting a materialization run
// needs, grouped into sections:
//
//   - Performance: producer workers and the bounded queue size
//   - Output: target directory, archive name and method, file naming
//   - Sink: per-record error policy
//   - Observability: logging, Prometheus metrics, tracing
//   - Publish: optional upload of the final archive to S3 or GCS
//
// # Usage
//
//	cfg, err := config.LoadFile("gpkgsink.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	cfg.Performance.Workers = 8
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// YAML values may reference environment variables with ${VAR_NAME}; they
// are substituted before parsing.
package config
