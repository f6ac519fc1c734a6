// Package config provides configuration management for in-memory cube builds.
//
// # Key Features
//
// - CubingConfig: one structure carrying builder, storage, retry and logging knobs
// - JobConfig: a CubingConfig plus the flat table input and cuboid output of a CLI run
// - Environment variable substitution with ${VAR_NAME} syntax
// - Defaults through NewCubingConfig and validation through Validate
//
// # Usage
//
//	var job config.JobConfig
//	if err := config.Load("job.yaml", &job); err != nil {
//		log.Fatal(err)
//	}
//	if err := job.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// ## Environment Variable Substitution
//
//	# job.yaml
//	name: sales
//	storage:
//	  backend: disk
//	  spill_dir: ${CUBE_SPILL_DIR}
//	input:
//	  path: ${FLAT_TABLE}
//
// # Configuration Structure
//
//	type CubingConfig struct {
//		Name          string              `yaml:"name"`
//		Build         BuildConfig         `yaml:"build"`
//		Storage       StorageConfig       `yaml:"storage"`
//		Reliability   ReliabilityConfig   `yaml:"reliability"`
//		Observability ObservabilityConfig `yaml:"observability"`
//	}
//
// - Build: worker goroutines, memory reserve floor, task poll interval, sanity check
// - Storage: memory, disk or hybrid grid table stores and their buffers
// - Reliability: attempts for cuboids failing with out of memory or timeout
// - Observability: metrics endpoint, tracing, log level
package config
