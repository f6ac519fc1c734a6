package config

import (
	"fmt"
	"time"
)

// Output formats understood by the cubing CLI.
const (
	FormatCSV   = "csv"
	FormatJSON  = "json"
	FormatArrow = "arrow"
	FormatAvro  = "avro"
)

// JobConfig describes one CLI build: the cube descriptor, its flat table
// input and where the cuboids go.
type JobConfig struct {
	CubingConfig `yaml:",inline" json:",inline"`

	// CubeDescPath is the YAML cube descriptor
	CubeDescPath string       `yaml:"cube_desc" json:"cube_desc"`
	Input        InputConfig  `yaml:"input" json:"input"`
	Output       OutputConfig `yaml:"output" json:"output"`
	// Timeout bounds the whole job (0 disables)
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// ReportInterval is how often ingest throughput is logged
	ReportInterval time.Duration `yaml:"report_interval" json:"report_interval"`
}

// InputConfig describes the flat table CSV feeding the builder.
type InputConfig struct {
	Path      string `yaml:"path" json:"path"`
	Delimiter string `yaml:"delimiter" json:"delimiter"`
	HasHeader bool   `yaml:"has_header" json:"has_header"`
	// QueueSize bounds the rows buffered between reader and builder
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// OutputConfig describes the cuboid sink.
type OutputConfig struct {
	Path   string `yaml:"path" json:"path"`
	Format string `yaml:"format" json:"format"`
}

// NewJobConfig creates a JobConfig with default input and output settings.
func NewJobConfig(name string) *JobConfig {
	return &JobConfig{
		CubingConfig: *NewCubingConfig(name),
		Input: InputConfig{
			Delimiter: ",",
			HasHeader: true,
			QueueSize: 10000,
		},
		Output: OutputConfig{
			Format: FormatCSV,
		},
		ReportInterval: 10 * time.Second,
	}
}

// Validate checks the embedded CubingConfig and the job's own fields.
func (j *JobConfig) Validate() error {
	if err := j.CubingConfig.Validate(); err != nil {
		return err
	}
	if j.CubeDescPath == "" {
		return fmt.Errorf("cube_desc is required")
	}
	if j.Input.Path == "" {
		return fmt.Errorf("input.path is required")
	}
	if len(j.Input.Delimiter) != 1 {
		return fmt.Errorf("input.delimiter must be a single character")
	}
	if j.Input.QueueSize <= 0 {
		return fmt.Errorf("input.queue_size must be positive")
	}
	switch j.Output.Format {
	case FormatCSV, FormatJSON, FormatArrow, FormatAvro:
	default:
		return fmt.Errorf("output.format %q is not one of csv, json, arrow, avro", j.Output.Format)
	}
	if j.Output.Path == "" {
		return fmt.Errorf("output.path is required")
	}
	if j.Timeout < 0 || j.ReportInterval < 0 {
		return fmt.Errorf("timeout and report_interval cannot be negative")
	}
	return nil
}
